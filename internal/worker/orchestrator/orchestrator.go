// Package orchestrator fans one job out into a rendition per selected rung
// and joins on all of them.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"transcoder/internal/ladder"
	"transcoder/internal/media/encoder"
	"transcoder/internal/media/probe"
	"transcoder/internal/pkg/errors"
	"transcoder/internal/pkg/logger"
)

// ErrNoRenditions is returned when Run is given no rungs.
var ErrNoRenditions = errors.New(errors.CodeProbe, "no renditions selected")

// RenditionEncoder encodes a single rendition and always reaches a terminal
// outcome.
type RenditionEncoder interface {
	Encode(ctx context.Context, task encoder.Task, rep encoder.Reporter) encoder.Outcome
}

// Observer is notified of every rendition outcome.
type Observer interface {
	ObserveRendition(out encoder.Outcome)
}

type Deps struct {
	Encoder  RenditionEncoder
	Observer Observer
	Log      *logger.Logger
}

type Orchestrator struct {
	enc      RenditionEncoder
	observer Observer
	log      *logger.Logger
}

func New(d Deps) *Orchestrator {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Orchestrator{enc: d.Encoder, observer: d.Observer, log: log.WithComponent("orchestrator")}
}

// OutputDir is where the rendition for r is written under outputRoot.
func OutputDir(outputRoot string, r ladder.Rung) string {
	return filepath.Join(outputRoot, r.Label)
}

// Run encodes src into every rung concurrently and returns once all tasks
// are terminal. A failing task never cancels its siblings. Outcomes are in
// the same order as rungs.
func (o *Orchestrator) Run(ctx context.Context, src probe.Descriptor, outputRoot string, rungs []ladder.Rung, rep encoder.Reporter) ([]encoder.Outcome, error) {
	if len(rungs) == 0 {
		return nil, ErrNoRenditions
	}
	log := o.log.FromContext(ctx)
	start := time.Now()

	outcomes := make([]encoder.Outcome, len(rungs))
	var g errgroup.Group
	g.SetLimit(len(rungs))

	for i, r := range rungs {
		task := encoder.Task{
			Rung:        r,
			SourcePath:  src.LocalPath,
			OutputDir:   OutputDir(outputRoot, r),
			TotalFrames: src.TotalFrames,
		}
		g.Go(func() error {
			outcomes[i] = o.encode(ctx, task, rep)
			if o.observer != nil {
				o.observer.ObserveRendition(outcomes[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, out := range outcomes {
		if !out.Succeeded() {
			failed++
		}
	}
	log.Info("renditions joined",
		"total", len(outcomes),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outcomes, nil
}

func (o *Orchestrator) encode(ctx context.Context, task encoder.Task, rep encoder.Reporter) (out encoder.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			o.log.FromContext(ctx).Error("rendition panicked", "rung", task.Rung.Label, "panic", fmt.Sprint(rec))
			out = encoder.Outcome{Rung: task.Rung, Status: encoder.StatusFailed, Reason: fmt.Sprintf("panic: %v", rec)}
		}
	}()
	return o.enc.Encode(ctx, task, rep)
}

// Failed returns the outcomes that did not succeed.
func Failed(outcomes []encoder.Outcome) []encoder.Outcome {
	var out []encoder.Outcome
	for _, o := range outcomes {
		if !o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}
