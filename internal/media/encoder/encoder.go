// Package encoder runs ffmpeg to produce one HLS rendition (a VOD playlist
// plus numbered MPEG-TS segments) for one ladder rung.
package encoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"transcoder/internal/ladder"
	"transcoder/internal/pkg/logger"
)

const (
	// ManifestName is the playlist file written into every rendition directory.
	ManifestName = "playlist.m3u8"
	// SegmentPattern is the ffmpeg pattern for segment file names.
	SegmentPattern = "s_%03d.ts"

	defaultAudioBitrate   = "128k"
	defaultSegmentSeconds = 6
)

// Task is one rendition to encode.
type Task struct {
	Rung        ladder.Rung
	SourcePath  string
	OutputDir   string
	TotalFrames int
}

// Status is the terminal state of a rendition.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome is the terminal result of one Task.
type Outcome struct {
	Rung     ladder.Rung
	Status   Status
	Reason   string
	Duration time.Duration
}

func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// Reporter receives progress for a rendition. Progress values are
// non-decreasing and within [0, 100]; Completed is sent once, only after a
// successful encode.
type Reporter interface {
	Progress(r ladder.Rung, percent float64)
	Completed(r ladder.Rung)
}

// NopReporter discards progress.
type NopReporter struct{}

func (NopReporter) Progress(ladder.Rung, float64) {}
func (NopReporter) Completed(ladder.Rung)         {}

// Config controls the ffmpeg invocation.
type Config struct {
	// Binary defaults to "ffmpeg".
	Binary string
	// Timeout bounds a single rendition; zero disables the bound.
	Timeout        time.Duration
	AudioBitrate   string
	SegmentSeconds int
}

// Encoder encodes renditions. It is safe for concurrent use; each Encode
// call owns its own process and output directory.
type Encoder struct {
	cfg    Config
	runner Runner
	log    *logger.Logger
}

// New creates an Encoder. A nil runner means ExecRunner.
func New(cfg Config, runner Runner, log *logger.Logger) *Encoder {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.AudioBitrate == "" {
		cfg.AudioBitrate = defaultAudioBitrate
	}
	if cfg.SegmentSeconds <= 0 {
		cfg.SegmentSeconds = defaultSegmentSeconds
	}
	if runner == nil {
		runner = NewExecRunner()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Encoder{cfg: cfg, runner: runner, log: log.WithComponent("encoder")}
}

// Args builds the ffmpeg argument list for task.
func (e *Encoder) Args(task Task) []string {
	return []string{
		"-hide_banner",
		"-nostats",
		"-loglevel", "error",
		"-y",
		"-i", task.SourcePath,
		"-c:v", "libx264",
		"-b:v", task.Rung.Bitrate(),
		"-vf", "scale=" + task.Rung.Resolution(),
		"-c:a", "aac",
		"-b:a", e.cfg.AudioBitrate,
		"-hls_time", strconv.Itoa(e.cfg.SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(task.OutputDir, SegmentPattern),
		"-progress", "pipe:1",
		filepath.Join(task.OutputDir, ManifestName),
	}
}

// Encode runs one rendition to completion. Every failure is reported in the
// returned Outcome; Encode never panics or returns an error so sibling
// renditions are unaffected.
func (e *Encoder) Encode(ctx context.Context, task Task, rep Reporter) Outcome {
	if rep == nil {
		rep = NopReporter{}
	}
	log := e.log.FromContext(ctx).WithRung(task.Rung.Label)
	start := time.Now()
	fail := func(reason string) Outcome {
		log.Warn("rendition failed", "reason", reason, "duration_ms", time.Since(start).Milliseconds())
		return Outcome{Rung: task.Rung, Status: StatusFailed, Reason: reason, Duration: time.Since(start)}
	}

	if task.TotalFrames <= 0 {
		return fail("total frame count unknown")
	}
	if err := os.MkdirAll(task.OutputDir, 0o755); err != nil {
		return fail(fmt.Sprintf("create output dir: %v", err))
	}

	runCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	log.Info("rendition started", "resolution", task.Rung.Resolution(), "bitrate", task.Rung.Bitrate())

	pr, pw := io.Pipe()
	track := newProgress(task.TotalFrames)
	scanned := make(chan bool, 1)
	go func() {
		scanned <- track.consume(pr, func(pct float64) { rep.Progress(task.Rung, pct) })
	}()

	stderrTail, err := e.runner.Run(runCtx, e.cfg.Binary, e.Args(task), pw)
	_ = pw.Close()
	sawEnd := <-scanned

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return fail(fmt.Sprintf("timed out after %s", e.cfg.Timeout))
		}
		reason := err.Error()
		if tail := strings.TrimSpace(stderrTail); tail != "" {
			reason += ": " + tail
		}
		return fail(reason)
	}
	if _, err := os.Stat(filepath.Join(task.OutputDir, ManifestName)); err != nil {
		return fail(fmt.Sprintf("manifest missing after encode: %v", err))
	}

	if pct, ok := track.finish(); ok {
		rep.Progress(task.Rung, pct)
	}
	rep.Completed(task.Rung)

	log.Info("rendition completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"progress_end", sawEnd,
	)
	return Outcome{Rung: task.Rung, Status: StatusSucceeded, Duration: time.Since(start)}
}

// progress turns ffmpeg -progress key=value lines into percentages.
type progress struct {
	total int
	last  float64
}

func newProgress(total int) *progress {
	return &progress{total: total, last: -1}
}

// observe returns the percentage for frame and whether it should be emitted.
func (p *progress) observe(frame int) (float64, bool) {
	pct := float64(frame) / float64(p.total) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct <= p.last {
		return p.last, false
	}
	p.last = pct
	return pct, true
}

// finish moves progress to 100 after a successful run.
func (p *progress) finish() (float64, bool) {
	if p.last >= 100 {
		return 100, false
	}
	p.last = 100
	return 100, true
}

// consume reads r until EOF, calling emit for every increase. It reports
// whether ffmpeg signalled progress=end.
func (p *progress) consume(r io.Reader, emit func(float64)) bool {
	sawEnd := false
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "frame":
			frame, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				continue
			}
			if pct, ok := p.observe(frame); ok {
				emit(pct)
			}
		case "progress":
			if strings.TrimSpace(value) == "end" {
				sawEnd = true
			}
		}
	}
	// Keep the writer side unblocked if scanning stopped early.
	_, _ = io.Copy(io.Discard, r)
	return sawEnd
}
