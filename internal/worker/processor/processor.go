// Package processor runs one transcoding job through its lifecycle:
// acquire the source, probe it, encode every selected rendition, publish
// the results and reclaim the workspace.
package processor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"transcoder/internal/ladder"
	"transcoder/internal/media/encoder"
	"transcoder/internal/models"
	"transcoder/internal/pkg/errors"
	"transcoder/internal/pkg/logger"
	"transcoder/internal/pkg/textutil"
	"transcoder/internal/ports"
	"transcoder/internal/worker/tracker"
	"transcoder/internal/worker/workspace"
)

const maxErrorText = 2000

type Deps struct {
	Source       ports.StorageProvider
	Destination  ports.StorageProvider
	Workspaces   *workspace.Manager
	Prober       Prober
	Orchestrator Orchestrator
	Policy       Policy
	// Ledger and Progress are optional.
	Ledger   Ledger
	Progress ProgressStore
	Log      *logger.Logger
}

type Processor struct {
	workspaces   *workspace.Manager
	prober       Prober
	orchestrator Orchestrator
	policy       Policy
	ledger       Ledger
	progress     ProgressStore
	log          *logger.Logger

	inputHandler  *InputHandler
	outputHandler *OutputHandler
	cleanup       *Cleanup
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("processor")

	policy := d.Policy
	if policy == "" {
		policy = PolicyPartial
	}

	return &Processor{
		workspaces:    d.Workspaces,
		prober:        d.Prober,
		orchestrator:  d.Orchestrator,
		policy:        policy,
		ledger:        d.Ledger,
		progress:      d.Progress,
		log:           log,
		inputHandler:  NewInputHandler(d.Source),
		outputHandler: NewOutputHandler(d.Destination),
		cleanup:       NewCleanup(log),
	}
}

// run carries the per-job state through the lifecycle.
type run struct {
	job   Job
	res   Result
	log   *logger.Logger
	start time.Time
}

// ProcessJob runs job to a terminal state. A nil error means every
// published rendition is durable and the delivery may be acknowledged.
// The error code tells the caller how to dispose of the delivery.
func (p *Processor) ProcessJob(ctx context.Context, job Job) (Result, error) {
	jobID := uuid.NewString()
	ctx = logger.ContextWithJobID(ctx, jobID)
	ctx = logger.ContextWithVideoID(ctx, job.VideoID)

	r := &run{
		job:   job,
		res:   Result{JobID: jobID, State: StateReceived},
		log:   p.log.FromContext(ctx),
		start: time.Now(),
	}
	r.log.Info("job received", "delivery_id", job.DeliveryID, "attempt", job.Attempt)
	p.recordStart(ctx, r)

	// 1. Workspace and source
	p.transition(ctx, r, StateAcquiring)
	ws, err := p.workspaces.Create(job.VideoID)
	if err != nil {
		return p.failJob(ctx, r, errors.WrapWithCode(err, errors.CodeAcquisition, "processor.workspace", "failed to create workspace"))
	}
	defer p.cleanup.Reclaim(ctx, ws)

	srcPath, size, err := p.inputHandler.Acquire(ctx, ws, job.VideoID)
	if err != nil {
		return p.failJob(ctx, r, errors.WrapWithCode(err, errors.CodeAcquisition, "processor.acquire", "failed to acquire source"))
	}
	r.log.Debug("source acquired", "path", srcPath, "bytes", size)

	// 2. Probe
	p.transition(ctx, r, StateProbing)
	desc, err := p.prober.Describe(ctx, srcPath)
	if err != nil {
		// Describe codes its errors: CodeProbe for the media, CodeUnavailable
		// when ffprobe itself could not run.
		return p.failJob(ctx, r, errors.Wrap(err, "processor.probe", "failed to probe source"))
	}
	rungs := ladder.RungsAtOrBelow(desc.Rung)
	if len(rungs) == 0 {
		return p.failJob(ctx, r, errors.Newf(errors.CodeProbe, "no renditions for source quality %q", desc.Rung.Label))
	}
	r.log.Info("source probed",
		"frames", desc.TotalFrames,
		"quality", desc.Rung.Label,
		"renditions", len(rungs),
	)

	// 3. Encode
	p.transition(ctx, r, StateEncoding)
	outcomes, err := p.orchestrator.Run(ctx, desc, ws.RenditionsDir, rungs, p.reporter(ctx, r))
	r.res.Outcomes = outcomes
	if err != nil {
		return p.failJob(ctx, r, errors.Wrap(err, "processor.encode", "rendition fan-out failed"))
	}
	p.recordRenditions(ctx, r, outcomes)

	publish, failed, err := p.policy.Apply(outcomes)
	for _, f := range failed {
		r.log.Warn("rendition failed", "rung", f.Rung.Label, "reason", f.Reason)
	}
	if err != nil {
		return p.failJob(ctx, r, errors.Wrap(err, "processor.policy", "rendition set rejected"))
	}
	p.cleanup.DiscardFailed(ctx, ws.RenditionsDir, failed)

	// 4. Publish
	p.transition(ctx, r, StatePublishing)
	published := make([]ladder.Rung, 0, len(publish))
	for _, o := range publish {
		published = append(published, o.Rung)
	}
	pub, err := p.outputHandler.Publish(ctx, ws.RenditionsDir, job.VideoID, published)
	if err != nil {
		return p.failJob(ctx, r, errors.WrapWithCode(err, errors.CodePublish, "processor.publish", "failed to publish renditions"))
	}

	r.res.State = StateAcknowledged
	r.log.Info("job published",
		"renditions", len(published),
		"defects", len(failed),
		"objects", pub.Objects,
		"bytes", pub.Bytes,
		"duration_ms", time.Since(r.start).Milliseconds(),
	)
	p.recordFinish(ctx, r, "")
	return r.res, nil
}

func (p *Processor) reporter(ctx context.Context, r *run) encoder.Reporter {
	logRep := tracker.NewLogReporter(r.log, 10)
	if p.progress == nil {
		return logRep
	}
	return tracker.Multi(logRep, p.progress.Reporter(ctx, r.res.JobID))
}

func (p *Processor) transition(ctx context.Context, r *run, s State) {
	r.log.Debug("job state", "from", string(r.res.State), "to", string(s))
	r.res.State = s
	if p.progress != nil {
		p.progress.State(ctx, r.res.JobID, r.job.VideoID, string(s))
	}
	if p.ledger != nil {
		if err := p.ledger.UpdateState(ctx, r.res.JobID, string(s)); err != nil {
			r.log.Warn("ledger state update failed", "state", string(s), "error", err.Error())
		}
	}
}

func (p *Processor) failJob(ctx context.Context, r *run, cause error) (Result, error) {
	failedIn := r.res.State
	r.res.State = StateAborted

	var e *errors.Error
	if errors.As(cause, &e) {
		r.log.Error("job aborted",
			"code", string(e.Code),
			"op", e.Op,
			"state", string(failedIn),
			"error", cause.Error(),
			"duration_ms", time.Since(r.start).Milliseconds(),
		)
	} else {
		r.log.Error("job aborted", "state", string(failedIn), "error", cause.Error())
	}

	p.recordFinish(ctx, r, textutil.Truncate(cause.Error(), maxErrorText))
	return r.res, cause
}

func (p *Processor) recordStart(ctx context.Context, r *run) {
	if p.progress != nil {
		p.progress.State(ctx, r.res.JobID, r.job.VideoID, string(StateReceived))
	}
	if p.ledger == nil {
		return
	}
	err := p.ledger.Start(ctx, &models.Job{
		ID:         r.res.JobID,
		VideoID:    r.job.VideoID,
		DeliveryID: r.job.DeliveryID,
		Attempt:    r.job.Attempt,
		State:      string(StateReceived),
	})
	if err != nil {
		r.log.Warn("ledger start failed", "error", err.Error())
	}
}

func (p *Processor) recordRenditions(ctx context.Context, r *run, outcomes []encoder.Outcome) {
	if p.ledger == nil {
		return
	}
	rows := make([]models.Rendition, 0, len(outcomes))
	for _, o := range outcomes {
		rows = append(rows, models.Rendition{
			JobID:      r.res.JobID,
			Rung:       o.Rung.Label,
			Status:     string(o.Status),
			Reason:     o.Reason,
			DurationMs: o.Duration.Milliseconds(),
		})
	}
	if err := p.ledger.RecordRenditions(ctx, r.res.JobID, rows); err != nil {
		r.log.Warn("ledger rendition record failed", "error", err.Error())
	}
}

func (p *Processor) recordFinish(ctx context.Context, r *run, errText string) {
	if p.progress != nil {
		p.progress.Finish(ctx, r.res.JobID, string(r.res.State), errText)
	}
	if p.ledger == nil {
		return
	}
	if err := p.ledger.Finish(ctx, r.res.JobID, string(r.res.State), errText); err != nil {
		r.log.Warn("ledger finish failed", "error", err.Error())
	}
}
