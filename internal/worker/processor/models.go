package processor

import (
	"context"

	"transcoder/internal/ladder"
	"transcoder/internal/media/encoder"
	"transcoder/internal/media/probe"
	"transcoder/internal/models"
)

// State is a step of the job lifecycle. Received through Publishing are
// transient; Acknowledged and Aborted are terminal.
type State string

const (
	StateReceived     State = "received"
	StateAcquiring    State = "acquiring"
	StateProbing      State = "probing"
	StateEncoding     State = "encoding"
	StatePublishing   State = "publishing"
	StateAcknowledged State = "acknowledged"
	StateAborted      State = "aborted"
)

// Job is one parsed queue delivery.
type Job struct {
	VideoID    string
	DeliveryID string
	Attempt    int
}

// Result is what one ProcessJob call produced. Outcomes is empty when the
// job never reached Encoding.
type Result struct {
	JobID    string
	State    State
	Outcomes []encoder.Outcome
}

type Prober interface {
	Describe(ctx context.Context, path string) (probe.Descriptor, error)
}

type Orchestrator interface {
	Run(ctx context.Context, src probe.Descriptor, outputRoot string, rungs []ladder.Rung, rep encoder.Reporter) ([]encoder.Outcome, error)
}

// Ledger persists job and rendition records. Write failures are logged
// and never fail the job.
type Ledger interface {
	Start(ctx context.Context, j *models.Job) error
	UpdateState(ctx context.Context, id, state string) error
	Finish(ctx context.Context, id, state, errText string) error
	RecordRenditions(ctx context.Context, jobID string, rs []models.Rendition) error
}

// ProgressStore publishes live job state and per-rung progress.
type ProgressStore interface {
	State(ctx context.Context, jobID, videoID, state string)
	Finish(ctx context.Context, jobID, state, reason string)
	Reporter(ctx context.Context, jobID string) encoder.Reporter
}
