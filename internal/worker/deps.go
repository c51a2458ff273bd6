package worker

import (
	"context"
	"time"

	"transcoder/internal/pkg/logger"
	"transcoder/internal/worker/processor"
	"transcoder/internal/worker/queue"
)

// JobProcessor runs one job to completion.
type JobProcessor interface {
	ProcessJob(ctx context.Context, job processor.Job) (processor.Result, error)
}

// Observer receives consumer-level measurements. *metrics.Metrics
// implements it.
type Observer interface {
	JobStarted()
	ObserveJob(state string, d time.Duration)
	ObserveDisposition(disposition string)
	ObserveReceiveError()
}

type Deps struct {
	Queue     queue.Queue
	Processor JobProcessor
	// MaxDeliveries is the attempt at which a retryable failure is
	// dead-lettered instead of requeued.
	MaxDeliveries int
	Observer      Observer
	Log           *logger.Logger

	// Heartbeat is how often the hold on the delivery in flight is renewed;
	// default 1m. The broker's hold must be longer.
	Heartbeat time.Duration

	// Receive error backoff; defaults 1s and 30s.
	BackoffMin time.Duration
	BackoffMax time.Duration
}
