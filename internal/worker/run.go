// Package worker is the job consumer: it receives one delivery at a time,
// runs it through the processor and disposes of it.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	jobv1 "transcoder/internal/contracts/job/v1"
	"transcoder/internal/pkg/errors"
	"transcoder/internal/pkg/logger"
	"transcoder/internal/pkg/textutil"
	"transcoder/internal/worker/processor"
	"transcoder/internal/worker/queue"
)

// Disposition is what happens to a delivery after its job cycle.
type Disposition string

const (
	DispositionAck        Disposition = "ack"
	DispositionRequeue    Disposition = "requeue"
	DispositionDeadLetter Disposition = "dead_letter"
)

const (
	maxReasonLen  = 500
	extendTimeout = 10 * time.Second
)

// Decide maps a job result to a disposition. Non-retryable failures go
// straight to dead-letter; retryable ones are requeued until attempt
// reaches maxDeliveries.
func Decide(err error, attempt, maxDeliveries int) Disposition {
	if err == nil {
		return DispositionAck
	}
	if !errors.Retryable(err) {
		return DispositionDeadLetter
	}
	if maxDeliveries > 0 && attempt >= maxDeliveries {
		return DispositionDeadLetter
	}
	return DispositionRequeue
}

type consumer struct {
	d   Deps
	log *logger.Logger
}

// Run receives and processes jobs sequentially until ctx is canceled. A job
// in flight when ctx is canceled runs to completion and is disposed before
// Run returns.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	if d.Heartbeat <= 0 {
		d.Heartbeat = time.Minute
	}
	if d.BackoffMin <= 0 {
		d.BackoffMin = time.Second
	}
	if d.BackoffMax < d.BackoffMin {
		d.BackoffMax = 30 * time.Second
	}
	c := &consumer{d: d, log: log}

	backoff := d.BackoffMin
	for {
		select {
		case <-ctx.Done():
			log.Info("worker context canceled, stopping")
			return ctx.Err()
		default:
		}

		del, err := d.Queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopping due to context cancellation")
				return ctx.Err()
			}
			if d.Observer != nil {
				d.Observer.ObserveReceiveError()
			}
			log.Warn("queue receive error, retrying",
				"error", err.Error(),
				"backoff", backoff.String(),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, d.BackoffMax)
			continue
		}
		backoff = d.BackoffMin

		if del == nil {
			continue
		}
		c.handle(context.WithoutCancel(ctx), del)
	}
}

func (c *consumer) handle(ctx context.Context, del queue.Delivery) {
	log := &logger.Logger{Logger: c.log.With("delivery_id", del.ID(), "attempt", del.Attempt())}
	start := time.Now()
	if c.d.Observer != nil {
		c.d.Observer.JobStarted()
	}

	stop := c.heartbeat(ctx, del, log)
	res, err := c.process(ctx, del)
	stop()
	if res.JobID != "" {
		log = log.WithJobID(res.JobID)
	}

	disp := Decide(err, del.Attempt(), c.d.MaxDeliveries)
	var dispErr error
	switch disp {
	case DispositionAck:
		dispErr = del.Ack(ctx)
	case DispositionRequeue:
		dispErr = del.Requeue(ctx)
	case DispositionDeadLetter:
		dispErr = del.DeadLetter(ctx, reason(err))
	}

	if c.d.Observer != nil {
		c.d.Observer.ObserveJob(string(res.State), time.Since(start))
		c.d.Observer.ObserveDisposition(string(disp))
	}

	args := []any{
		"disposition", string(disp),
		"state", string(res.State),
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		args = append(args, "code", string(errors.GetCode(err)), "error", err.Error())
	}
	if dispErr != nil {
		// The broker redelivers an undisposed message, so the job runs again.
		log.LogError(ctx, "delivery disposition failed", dispErr, args...)
		return
	}
	if err != nil {
		log.Warn("job failed", args...)
		return
	}
	log.Info("job completed", args...)
}

// heartbeat renews the hold on del every Heartbeat until stop is called.
// stop also waits out a renewal in progress, so no Extend races the
// disposition.
func (c *consumer) heartbeat(ctx context.Context, del queue.Delivery, log *logger.Logger) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.d.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				extCtx, cancel := context.WithTimeout(ctx, min(extendTimeout, c.d.Heartbeat))
				err := del.Extend(extCtx)
				cancel()
				if err != nil {
					log.Warn("delivery extend failed", "error", err.Error())
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// process parses the delivery and runs the job. A panic anywhere in the
// cycle becomes a CodeInternal failure so the delivery is requeued.
func (c *consumer) process(ctx context.Context, del queue.Delivery) (res processor.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("job panicked", "delivery_id", del.ID(), "panic", fmt.Sprint(rec))
			res.State = processor.StateAborted
			err = errors.Newf(errors.CodeInternal, "panic: %v", rec)
		}
	}()

	req, err := jobv1.Parse(del.Body())
	if err != nil {
		return processor.Result{State: processor.StateAborted}, err
	}
	return c.d.Processor.ProcessJob(ctx, processor.Job{
		VideoID:    req.VideoID,
		DeliveryID: del.ID(),
		Attempt:    del.Attempt(),
	})
}

func reason(err error) string {
	if err == nil {
		return ""
	}
	return textutil.Truncate(fmt.Sprintf("[%s] %s", errors.GetCode(err), err.Error()), maxReasonLen)
}
