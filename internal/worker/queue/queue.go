// Package queue is the job transport of the worker. A Delivery is one
// received message; it must be disposed exactly once with Ack, Requeue or
// DeadLetter.
package queue

import (
	"context"
	"strconv"
)

type Delivery interface {
	// ID is the broker's identifier for this delivery.
	ID() string
	Body() []byte
	// Attempt is 1 on first delivery and grows with every redelivery.
	Attempt() int

	Ack(ctx context.Context) error
	// Requeue returns the message for another attempt.
	Requeue(ctx context.Context) error
	// DeadLetter removes the message from the work queue for good, keeping
	// it for inspection where the broker allows.
	DeadLetter(ctx context.Context, reason string) error

	// Extend renews the hold on an undisposed delivery so the broker does
	// not hand it to another consumer while the job is still running.
	Extend(ctx context.Context) error
}

// Queue hands out one delivery at a time. Receive returns (nil, nil) when
// nothing arrived within the driver's poll window.
type Queue interface {
	Receive(ctx context.Context) (Delivery, error)
}

// parseAttempt reads a stored attempt counter, treating missing or
// malformed values as a first delivery.
func parseAttempt(v any) int {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case int:
		return max(t, 1)
	case int64:
		return max(int(t), 1)
	default:
		return 1
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
