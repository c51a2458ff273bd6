package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldBody    = "body"
	fieldAttempt = "attempt"
	fieldReason  = "reason"
	fieldSource  = "source_id"

	deadSuffix = ".dead"
	// deadMaxLen caps the dead-letter stream, trimmed approximately.
	deadMaxLen = 100000
)

type RedisOptions struct {
	Stream   string
	Group    string
	Consumer string
	// ClaimIdle is the pending idle time after which another consumer's
	// entry is taken over.
	ClaimIdle time.Duration
	// Block bounds one XREADGROUP call.
	Block time.Duration
}

// RedisStream is a consumer-group reader over one Redis stream.
type RedisStream struct {
	rdb  *redis.Client
	opts RedisOptions
}

func NewRedisStream(rdb *redis.Client, opts RedisOptions) *RedisStream {
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	return &RedisStream{rdb: rdb, opts: opts}
}

// DeadLetterStream is where dead-lettered entries are appended.
func (q *RedisStream) DeadLetterStream() string {
	return q.opts.Stream + deadSuffix
}

// EnsureGroup creates the stream and consumer group if missing.
func (q *RedisStream) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.opts.Stream, q.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", q.opts.Group, q.opts.Stream, err)
	}
	return nil
}

// Receive first reclaims an entry abandoned by a crashed consumer, then
// blocks for a new one.
func (q *RedisStream) Receive(ctx context.Context) (Delivery, error) {
	if d, err := q.reclaim(ctx); err != nil || d != nil {
		return d, err
	}

	res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		Streams:  []string{q.opts.Stream, ">"},
		Count:    1,
		Block:    q.opts.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for _, s := range res {
		for _, m := range s.Messages {
			return q.delivery(m, parseAttempt(m.Values[fieldAttempt])), nil
		}
	}
	return nil, nil
}

func (q *RedisStream) reclaim(ctx context.Context) (Delivery, error) {
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.opts.Stream,
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		MinIdle:  q.opts.ClaimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	m := msgs[0]
	// The stored counter only moves on explicit requeue; crash redeliveries
	// show up in the pending entry's delivery count.
	retries := int64(1)
	pending, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.opts.Stream,
		Group:  q.opts.Group,
		Start:  m.ID,
		End:    m.ID,
		Count:  1,
	}).Result()
	if err == nil && len(pending) == 1 {
		retries = pending[0].RetryCount
	}
	return q.delivery(m, reclaimedAttempt(parseAttempt(m.Values[fieldAttempt]), retries)), nil
}

func reclaimedAttempt(stored int, deliveries int64) int {
	if deliveries < 1 {
		deliveries = 1
	}
	return stored + int(deliveries) - 1
}

func (q *RedisStream) delivery(m redis.XMessage, attempt int) *streamDelivery {
	body, _ := m.Values[fieldBody].(string)
	return &streamDelivery{q: q, id: m.ID, body: []byte(body), attempt: attempt}
}

type streamDelivery struct {
	q       *RedisStream
	id      string
	body    []byte
	attempt int
}

func (d *streamDelivery) ID() string { return d.id }

func (d *streamDelivery) Body() []byte { return d.body }

func (d *streamDelivery) Attempt() int { return d.attempt }

// Ack, Requeue and DeadLetter all remove the original entry from the stream
// in the same transaction that acknowledges it, so settled work does not
// pile up.
func (d *streamDelivery) Ack(ctx context.Context) error {
	return d.settle(ctx, d.ackCmds)
}

// Requeue appends a copy with the next attempt number and retires the
// original in one transaction.
func (d *streamDelivery) Requeue(ctx context.Context) error {
	return d.settle(ctx, d.requeueCmds)
}

func (d *streamDelivery) DeadLetter(ctx context.Context, reason string) error {
	return d.settle(ctx, func(ctx context.Context, p redis.Pipeliner) []redis.Cmder {
		return d.deadLetterCmds(ctx, p, reason)
	})
}

// Extend resets the idle time of the pending entry by claiming it again for
// this consumer, which keeps XAUTOCLAIM on other workers away from it.
func (d *streamDelivery) Extend(ctx context.Context) error {
	ids, err := d.q.rdb.XClaimJustID(ctx, d.extendArgs()).Result()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("entry %s is no longer pending for %s", d.id, d.q.opts.Consumer)
	}
	return nil
}

func (d *streamDelivery) extendArgs() *redis.XClaimArgs {
	return &redis.XClaimArgs{
		Stream:   d.q.opts.Stream,
		Group:    d.q.opts.Group,
		Consumer: d.q.opts.Consumer,
		Messages: []string{d.id},
	}
}

func (d *streamDelivery) settle(ctx context.Context, cmds func(context.Context, redis.Pipeliner) []redis.Cmder) error {
	_, err := d.q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		cmds(ctx, p)
		return nil
	})
	return err
}

func (d *streamDelivery) retire(ctx context.Context, p redis.Pipeliner) []redis.Cmder {
	return []redis.Cmder{
		p.XAck(ctx, d.q.opts.Stream, d.q.opts.Group, d.id),
		p.XDel(ctx, d.q.opts.Stream, d.id),
	}
}

func (d *streamDelivery) ackCmds(ctx context.Context, p redis.Pipeliner) []redis.Cmder {
	return d.retire(ctx, p)
}

func (d *streamDelivery) requeueCmds(ctx context.Context, p redis.Pipeliner) []redis.Cmder {
	add := p.XAdd(ctx, &redis.XAddArgs{
		Stream: d.q.opts.Stream,
		Values: map[string]any{
			fieldBody:    string(d.body),
			fieldAttempt: d.attempt + 1,
		},
	})
	return append([]redis.Cmder{add}, d.retire(ctx, p)...)
}

func (d *streamDelivery) deadLetterCmds(ctx context.Context, p redis.Pipeliner, reason string) []redis.Cmder {
	add := p.XAdd(ctx, &redis.XAddArgs{
		Stream: d.q.DeadLetterStream(),
		MaxLen: deadMaxLen,
		Approx: true,
		Values: map[string]any{
			fieldBody:    string(d.body),
			fieldAttempt: d.attempt,
			fieldReason:  reason,
			fieldSource:  d.id,
		},
	})
	return append([]redis.Cmder{add}, d.retire(ctx, p)...)
}
