package tracker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"transcoder/internal/ladder"
	"transcoder/internal/media/encoder"
	"transcoder/internal/pkg/logger"
)

const (
	defaultTTL   = 24 * time.Hour
	writeTimeout = 2 * time.Second
)

// Redis keeps one hash per job under "job:<id>": status, video id,
// timestamps, and one field per rung holding its percent or "done".
// Writes are best effort; a failed write is logged and dropped.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
	log *logger.Logger
}

func NewRedis(rdb *redis.Client, ttl time.Duration, log *logger.Logger) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Redis{rdb: rdb, ttl: ttl, log: log.WithComponent("tracker")}
}

func Key(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func (t *Redis) hset(ctx context.Context, jobID string, values ...any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := t.rdb.HSet(ctx, Key(jobID), values...).Err(); err != nil {
		t.log.Warn("progress write failed", "job_id", jobID, "error", err.Error())
	}
}

// State records a lifecycle transition.
func (t *Redis) State(ctx context.Context, jobID, videoID, state string) {
	t.hset(ctx, jobID,
		"status", state,
		"video_id", videoID,
		"updated_at", time.Now().UTC().Format(time.RFC3339),
	)
}

// Finish records the terminal state and starts the key's expiry.
func (t *Redis) Finish(ctx context.Context, jobID, state, reason string) {
	t.hset(ctx, jobID,
		"status", state,
		"reason", reason,
		"completed_at", time.Now().UTC().Format(time.RFC3339),
	)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := t.rdb.Expire(ctx, Key(jobID), t.ttl).Err(); err != nil {
		t.log.Warn("progress expire failed", "job_id", jobID, "error", err.Error())
	}
}

// Reporter returns an encoder.Reporter writing per-rung progress of jobID.
// Updates are sampled to whole percent steps.
func (t *Redis) Reporter(ctx context.Context, jobID string) encoder.Reporter {
	return &redisReporter{t: t, ctx: ctx, jobID: jobID, samplers: make(map[string]*ProgressSampler)}
}

type redisReporter struct {
	t     *Redis
	ctx   context.Context
	jobID string

	mu       sync.Mutex
	samplers map[string]*ProgressSampler
}

func (r *redisReporter) Progress(rung ladder.Rung, percent float64) {
	r.mu.Lock()
	s, ok := r.samplers[rung.Label]
	if !ok {
		s = NewProgressSampler(1)
		r.samplers[rung.Label] = s
	}
	emit := s.ShouldLog(percent)
	r.mu.Unlock()

	if emit {
		r.t.hset(r.ctx, r.jobID, rung.Label, strconv.Itoa(int(percent)))
	}
}

func (r *redisReporter) Completed(rung ladder.Rung) {
	r.t.hset(r.ctx, r.jobID, rung.Label, "done")
}
