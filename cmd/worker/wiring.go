package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"transcoder/internal/config"
	"transcoder/internal/httpapi/handlers"
	"transcoder/internal/ports"
	"transcoder/internal/storage"
	"transcoder/internal/worker/queue"
)

type check struct {
	name   string
	ping   func(ctx context.Context) error
	detail func() map[string]any
}

func healthChecks(cs []check) []handlers.Check {
	out := make([]handlers.Check, 0, len(cs))
	for _, c := range cs {
		out = append(out, handlers.Check{Name: c.name, Ping: c.ping, Detail: c.detail})
	}
	return out
}

// consumerName identifies this process in the Redis consumer group.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

func newQueue(ctx context.Context, cfg config.Queue, rdb *redis.Client, consumer string) (queue.Queue, error) {
	switch cfg.Driver {
	case config.QueueRedis:
		q := queue.NewRedisStream(rdb, queue.RedisOptions{
			Stream:    cfg.Name,
			Group:     cfg.Group,
			Consumer:  consumer,
			ClaimIdle: cfg.ClaimIdle,
		})
		if err := q.EnsureGroup(ctx); err != nil {
			return nil, fmt.Errorf("create consumer group %s on %s: %w", cfg.Group, cfg.Name, err)
		}
		return q, nil
	case config.QueueSQS:
		client := queue.NewSQSClient(queue.SQSClientOptions{
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		})
		return queue.NewSQSQueue(client, queue.SQSOptions{
			QueueURL:          cfg.Name,
			DeadLetterURL:     cfg.DeadLetterURL,
			VisibilitySeconds: int32(cfg.VisibilityTimeout / time.Second),
		}), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}

func storageChecks(p *storage.Providers) []check {
	var out []check
	for _, b := range []struct {
		name string
		sp   ports.StorageProvider
	}{
		{"storage.source", p.Source},
		{"storage.destination", p.Destination},
	} {
		pinger, ok := b.sp.(ports.Pinger)
		if !ok {
			continue
		}
		out = append(out, check{name: b.name, ping: pinger.Ping})
	}
	return out
}

func postgresCheck(pool *pgxpool.Pool) check {
	return check{
		name: "postgres",
		ping: pool.Ping,
		detail: func() map[string]any {
			stats := pool.Stat()
			return map[string]any{
				"total_conns":    stats.TotalConns(),
				"idle_conns":     stats.IdleConns(),
				"acquired_conns": stats.AcquiredConns(),
			}
		},
	}
}
