package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"transcoder/internal/config"
	"transcoder/internal/httpapi"
	"transcoder/internal/media/encoder"
	"transcoder/internal/media/probe"
	"transcoder/internal/metrics"
	"transcoder/internal/pkg/logger"
	"transcoder/internal/pkg/shutdown"
	"transcoder/internal/repositories"
	"transcoder/internal/storage"
	"transcoder/internal/worker"
	"transcoder/internal/worker/orchestrator"
	"transcoder/internal/worker/processor"
	"transcoder/internal/worker/tracker"
	"transcoder/internal/worker/workspace"
)

const serviceName = "transcoder-worker"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		AddSource:   cfg.Log.Source,
		ServiceName: serviceName,
	})
	log.Info("starting transcoder worker",
		"version", version,
		"queue_driver", cfg.Queue.Driver,
		"storage_provider", cfg.Storage.Provider,
		"failure_policy", cfg.Media.FailurePolicy,
	)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)
	var checks []check

	// Storage
	providers, err := storage.NewProviders(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage", err)
	}
	shutdownMgr.RegisterCloser("storage", providers.Close)
	checks = append(checks, storageChecks(providers)...)
	log.Info("storage initialized",
		"provider", providers.Source.Provider(),
		"source_bucket", providers.Source.Bucket(),
		"destination_bucket", providers.Destination.Bucket(),
	)

	// Redis backs the stream queue and the progress tracker.
	var rdb *redis.Client
	if cfg.Queue.Driver == config.QueueRedis {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Queue.Host})
		shutdownMgr.RegisterCloser("redis", rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.LogFatal("failed to ping Redis", err, "addr", cfg.Queue.Host)
		}
		checks = append(checks, check{name: "redis", ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
		log.Info("Redis connected", "addr", cfg.Queue.Host)
	}

	q, err := newQueue(ctx, cfg.Queue, rdb, consumerName())
	if err != nil {
		log.LogFatal("failed to initialize queue", err)
	}

	// Optional Postgres job ledger.
	var ledger processor.Ledger
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.LogFatal("failed to connect to PostgreSQL", err)
		}
		shutdownMgr.Register("postgres", func(context.Context) error {
			pool.Close()
			return nil
		})
		repo := repositories.NewJobRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.LogFatal("failed to prepare job ledger schema", err)
		}
		ledger = repo
		checks = append(checks, postgresCheck(pool))
		log.Info("job ledger enabled")
	}

	var progress processor.ProgressStore
	if rdb != nil {
		progress = tracker.NewRedis(rdb, 0, log)
	}

	// Workspaces left behind by a crashed run are reclaimed before the
	// first job.
	workspaces := workspace.NewManager(cfg.WorkspaceRoot, log)
	if err := os.MkdirAll(workspaces.Root(), 0o755); err != nil {
		log.LogFatal("failed to create workspace root", err, "root", workspaces.Root())
	}
	swept := workspaces.SweepStale(ctx, time.Minute)
	for _, e := range swept.Errors {
		log.Warn("stale workspace not removed", "path", e.Path, "error", e.Error.Error())
	}
	if len(swept.Removed) > 0 {
		log.Info("removed stale workspaces", "count", len(swept.Removed), "root", workspaces.Root())
	}

	policy, err := processor.ParsePolicy(cfg.Media.FailurePolicy)
	if err != nil {
		log.LogFatal("invalid failure policy", err)
	}

	m := metrics.New()
	proc := processor.New(processor.Deps{
		Source:      providers.Source,
		Destination: providers.Destination,
		Workspaces:  workspaces,
		Prober:      probe.New(cfg.Media.FFprobeBin, probe.ExecRunner{}, log),
		Orchestrator: orchestrator.New(orchestrator.Deps{
			Encoder: encoder.New(encoder.Config{
				Binary:  cfg.Media.FFmpegBin,
				Timeout: cfg.Media.RenditionTimeout,
			}, encoder.NewExecRunner(), log),
			Observer: m,
			Log:      log,
		}),
		Policy:   policy,
		Ledger:   ledger,
		Progress: progress,
		Log:      log,
	})

	// Ops server
	if cfg.OpsAddr != "" {
		server := &http.Server{
			Addr: cfg.OpsAddr,
			Handler: httpapi.NewRouter(httpapi.Deps{
				Service: serviceName,
				Version: version,
				Checks:  healthChecks(checks),
				Metrics: m.Handler(),
				Log:     log,
			}),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		shutdownMgr.Register("ops-server", func(ctx context.Context) error {
			log.Info("shutting down ops server")
			return server.Shutdown(ctx)
		})
		go func() {
			log.Info("ops server listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.LogFatal("ops server failed", err)
			}
		}()
	}

	runCtx, stop := shutdownMgr.NotifyContext(ctx)
	defer stop()

	err = worker.Run(runCtx, worker.Deps{
		Queue:         q,
		Processor:     proc,
		MaxDeliveries: cfg.Queue.MaxDeliveries,
		Heartbeat:     cfg.Queue.Heartbeat,
		Observer:      m,
		Log:           log,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.LogError(ctx, "worker stopped unexpectedly", err)
	}

	if failed := shutdownMgr.Shutdown(); failed > 0 {
		os.Exit(1)
	}
}
