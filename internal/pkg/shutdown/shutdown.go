// Package shutdown coordinates the worker's orderly exit: the signal stops
// intake, the in-flight job drains, then resources close in reverse order
// of acquisition.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"transcoder/internal/pkg/logger"
)

// Signals stop the worker.
var Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

type Manager struct {
	log      *logger.Logger
	timeout  time.Duration
	mu       sync.Mutex
	handlers []handler
	once     sync.Once
	done     chan struct{}
}

type handler struct {
	name    string
	cleanup func(ctx context.Context) error
}

// NewManager returns a manager whose Shutdown gives up after timeout
// (default 30s).
func NewManager(log *logger.Logger, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		log:     log.WithComponent("shutdown"),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Register adds a cleanup step. Steps run one at a time, last registered
// first, so a resource is closed only after everything opened on top of it.
func (m *Manager) Register(name string, cleanup func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler{name: name, cleanup: cleanup})
	m.log.Debug("registered shutdown handler", "name", name)
}

// RegisterCloser adapts a Close() error method.
func (m *Manager) RegisterCloser(name string, close func() error) {
	m.Register(name, func(context.Context) error { return close() })
}

// NotifyContext returns a child of parent canceled on the first stop
// signal. The worker loop runs on it; cancellation means "stop receiving".
func (m *Manager) NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, Signals...)
	go func() {
		defer signal.Stop(sig)
		select {
		case s := <-sig:
			m.log.Info("shutdown signal received", "signal", s.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Shutdown runs the registered steps in reverse order under the manager
// timeout. It returns the number of failed steps; later calls are no-ops.
func (m *Manager) Shutdown() int {
	failed := 0
	m.once.Do(func() {
		defer close(m.done)

		m.mu.Lock()
		handlers := append([]handler(nil), m.handlers...)
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		m.log.Info("starting graceful shutdown", "handlers", len(handlers), "timeout", m.timeout.String())
		for i := len(handlers) - 1; i >= 0; i-- {
			h := handlers[i]
			if ctx.Err() != nil {
				m.log.Warn("shutdown timeout exceeded, skipping handler", "name", h.name)
				failed++
				continue
			}
			start := time.Now()
			if err := h.cleanup(ctx); err != nil {
				m.log.Error("shutdown handler failed",
					"name", h.name,
					"error", err.Error(),
					"duration_ms", time.Since(start).Milliseconds(),
				)
				failed++
				continue
			}
			m.log.Debug("shutdown handler completed",
				"name", h.name,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
		if failed == 0 {
			m.log.Info("graceful shutdown completed")
		}
	})
	return failed
}

// Done is closed once Shutdown has finished.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}
