package handlers

import (
	"context"
	"net/http"
	"time"

	"transcoder/internal/httpkit"
	"transcoder/internal/pkg/logger"
)

const checkTimeout = 5 * time.Second

// Check is one dependency probed by the deep health check.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
	// Detail, when set, adds fields to a passing check (pool stats).
	Detail func() map[string]any
}

type Health struct {
	service string
	version string
	checks  []Check
	log     *logger.Logger
}

func NewHealth(service, version string, checks []Check, log *logger.Logger) *Health {
	return &Health{service: service, version: version, checks: checks, log: log}
}

// ServeHTTP answers 200 with the service identity. With ?deep=true every
// check is run; any failure turns the status to "degraded" and the code
// to 503 so orchestrators stop routing to, or restart, the worker.
func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body := map[string]any{
		"status":  "ok",
		"service": h.service,
		"version": h.version,
	}
	status := http.StatusOK

	if r.URL.Query().Get("deep") == "true" {
		results, healthy := h.deep(ctx)
		body["checks"] = results
		if !healthy {
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
			h.log.FromContext(ctx).Warn("health check degraded", "checks", results)
		}
	}

	httpkit.WriteJSON(w, status, body)
}

func (h *Health) deep(ctx context.Context) (map[string]any, bool) {
	results := make(map[string]any, len(h.checks))
	healthy := true
	for _, c := range h.checks {
		res := run(ctx, c)
		if res["status"] != "ok" {
			healthy = false
		}
		results[c.Name] = res
	}
	return results, healthy
}

func run(ctx context.Context, c Check) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := c.Ping(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	} else if c.Detail != nil {
		for k, v := range c.Detail() {
			result[k] = v
		}
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
