// Package httpapi is the worker's ops surface: health and metrics.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"transcoder/internal/httpapi/handlers"
	"transcoder/internal/httpkit"
	"transcoder/internal/pkg/logger"
	"transcoder/internal/pkg/middleware"
)

type Deps struct {
	Service string
	Version string
	Checks  []handlers.Check
	// Metrics serves the Prometheus exposition; /metrics is not mounted
	// when nil.
	Metrics http.Handler
	Log     *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log.WithComponent("ops")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log, "/health", "/metrics"))
	r.Use(middleware.Recovery(log))

	r.Method(http.MethodGet, "/health", handlers.NewHealth(d.Service, d.Version, d.Checks, log))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpkit.WriteErr(w, http.StatusNotFound, "NOT_FOUND", "no such route", nil)
	})
	return r
}
