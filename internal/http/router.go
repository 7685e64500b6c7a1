// Package httpapi assembles the process router: operational endpoints plus
// every domain handler's routes.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"provenance/pkg/platform/httputil"
)

// RouteRegistrar is implemented by domain handlers.
type RouteRegistrar interface {
	Register(r chi.Router)
}

// HealthCheck probes one dependency. Name appears in the /health body.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type componentStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components []componentStatus `json:"components,omitempty"`
}

// NewRouter mounts /health, /metrics and the given handlers. gatherer may be
// nil to expose the default registry.
func NewRouter(logger *slog.Logger, gatherer prometheus.Gatherer, checks []HealthCheck, handlers ...RouteRegistrar) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler(logger, checks))
	if gatherer == nil {
		r.Handle("/metrics", promhttp.Handler())
	} else {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	for _, h := range handlers {
		h.Register(r)
	}
	return r
}

func healthHandler(logger *slog.Logger, checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		for _, c := range checks {
			cs := componentStatus{Name: c.Name, Status: "ok"}
			if err := c.Check(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "component", c.Name, "error", err)
				cs.Status = "unavailable"
				cs.Error = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
			}
			resp.Components = append(resp.Components, cs)
		}
		httputil.WriteJSON(w, status, resp)
	}
}
