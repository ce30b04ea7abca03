package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"regionpulse/internal/handlers"
	"regionpulse/internal/metrics"
	"regionpulse/internal/middleware"
	"regionpulse/pkg/logging/logging"
)

type Options struct {
	// RequestTimeout bounds metadata routes.
	RequestTimeout time.Duration

	// ReportTimeout bounds routes that may run a producer synchronously.
	ReportTimeout time.Duration

	// Ready reports whether the cache backend is reachable. Nil means always ready.
	Ready func(ctx context.Context) error
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, h *handlers.RegionHandler, opts Options) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.ReportTimeout < opts.RequestTimeout {
		opts.ReportTimeout = opts.RequestTimeout
	}

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer()) // panic recovery

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.RequestTimeout))
			r.Get("/model", h.Model)
			r.Get("/regions", h.ListRegions)
			r.Get("/tiers", h.ListTiers)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.ReportTimeout))
			r.Get("/pulse", h.Pulse)
			r.Get("/regions/{region}/tiers/{tier}", h.TierReport)
			r.Get("/regions/{region}/progressive", h.Progressive)
		})

		// bounded by the handler's own stream timeout
		r.Get("/regions/{region}/progressive/stream", h.ProgressiveStream)
	})

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Ready(ctx); err != nil {
				logging.L(ctx).Warn("readiness check failed", zap.Error(err))
				http.Error(w, "cache backend unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Handle("/metrics", metrics.Handler())
}
