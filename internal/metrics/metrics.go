package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tier lookups by outcome: fresh | stale | computed | joined | failed.
	TierLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regionpulse_tier_lookups_total",
			Help: "Tiered cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	ProducerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regionpulse_producer_calls_total",
			Help: "Upstream producer invocations by tier and result.",
		},
		[]string{"tier", "result"},
	)

	ProducerLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "regionpulse_producer_latency_seconds",
			Help:    "Upstream producer latency in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"tier"},
	)

	// Counter: stale values served because a refresh failed.
	StaleServedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regionpulse_stale_served_total",
			Help: "Stale entries served after a failed refresh.",
		},
		[]string{"tier"},
	)

	StoreOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regionpulse_store_ops_total",
			Help: "Cache store operations by op and result (hit | miss | ok | error).",
		},
		[]string{"op", "result"},
	)

	SelectedModel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "regionpulse_selected_model_info",
			Help: "Model chosen by the selector; value is always 1.",
		},
		[]string{"model", "source"},
	)

	// Histogram: HTTP latency in seconds.
	HTTPLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "regionpulse_http_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
		},
		[]string{"route", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		TierLookupsTotal,
		ProducerCallsTotal,
		ProducerLatencySeconds,
		StaleServedTotal,
		StoreOpsTotal,
		SelectedModel,
		HTTPLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures latency for each HTTP request.
// Routes are labelled by chi pattern so region names don't blow up cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		HTTPLatencySeconds.
			WithLabelValues(route, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
