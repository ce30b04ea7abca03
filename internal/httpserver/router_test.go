package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zaptest"

	"regionpulse/internal/cache"
	"regionpulse/internal/freshness"
	"regionpulse/internal/handlers"
	"regionpulse/internal/models"
	"regionpulse/internal/reports"
)

type fixedCatalog struct{}

func (fixedCatalog) Catalog(context.Context) models.Catalog {
	return models.Catalog{Selected: "gemini-2.0-flash", Source: models.SourcePriority}
}

func newRouter(t *testing.T, ready func(context.Context) error) *chi.Mux {
	t.Helper()

	store := cache.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	produce := func(_ context.Context, key string) (freshness.Value, error) {
		return freshness.Value{Text: "report for " + key}, nil
	}
	fc, err := freshness.New(store,
		freshness.WithTier(freshness.Tier{Name: "summary", TTL: time.Hour, Producer: produce}),
		freshness.WithTier(freshness.Tier{Name: "full", TTL: 24 * time.Hour, Producer: produce}),
		freshness.WithProgressive("summary", "full"),
	)
	if err != nil {
		t.Fatalf("freshness.New: %v", err)
	}

	h := handlers.NewRegionHandler(fc, reports.DefaultRegistry(), fixedCatalog{}, handlers.Options{})
	r := chi.NewRouter()
	SetupRouter(r, zaptest.NewLogger(t), h, Options{RequestTimeout: time.Second, Ready: ready})
	return r
}

func serve(r http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestRoutes(t *testing.T) {
	r := newRouter(t, nil)

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/readyz", http.StatusOK, "ready"},
		{"/v1/model", http.StatusOK, "gemini-2.0-flash"},
		{"/v1/regions", http.StatusOK, "Kathmandu 4"},
		{"/v1/tiers", http.StatusOK, `"deep":"full"`},
		{"/v1/regions/Jhapa%205/tiers/summary", http.StatusOK, "report for Jhapa 5"},
		{"/v1/regions/Jhapa%205/progressive", http.StatusOK, `"deep_pending":true`},
		{"/v1/regions/Jhapa%205/progressive/stream", http.StatusOK, "data: [DONE]"},
		{"/v1/pulse", http.StatusNotFound, "unknown_tier"},
		{"/v1/regions/Nowhere/tiers/summary", http.StatusNotFound, "unknown_region"},
	}
	for _, tc := range cases {
		rr := serve(r, tc.path)
		if rr.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.path, tc.status, rr.Code, rr.Body.String())
		}
		if !strings.Contains(rr.Body.String(), tc.body) {
			t.Fatalf("%s: expected body to contain %q, got %s", tc.path, tc.body, rr.Body.String())
		}
	}
}

func TestReadyzReportsBackendFailure(t *testing.T) {
	r := newRouter(t, func(context.Context) error { return errors.New("dial tcp: refused") })

	if rr := serve(r, "/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
