package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"regionpulse/pkg/logging/logging"
)

func TestTimeoutReturns504(t *testing.T) {
	h := Timeout(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		// late writes must not reach the client
		_, _ = w.Write([]byte("late"))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/slow", nil))

	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "late") {
		t.Fatalf("late write leaked into response: %s", rr.Body.String())
	}
}

func TestTimeoutPassesThrough(t *testing.T) {
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Region", "Jhapa 5")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/fast", nil))

	if rr.Code != http.StatusAccepted || rr.Body.String() != "ok" {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Region") != "Jhapa 5" {
		t.Fatalf("expected handler header to be copied")
	}
}

func TestRecovererThroughTimeout(t *testing.T) {
	h := Recoverer()(Timeout(time.Second)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "internal_error") {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestLoggingContextAttachesLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	h := LoggingContext(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.L(r.Context()).Info("inside")
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/regions", nil)
	req.Header.Set("User-Agent", "dashboard/1.0")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("inside").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["path"] != "/v1/regions" || fields["method"] != http.MethodGet || fields["user_agent"] != "dashboard/1.0" {
		t.Fatalf("unexpected fields %v", fields)
	}
}
