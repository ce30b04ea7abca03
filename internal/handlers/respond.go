package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"regionpulse/internal/freshness"
	"regionpulse/pkg/logging/logging"
)

// reportResponse is the JSON shape of one tier result.
type reportResponse struct {
	Tier          string    `json:"tier"`
	Region        string    `json:"region"`
	Content       string    `json:"content"`
	Truncated     bool      `json:"truncated,omitempty"`
	Model         string    `json:"model,omitempty"`
	ComputedAt    time.Time `json:"computed_at"`
	Age           string    `json:"age"`
	AgeSeconds    int64     `json:"age_seconds"`
	Stale         bool      `json:"stale"`
	Source        string    `json:"source"`
	ComputationID string    `json:"computation_id,omitempty"`
	RefreshError  string    `json:"refresh_error,omitempty"`
}

func newReport(r freshness.Result, excerpt int) reportResponse {
	out := reportResponse{
		Tier:          r.Tier,
		Region:        r.Key,
		Content:       r.Value,
		Model:         r.Model,
		ComputedAt:    r.ComputedAt,
		Age:           humanize.RelTime(r.ComputedAt, r.ComputedAt.Add(r.Age), "ago", "from now"),
		AgeSeconds:    int64(r.Age / time.Second),
		Stale:         r.Stale,
		Source:        string(r.Source),
		ComputationID: r.ComputationID,
	}
	if r.RefreshErr != nil {
		out.RefreshError = r.RefreshErr.Error()
	}
	if excerpt > 0 {
		out.Content, out.Truncated = truncateRunes(r.Value, excerpt)
	}
	return out
}

func truncateRunes(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "...", true
		}
		i++
	}
	return s, false
}

type errorResponse struct {
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Stale   *reportResponse `json:"stale,omitempty"`
}

// statusClientClosedRequest is the nginx convention for a request the client abandoned.
const statusClientClosedRequest = 499

// classify maps an error from the freshness layer to a status and code.
func classify(err error) (int, errorResponse) {
	body := errorResponse{Message: err.Error()}

	var perr *freshness.ProducerError
	switch {
	case errors.Is(err, freshness.ErrUnknownTier):
		body.Error = "unknown_tier"
		return http.StatusNotFound, body
	case errors.Is(err, freshness.ErrEmptyKey):
		body.Error = "invalid_request"
		return http.StatusBadRequest, body
	case errors.Is(err, freshness.ErrNoCachedValue):
		body.Error = "no_cached_value"
		body.Message = "no report is available yet, try again shortly"
		return http.StatusServiceUnavailable, body
	case errors.As(err, &perr):
		body.Error = "upstream_failed"
		if perr.Stale != nil {
			stale := newReport(*perr.Stale, 0)
			body.Stale = &stale
		}
		return http.StatusBadGateway, body
	case errors.Is(err, context.DeadlineExceeded):
		body.Error = "gateway_timeout"
		return http.StatusGatewayTimeout, body
	case errors.Is(err, context.Canceled):
		// the client hung up; the computation keeps running for the next reader
		body.Error = "client_closed_request"
		return statusClientClosedRequest, body
	default:
		body.Error = "internal_error"
		body.Message = "internal error"
		return http.StatusInternalServerError, body
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	logger := logging.L(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Warn("request_failed", zap.Int("status", status), zap.String("error_code", body.Error), zap.Error(err))
	} else {
		logger.Debug("request_rejected", zap.Int("status", status), zap.String("error_code", body.Error), zap.Error(err))
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	writeJSON(w, status, body)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}
