package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"regionpulse/pkg/logging/logging"
)

// ProgressiveStream handles GET /v1/regions/{region}/progressive/stream.
//
// It sends a "fast" event as soon as the fast report is ready, then a
// "deep" event once the deep report is (joining any computation already
// running), then "data: [DONE]". A deep failure is sent as an "error" event.
// Disconnecting stops the response but not the deep computation.
func (h *RegionHandler) ProgressiveStream(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.region(w, r)
	if !ok {
		return
	}
	excerpt, ok := parseExcerpt(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorCode(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.StreamTimeout)
	defer cancel()
	logger := logging.L(ctx)
	start := time.Now()

	// Errors before the first event still get a plain JSON status.
	fast, err := h.Reports.Get(ctx, h.Reports.FastTier(), reg.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "fast", newReport(fast, excerpt)); err != nil {
		logger.Debug("stream client gone", zap.Error(err))
		return
	}
	flusher.Flush()

	deep, err := h.Reports.Get(ctx, h.Reports.DeepTier(), reg.Name)
	if err != nil {
		_, body := classify(err)
		_ = writeEvent(w, "error", body)
		logger.Warn("stream deep report failed",
			zap.String("region", reg.Name),
			zap.String("error_code", body.Error),
			zap.Error(err),
		)
	} else {
		_ = writeEvent(w, "deep", newReport(deep, 0))
	}

	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	logger.Info("progressive_stream_completed",
		zap.String("region", reg.Name),
		zap.String("fast_source", string(fast.Source)),
		zap.Bool("deep_ok", err == nil),
		zap.Duration("duration", time.Since(start)),
	)
}

func writeEvent(w http.ResponseWriter, event string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	return err
}
