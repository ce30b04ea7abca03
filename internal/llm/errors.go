package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// UpstreamError is a non-2xx answer from the provider.
type UpstreamError struct {
	Status  int
	Message string
	Type    string
}

func (e *UpstreamError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("llmclient: upstream %d: %s (%s)", e.Status, e.Message, e.Type)
	}
	return fmt.Sprintf("llmclient: upstream %d: %s", e.Status, e.Message)
}

// IsAuth reports whether err is an authentication or permission failure.
func IsAuth(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && (ue.Status == http.StatusUnauthorized || ue.Status == http.StatusForbidden)
}

// IsRateLimited reports whether err is a 429 from the provider.
func IsRateLimited(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Status == http.StatusTooManyRequests
}

// readUpstreamError drains resp.Body into an UpstreamError, preferring the
// structured OpenAI error shape and falling back to the raw body.
func readUpstreamError(resp *http.Response) *UpstreamError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var perr providerErrorResponse
	if err := json.Unmarshal(body, &perr); err == nil && perr.Error.Message != "" {
		return &UpstreamError{
			Status:  resp.StatusCode,
			Message: perr.Error.Message,
			Type:    perr.Error.Type,
		}
	}
	return &UpstreamError{
		Status:  resp.StatusCode,
		Message: truncate(string(body), 200),
	}
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
