package freshness

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is the stored form of one computed value.
type Entry struct {
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Model      string    `json:"model,omitempty"`
	ComputedAt time.Time `json:"computed_at"`
}

// Fresh reports whether the entry is younger than ttl at now.
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.ComputedAt) < ttl
}

func encodeEntry(e Entry) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("freshness: encode entry: %w", err)
	}
	return b, nil
}

func decodeEntry(b []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("freshness: decode entry: %w", err)
	}
	if e.ComputedAt.IsZero() {
		return Entry{}, fmt.Errorf("freshness: decode entry: missing computed_at")
	}
	return e, nil
}

// Source tells where a Result came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceProducer Source = "producer"
	SourceStale    Source = "stale"
)

// Result is a value plus the facts a caller needs to present it.
type Result struct {
	Tier       string
	Key        string
	Value      string
	Model      string
	ComputedAt time.Time
	Age        time.Duration
	Stale      bool
	Source     Source

	// ComputationID identifies the producer call that made the value; only
	// set when Source is SourceProducer.
	ComputationID string

	// RefreshErr is set when a stale value is served because a refresh failed.
	RefreshErr error
}

func newResult(tier string, e Entry, now time.Time, src Source) Result {
	age := now.Sub(e.ComputedAt)
	if age < 0 {
		age = 0
	}
	return Result{
		Tier:       tier,
		Key:        e.Key,
		Value:      e.Value,
		Model:      e.Model,
		ComputedAt: e.ComputedAt,
		Age:        age,
		Stale:      src == SourceStale,
		Source:     src,
	}
}
