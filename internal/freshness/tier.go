package freshness

import (
	"context"
	"fmt"
	"time"
)

// Value is what a producer computes for one key.
type Value struct {
	Text  string
	Model string
}

// Producer computes a fresh value for key. It may be slow and may fail;
// the cache calls it at most once per TTL window per key.
type Producer func(ctx context.Context, key string) (Value, error)

// Tier is one quality/latency point: a TTL plus the producer that fills it.
type Tier struct {
	Name     string
	TTL      time.Duration
	Producer Producer

	// Timeout bounds a single producer call. Zero means no bound beyond
	// what the producer applies itself.
	Timeout time.Duration
}

func (t Tier) validate() error {
	switch {
	case t.Name == "":
		return fmt.Errorf("freshness: tier name is required")
	case t.TTL <= 0:
		return fmt.Errorf("freshness: tier %q: ttl must be positive", t.Name)
	case t.Producer == nil:
		return fmt.Errorf("freshness: tier %q: producer is required", t.Name)
	}
	return nil
}

// TierInfo describes a configured tier without its producer.
type TierInfo struct {
	Name string        `json:"name"`
	TTL  time.Duration `json:"ttl"`
}

// ErrorPolicy decides what a read returns when a refresh fails but an
// older value exists.
type ErrorPolicy int

const (
	// ServeStale returns the last good value, marked Stale, with a nil error.
	ServeStale ErrorPolicy = iota
	// PropagateErrors returns a *ProducerError carrying the stale value.
	PropagateErrors
)

func (p ErrorPolicy) String() string {
	if p == PropagateErrors {
		return "propagate"
	}
	return "serve_stale"
}

// ParseErrorPolicy accepts "serve_stale" and "propagate".
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch s {
	case "", "serve_stale":
		return ServeStale, nil
	case "propagate":
		return PropagateErrors, nil
	default:
		return ServeStale, fmt.Errorf("freshness: unknown error policy %q", s)
	}
}

// DeepStrategy decides how GetProgressive delivers a stale deep tier.
type DeepStrategy int

const (
	// DeepAsync returns immediately with DeepPending set and computes in the background.
	DeepAsync DeepStrategy = iota
	// DeepSync computes the deep tier before returning.
	DeepSync
)

func (s DeepStrategy) String() string {
	if s == DeepSync {
		return "sync"
	}
	return "async"
}

// ParseDeepStrategy accepts "async" and "sync".
func ParseDeepStrategy(s string) (DeepStrategy, error) {
	switch s {
	case "", "async":
		return DeepAsync, nil
	case "sync":
		return DeepSync, nil
	default:
		return DeepAsync, fmt.Errorf("freshness: unknown deep strategy %q", s)
	}
}
