package freshness

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCachedValue means the producer failed and nothing was cached to fall back on.
	ErrNoCachedValue = errors.New("freshness: no cached value")

	ErrUnknownTier = errors.New("freshness: unknown tier")
	ErrEmptyKey    = errors.New("freshness: empty key")

	// ErrNoProgressive is returned by GetProgressive when no fast/deep pair is configured.
	ErrNoProgressive = errors.New("freshness: progressive tiers not configured")
)

// ProducerError reports a failed upstream call for one (tier, key).
type ProducerError struct {
	Tier string
	Key  string
	Err  error

	// Stale is the last good value, if one exists.
	Stale *Result
}

func (e *ProducerError) Error() string {
	if e.Stale == nil {
		return fmt.Sprintf("freshness: %s producer failed for %q (nothing cached): %v", e.Tier, e.Key, e.Err)
	}
	return fmt.Sprintf("freshness: %s producer failed for %q: %v", e.Tier, e.Key, e.Err)
}

func (e *ProducerError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrNoCachedValue) true when there is no stale value.
func (e *ProducerError) Is(target error) bool {
	return target == ErrNoCachedValue && e.Stale == nil
}
