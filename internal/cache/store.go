package cache

import (
	"context"
	"errors"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("cache: store closed")

// Store is a byte store for computed tier entries.
// Implemented by memory (dev), Redis (shared) and SQL (durable) backends.
//
// Stores never expire entries on their own: freshness is decided by the
// caller at read time, and a stale entry must stay readable so it can be
// served when a refresh fails.
type Store interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	// Backend failures return (nil, false, err); callers treat them as a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key, overwriting in place.
	Set(ctx context.Context, key string, value []byte) error
}
