package cache

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in a process-local map.
// The key space is bounded by the fixed region list, so there is no eviction.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string][]byte
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string][]byte),
	}
}

// Get retrieves a copy of the stored value.
func (c *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, false, ErrClosed
	}

	value, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Set overwrites the entry for key.
func (c *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	// Copy to decouple from caller's buffer
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.items[key] = valueCopy
	return nil
}

// Close releases the map. Further calls return ErrClosed.
func (c *MemoryStore) Close() error {
	c.mu.Lock()
	c.closed = true
	c.items = nil
	c.mu.Unlock()
	return nil
}

// Len returns the number of items currently in the store.
func (c *MemoryStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes all items. Useful for tests or manual resets.
func (c *MemoryStore) Clear() {
	c.mu.Lock()
	if !c.closed {
		c.items = make(map[string][]byte)
	}
	c.mu.Unlock()
}
