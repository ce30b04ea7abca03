package cache

import (
	"context"
	"testing"
)

func TestEntryKeyRoundTrip(t *testing.T) {
	key := NewEntryKey(" V1 ", "Deep Tier", "Region:X")

	if got, want := key.String(), "entry:v1:deep_tier:Region:X"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}

	parsed, ok := ParseEntryKey(key.String())
	if !ok {
		t.Fatalf("expected key to parse")
	}
	if parsed != key {
		t.Fatalf("parsed %#v, want %#v", parsed, key)
	}

	if _, ok := ParseEntryKey("exact:a:b"); ok {
		t.Fatalf("foreign keys must not parse")
	}
}

func TestNewStoreBackends(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, Config{Backend: BackendMemory}, nil)
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("expected *MemoryStore, got %T", s)
	}

	if _, err := NewStore(ctx, Config{Backend: BackendRedis}, nil); err == nil {
		t.Fatalf("redis backend without client must fail")
	}
	if _, err := NewStore(ctx, Config{Backend: "etcd"}, nil); err == nil {
		t.Fatalf("unknown backend must fail")
	}

	s, err = NewStore(ctx, Config{Backend: BackendSQLite, SQLitePath: ":memory:"}, nil)
	if err != nil {
		t.Fatalf("sqlite backend: %v", err)
	}
	logged := NewLoggingStore(s, BackendSQLite)
	defer logged.Close()

	if err := logged.Set(ctx, "entry:v1:summary:Jhapa 5", []byte("x")); err != nil {
		t.Fatalf("Set through logging store: %v", err)
	}
	if _, hit, err := logged.Get(ctx, "entry:v1:summary:Jhapa 5"); err != nil || !hit {
		t.Fatalf("expected hit through logging store, hit=%v err=%v", hit, err)
	}
	if err := logged.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
