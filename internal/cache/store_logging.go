package cache

import (
	"context"
	"time"

	"regionpulse/internal/metrics"
	"regionpulse/pkg/logging/logging"

	"go.uber.org/zap"
)

// LoggingStore wraps a Store with logging + metrics.
type LoggingStore struct {
	inner   Store
	backend string
}

// NewLoggingStore returns a store that logs and records metrics.
func NewLoggingStore(inner Store, backend string) *LoggingStore {
	return &LoggingStore{inner: inner, backend: backend}
}

func (c *LoggingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	metrics.StoreOpsTotal.WithLabelValues("get", result).Inc()

	fields := append(c.fields(key, latencyMs), zap.String("store_result", result))
	logger := logging.L(ctx)
	if err != nil {
		logger.Error("store_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("store_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingStore) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.StoreOpsTotal.WithLabelValues("set", result).Inc()

	fields := append(c.fields(key, latencyMs), zap.Int("bytes", len(value)))
	logger := logging.L(ctx)
	if err != nil {
		logger.Error("store_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("store_set", fields...)
	}

	return err
}

// Ping forwards to the inner store when it supports health checks.
func (c *LoggingStore) Ping(ctx context.Context) error {
	if p, ok := c.inner.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close forwards to the inner store when it holds resources.
func (c *LoggingStore) Close() error {
	if closer, ok := c.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (c *LoggingStore) fields(key string, latencyMs float64) []zap.Field {
	fields := []zap.Field{
		zap.String("store_backend", c.backend),
		zap.String("store_key", key),
		zap.Float64("latency_ms", latencyMs),
	}
	if parts, ok := ParseEntryKey(key); ok {
		fields = append(fields,
			zap.String("version_id", parts.Version),
			zap.String("tier", parts.Tier),
			zap.String("region", parts.Key),
		)
	}
	return fields
}
