// Package freshness serves per-tier cached producer results: cheap tiers
// answer near-instantly while slower tiers refresh on their own TTL.
//
// Staleness is judged lazily at read time. A stale entry is never deleted
// and never overwritten by a failed refresh, so the last good value stays
// available. Concurrent reads of the same stale (tier, key) share one
// producer call.
package freshness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"regionpulse/internal/cache"
	"regionpulse/internal/clock"
	"regionpulse/internal/metrics"
	"regionpulse/pkg/logging/logging"
)

// Cache is a tiered freshness cache over a byte store.
// Build one per process and inject it; instances share no state.
type Cache struct {
	store   cache.Store
	tiers   map[string]Tier
	order   []string
	clock   clock.Clock
	logger  *zap.Logger
	policy  ErrorPolicy
	deep    DeepStrategy
	version string

	fastTier string
	deepTier string

	// one in-flight producer call per store key
	group singleflight.Group
}

type Option func(*Cache)

// WithTier registers a tier. Tiers are listed in registration order.
func WithTier(t Tier) Option {
	return func(c *Cache) {
		if _, dup := c.tiers[t.Name]; !dup {
			c.order = append(c.order, t.Name)
		}
		c.tiers[t.Name] = t
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Cache) { c.clock = clk }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

func WithErrorPolicy(p ErrorPolicy) Option {
	return func(c *Cache) { c.policy = p }
}

func WithDeepStrategy(s DeepStrategy) Option {
	return func(c *Cache) { c.deep = s }
}

// WithProgressive names the fast and deep tiers used by GetProgressive.
func WithProgressive(fast, deep string) Option {
	return func(c *Cache) {
		c.fastTier = fast
		c.deepTier = deep
	}
}

// WithVersion namespaces stored keys; bump it when prompts change.
func WithVersion(v string) Option {
	return func(c *Cache) { c.version = v }
}

// New builds a Cache over store.
func New(store cache.Store, opts ...Option) (*Cache, error) {
	if store == nil {
		return nil, errors.New("freshness: store is required")
	}

	c := &Cache{
		store:   store,
		tiers:   make(map[string]Tier),
		clock:   clock.System{},
		logger:  zap.NewNop(),
		version: "v1",
	}
	for _, opt := range opts {
		opt(c)
	}

	if len(c.tiers) == 0 {
		return nil, errors.New("freshness: at least one tier is required")
	}
	for _, name := range c.order {
		if err := c.tiers[name].validate(); err != nil {
			return nil, err
		}
		if cache.NormalizeSegment(name) != name {
			return nil, fmt.Errorf("freshness: tier name %q must be lowercase without spaces or ':'", name)
		}
	}

	if c.fastTier != "" || c.deepTier != "" {
		if _, ok := c.tiers[c.fastTier]; !ok {
			return nil, fmt.Errorf("freshness: progressive fast tier %q: %w", c.fastTier, ErrUnknownTier)
		}
		if _, ok := c.tiers[c.deepTier]; !ok {
			return nil, fmt.Errorf("freshness: progressive deep tier %q: %w", c.deepTier, ErrUnknownTier)
		}
		if c.fastTier == c.deepTier {
			return nil, errors.New("freshness: progressive fast and deep tiers must differ")
		}
	}

	return c, nil
}

// Tiers lists the configured tiers in registration order.
func (c *Cache) Tiers() []TierInfo {
	out := make([]TierInfo, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, TierInfo{Name: name, TTL: c.tiers[name].TTL})
	}
	return out
}

// HasTier reports whether name is a configured tier.
func (c *Cache) HasTier(name string) bool {
	_, ok := c.tiers[name]
	return ok
}

// Get returns the value for (tier, key), computing it when absent or stale.
//
// A fresh entry is returned without calling the producer. Otherwise the
// caller joins the single in-flight computation for the key, or starts one.
// If ctx ends first the caller stops waiting; the computation carries on
// and its result is stored for the next read.
func (c *Cache) Get(ctx context.Context, tierName, key string) (Result, error) {
	tier, key, err := c.resolve(tierName, key)
	if err != nil {
		return Result{}, err
	}
	skey := c.storeKey(tier.Name, key)

	entry, ok := c.load(ctx, skey)
	now := c.clock.Now()
	if ok && entry.Fresh(now, tier.TTL) {
		c.decision(ctx, tier.Name, key, "fresh")
		return newResult(tier.Name, entry, now, SourceCache), nil
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// led is only written by our own closure, which singleflight runs
	// before delivering on ch; joiners never run it.
	led := false
	ch := c.group.DoChan(skey, func() (any, error) {
		led = true
		return c.refresh(ctx, tier, key, skey)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	out := res.Val.(flight)
	if !led {
		c.decision(ctx, tier.Name, key, "joined")
	}
	if res.Err != nil {
		return c.failed(ctx, tier, key, out, res.Err)
	}

	src := SourceProducer
	if !out.computed {
		src = SourceCache
	}
	r := newResult(tier.Name, out.entry, c.clock.Now(), src)
	if out.computed {
		r.ComputationID = out.id
	}
	return r, nil
}

// flight is what one producer computation hands to every waiter.
type flight struct {
	entry    Entry
	computed bool

	stale    Entry
	hasStale bool

	id string
}

// refresh runs inside the singleflight for skey.
func (c *Cache) refresh(ctx context.Context, tier Tier, key, skey string) (flight, error) {
	// A computation that finished between the caller's read and this flight
	// has already stored a fresh entry. Joiners depend on this read for the
	// stale fallback, so it must not fail with the leader's context.
	entry, ok := c.load(context.WithoutCancel(ctx), skey)
	if ok && entry.Fresh(c.clock.Now(), tier.TTL) {
		return flight{entry: entry}, nil
	}

	out := flight{
		stale:    entry,
		hasStale: ok,
		id:       uuid.NewString(),
	}

	// The producer outlives the request that started it.
	pctx := context.WithoutCancel(ctx)
	if tier.Timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(pctx, tier.Timeout)
		defer cancel()
	}

	logger := c.log(ctx).With(
		zap.String("tier", tier.Name),
		zap.String("region", key),
		zap.String("computation_id", out.id),
	)

	start := time.Now()
	val, err := callProducer(pctx, tier.Producer, key)
	elapsed := time.Since(start)
	metrics.ProducerLatencySeconds.WithLabelValues(tier.Name).Observe(elapsed.Seconds())

	if err != nil {
		metrics.ProducerCallsTotal.WithLabelValues(tier.Name, "error").Inc()
		logger.Warn("producer_failed",
			zap.Bool("has_stale", ok),
			zap.Duration("producer_latency", elapsed),
			zap.Error(err),
		)
		return out, err
	}
	metrics.ProducerCallsTotal.WithLabelValues(tier.Name, "success").Inc()

	out.entry = Entry{
		Key:        key,
		Value:      val.Text,
		Model:      val.Model,
		ComputedAt: c.clock.Now(),
	}
	out.computed = true

	// best-effort: the value is still returned when the write fails
	c.save(ctx, skey, out.entry)

	logger.Info("producer_completed",
		zap.String("model", val.Model),
		zap.Int("bytes", len(val.Text)),
		zap.Duration("producer_latency", elapsed),
	)
	c.decision(ctx, tier.Name, key, "computed")
	return out, nil
}

// callProducer turns a producer panic into an error. A panic inside a
// singleflight DoChan call would otherwise take down the process.
func callProducer(ctx context.Context, p Producer, key string) (val Value, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("freshness: producer panic: %v", rec)
		}
	}()
	return p(ctx, key)
}

// failed applies the error policy to a failed refresh.
func (c *Cache) failed(ctx context.Context, tier Tier, key string, out flight, cause error) (Result, error) {
	perr := &ProducerError{Tier: tier.Name, Key: key, Err: cause}

	if !out.hasStale {
		c.decision(ctx, tier.Name, key, "failed")
		return Result{}, perr
	}

	stale := newResult(tier.Name, out.stale, c.clock.Now(), SourceStale)
	stale.RefreshErr = cause
	perr.Stale = &stale

	if c.policy == PropagateErrors {
		c.decision(ctx, tier.Name, key, "failed")
		return Result{}, perr
	}

	metrics.StaleServedTotal.WithLabelValues(tier.Name).Inc()
	c.decision(ctx, tier.Name, key, "stale")
	return stale, nil
}

func (c *Cache) resolve(tierName, key string) (Tier, string, error) {
	tier, ok := c.tiers[tierName]
	if !ok {
		return Tier{}, "", fmt.Errorf("%w: %q", ErrUnknownTier, tierName)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Tier{}, "", ErrEmptyKey
	}
	return tier, key, nil
}

func (c *Cache) storeKey(tier, key string) string {
	return cache.NewEntryKey(c.version, tier, key).String()
}

// load reads and decodes an entry. Store errors and corrupt entries count as a miss.
func (c *Cache) load(ctx context.Context, skey string) (Entry, bool) {
	b, ok, err := c.store.Get(ctx, skey)
	if err != nil {
		c.log(ctx).Warn("store_get_error", zap.String("store_key", skey), zap.Error(err))
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}
	e, err := decodeEntry(b)
	if err != nil {
		c.log(ctx).Warn("store_decode_error", zap.String("store_key", skey), zap.Error(err))
		return Entry{}, false
	}
	return e, true
}

func (c *Cache) save(ctx context.Context, skey string, e Entry) {
	b, err := encodeEntry(e)
	if err == nil {
		// detached: a finished computation is stored even if its request left
		err = c.store.Set(context.WithoutCancel(ctx), skey, b)
	}
	if err != nil {
		c.log(ctx).Warn("store_set_error", zap.String("store_key", skey), zap.Error(err))
	}
}

func (c *Cache) decision(ctx context.Context, tier, key, outcome string) {
	metrics.TierLookupsTotal.WithLabelValues(tier, outcome).Inc()
	c.log(ctx).Debug("tier_decision",
		zap.String("tier", tier),
		zap.String("region", key),
		zap.String("outcome", outcome),
	)
}

func (c *Cache) log(ctx context.Context) *zap.Logger {
	return logging.FromContextOr(ctx, c.logger)
}
