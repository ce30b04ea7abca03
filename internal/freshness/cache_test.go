package freshness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"regionpulse/internal/cache"
	"regionpulse/internal/clock"
)

var errUpstream = errors.New("upstream unavailable")

// stubProducer counts calls and can be made to fail or block.
type stubProducer struct {
	name  string
	calls atomic.Int32
	fail  atomic.Bool
	gate  chan struct{}
}

func newStub(name string) *stubProducer {
	return &stubProducer{name: name}
}

func (p *stubProducer) produce(ctx context.Context, key string) (Value, error) {
	n := p.calls.Add(1)
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return Value{}, ctx.Err()
		}
	}
	if p.fail.Load() {
		return Value{}, errUpstream
	}
	return Value{Text: fmt.Sprintf("%s:%s#%d", p.name, key, n), Model: "model-a"}, nil
}

func (p *stubProducer) count() int { return int(p.calls.Load()) }

type fixture struct {
	cache *Cache
	store *cache.MemoryStore
	clock *clock.Manual
	fast  *stubProducer
	deep  *stubProducer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		store: cache.NewMemoryStore(),
		clock: clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		fast:  newStub("summary"),
		deep:  newStub("full"),
	}
	t.Cleanup(func() { f.store.Close() })

	base := []Option{
		WithTier(Tier{Name: "summary", TTL: time.Hour, Producer: f.fast.produce}),
		WithTier(Tier{Name: "full", TTL: 24 * time.Hour, Producer: f.deep.produce}),
		WithProgressive("summary", "full"),
		WithClock(f.clock),
		WithLogger(zaptest.NewLogger(t)),
	}
	c, err := New(f.store, append(base, opts...)...)
	require.NoError(t, err)
	f.cache = c
	return f
}

func TestGetWithinTTLCallsProducerOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.cache.Get(ctx, "summary", "Jhapa 5")
	require.NoError(t, err)
	assert.Equal(t, SourceProducer, first.Source)
	assert.NotEmpty(t, first.ComputationID)
	assert.Equal(t, "model-a", first.Model)

	f.clock.Advance(59 * time.Minute)

	second, err := f.cache.Get(ctx, "summary", "Jhapa 5")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, 59*time.Minute, second.Age)
	assert.Empty(t, second.ComputationID)
	assert.Equal(t, 1, f.fast.count())
}

func TestGetAfterTTLRecomputesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.cache.Get(ctx, "summary", "Jhapa 5")
	require.NoError(t, err)

	// exactly at the TTL the entry is stale
	f.clock.Advance(time.Hour)

	r, err := f.cache.Get(ctx, "summary", "Jhapa 5")
	require.NoError(t, err)
	assert.Equal(t, SourceProducer, r.Source)
	assert.Equal(t, "summary:Jhapa 5#2", r.Value)
	assert.Equal(t, f.clock.Now(), r.ComputedAt)

	_, err = f.cache.Get(ctx, "summary", "Jhapa 5")
	require.NoError(t, err)
	assert.Equal(t, 2, f.fast.count())
}

func TestRefreshFailureServesStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	good, err := f.cache.Get(ctx, "summary", "Kaski 2")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	f.fast.fail.Store(true)

	r, err := f.cache.Get(ctx, "summary", "Kaski 2")
	require.NoError(t, err)
	assert.True(t, r.Stale)
	assert.Equal(t, SourceStale, r.Source)
	assert.Equal(t, good.Value, r.Value)
	assert.Equal(t, 2*time.Hour, r.Age)
	assert.ErrorIs(t, r.RefreshErr, errUpstream)

	// the failure must not have overwritten the last good value
	f.fast.fail.Store(false)
	r, err = f.cache.Get(ctx, "summary", "Kaski 2")
	require.NoError(t, err)
	assert.False(t, r.Stale)
	assert.Equal(t, "summary:Kaski 2#3", r.Value)
	assert.Equal(t, 3, f.fast.count())
}

func TestRefreshFailurePropagates(t *testing.T) {
	f := newFixture(t, WithErrorPolicy(PropagateErrors))
	ctx := context.Background()

	good, err := f.cache.Get(ctx, "summary", "Kaski 2")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	f.fast.fail.Store(true)

	_, err = f.cache.Get(ctx, "summary", "Kaski 2")
	require.Error(t, err)

	var perr *ProducerError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "summary", perr.Tier)
	assert.Equal(t, "Kaski 2", perr.Key)
	assert.ErrorIs(t, err, errUpstream)
	assert.NotErrorIs(t, err, ErrNoCachedValue)
	assert.Contains(t, err.Error(), errUpstream.Error())
	require.NotNil(t, perr.Stale)
	assert.Equal(t, good.Value, perr.Stale.Value)
	assert.True(t, perr.Stale.Stale)
}

func TestProducerFailureWithNothingCached(t *testing.T) {
	for _, policy := range []ErrorPolicy{ServeStale, PropagateErrors} {
		t.Run(policy.String(), func(t *testing.T) {
			f := newFixture(t, WithErrorPolicy(policy))
			f.fast.fail.Store(true)

			_, err := f.cache.Get(context.Background(), "summary", "Sarlahi 4")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNoCachedValue)
			assert.ErrorIs(t, err, errUpstream)

			var perr *ProducerError
			require.ErrorAs(t, err, &perr)
			assert.Nil(t, perr.Stale)
			assert.Equal(t, 0, f.store.Len())
		})
	}
}

func TestProducerPanicBecomesError(t *testing.T) {
	store := cache.NewMemoryStore()
	c, err := New(store,
		WithTier(Tier{Name: "summary", TTL: time.Hour, Producer: func(context.Context, string) (Value, error) {
			panic("nil model")
		}}),
		WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "summary", "Kaski 2")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCachedValue)
	assert.Contains(t, err.Error(), "producer panic")
}

func TestTiersAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.cache.Get(ctx, "summary", "Jhapa 5")
	require.NoError(t, err)
	assert.Equal(t, 0, f.deep.count())

	_, err = f.cache.Get(ctx, "full", "Jhapa 5")
	require.NoError(t, err)
	assert.Equal(t, 1, f.fast.count())
	assert.Equal(t, 1, f.deep.count())

	f.clock.Advance(90 * time.Minute)
	f.fast.fail.Store(true)

	// the fast failure has no effect on the fresh deep entry
	r, err := f.cache.Get(ctx, "full", "Jhapa 5")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, r.Source)
	assert.Equal(t, 1, f.deep.count())
}

func TestKeysAreTrimmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.cache.Get(ctx, "summary", "Jhapa 5")
	require.NoError(t, err)
	r, err := f.cache.Get(ctx, "summary", "  Jhapa 5 ")
	require.NoError(t, err)

	assert.Equal(t, "Jhapa 5", r.Key)
	assert.Equal(t, SourceCache, r.Source)
	assert.Equal(t, 1, f.fast.count())
}

func TestGetRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.cache.Get(ctx, "nope", "Jhapa 5")
	assert.ErrorIs(t, err, ErrUnknownTier)

	_, err = f.cache.Get(ctx, "summary", "   ")
	assert.ErrorIs(t, err, ErrEmptyKey)

	assert.Equal(t, 0, f.fast.count())
}

func TestCorruptEntryCountsAsMiss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	skey := cache.NewEntryKey("v1", "summary", "Jhapa 5").String()
	require.NoError(t, f.store.Set(ctx, skey, []byte("{not json")))

	r, err := f.cache.Get(ctx, "summary", "Jhapa 5")
	require.NoError(t, err)
	assert.Equal(t, SourceProducer, r.Source)
	assert.Equal(t, 1, f.fast.count())
}

func TestConcurrentGetSharesOneCall(t *testing.T) {
	f := newFixture(t)
	f.fast.gate = make(chan struct{})

	const n = 16
	var wg sync.WaitGroup
	results := make([]Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.cache.Get(context.Background(), "summary", "Chitwan 2")
		}(i)
	}

	require.Eventually(t, func() bool { return f.fast.count() == 1 }, time.Second, time.Millisecond)
	close(f.fast.gate)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "summary:Chitwan 2#1", results[i].Value)
	}
	assert.Equal(t, 1, f.fast.count())
}

func TestWaiterGivingUpDoesNotCancelProducer(t *testing.T) {
	f := newFixture(t)
	f.fast.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.cache.Get(ctx, "summary", "Gorkha 2")
		done <- err
	}()

	require.Eventually(t, func() bool { return f.fast.count() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(f.fast.gate)

	// joins the still-running computation, or reads what it stored
	r, err := f.cache.Get(context.Background(), "summary", "Gorkha 2")
	require.NoError(t, err)
	assert.Equal(t, "summary:Gorkha 2#1", r.Value)
	assert.Equal(t, 1, f.fast.count())
}

// ctxStore fails reads on a done context, as the Redis and SQL stores do.
// The read numbered hold waits for release to close.
type ctxStore struct {
	*cache.MemoryStore
	gets    atomic.Int32
	hold    int32
	release chan struct{}
}

func (s *ctxStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	n := s.gets.Add(1)
	if s.release != nil && n == s.hold {
		<-s.release
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *ctxStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func TestCancelledGetStartsNothing(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.cache.Get(ctx, "summary", "Rautahat 1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.fast.count())
}

func TestJoinerKeepsStaleWhenLeaderLeaves(t *testing.T) {
	store := &ctxStore{MemoryStore: cache.NewMemoryStore()}
	t.Cleanup(func() { store.Close() })
	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	fast := newStub("summary")

	c, err := New(store,
		WithTier(Tier{Name: "summary", TTL: time.Hour, Producer: fast.produce}),
		WithClock(clk),
		WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "summary", "Jhapa 5")
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	fast.fail.Store(true)

	// the leader's read inside the refresh is held until it has gone away
	seen := store.gets.Load()
	store.hold = seen + 2
	store.release = make(chan struct{})

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Get(leaderCtx, "summary", "Jhapa 5")
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return store.gets.Load() >= seen+2 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	type outcome struct {
		res Result
		err error
	}
	joined := make(chan outcome, 1)
	go func() {
		res, err := c.Get(context.Background(), "summary", "Jhapa 5")
		joined <- outcome{res, err}
	}()
	require.Eventually(t, func() bool { return store.gets.Load() >= seen+3 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(store.release)

	got := <-joined
	require.NoError(t, got.err)
	assert.True(t, got.res.Stale)
	assert.Equal(t, "summary:Jhapa 5#1", got.res.Value)
	assert.ErrorIs(t, got.res.RefreshErr, errUpstream)
	assert.Equal(t, 2, fast.count())
}

func TestTierTimeoutBoundsProducer(t *testing.T) {
	store := cache.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	slow := newStub("slow")
	slow.gate = make(chan struct{}) // never released

	c, err := New(store,
		WithTier(Tier{Name: "summary", TTL: time.Hour, Producer: slow.produce, Timeout: 20 * time.Millisecond}),
	)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "summary", "Tanahun 1")
	assert.ErrorIs(t, err, ErrNoCachedValue)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestVersionNamespacesEntries(t *testing.T) {
	store := cache.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	p := newStub("summary")
	build := func(version string) *Cache {
		c, err := New(store,
			WithTier(Tier{Name: "summary", TTL: time.Hour, Producer: p.produce}),
			WithVersion(version),
		)
		require.NoError(t, err)
		return c
	}

	ctx := context.Background()
	_, err := build("v1").Get(ctx, "summary", "Jhapa 3")
	require.NoError(t, err)
	_, err = build("v1").Get(ctx, "summary", "Jhapa 3")
	require.NoError(t, err)
	assert.Equal(t, 1, p.count())

	_, err = build("v2").Get(ctx, "summary", "Jhapa 3")
	require.NoError(t, err)
	assert.Equal(t, 2, p.count())
}

func TestNewValidation(t *testing.T) {
	store := cache.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	noop := func(context.Context, string) (Value, error) { return Value{}, nil }

	cases := []struct {
		name  string
		store cache.Store
		opts  []Option
	}{
		{name: "nil store", opts: []Option{WithTier(Tier{Name: "a", TTL: time.Minute, Producer: noop})}},
		{name: "no tiers", store: store},
		{name: "zero ttl", store: store, opts: []Option{WithTier(Tier{Name: "a", Producer: noop})}},
		{name: "no producer", store: store, opts: []Option{WithTier(Tier{Name: "a", TTL: time.Minute})}},
		{name: "bad name", store: store, opts: []Option{WithTier(Tier{Name: "Deep Tier", TTL: time.Minute, Producer: noop})}},
		{name: "unknown progressive tier", store: store, opts: []Option{
			WithTier(Tier{Name: "a", TTL: time.Minute, Producer: noop}),
			WithProgressive("a", "b"),
		}},
		{name: "same progressive tiers", store: store, opts: []Option{
			WithTier(Tier{Name: "a", TTL: time.Minute, Producer: noop}),
			WithProgressive("a", "a"),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.store, tc.opts...)
			assert.Error(t, err)
		})
	}
}

func TestTiersListedInRegistrationOrder(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []TierInfo{
		{Name: "summary", TTL: time.Hour},
		{Name: "full", TTL: 24 * time.Hour},
	}, f.cache.Tiers())
	assert.True(t, f.cache.HasTier("full"))
	assert.False(t, f.cache.HasTier("metrics"))
}

func TestParsePolicies(t *testing.T) {
	p, err := ParseErrorPolicy("propagate")
	require.NoError(t, err)
	assert.Equal(t, PropagateErrors, p)

	p, err = ParseErrorPolicy("")
	require.NoError(t, err)
	assert.Equal(t, ServeStale, p)

	_, err = ParseErrorPolicy("ignore")
	assert.Error(t, err)

	s, err := ParseDeepStrategy("sync")
	require.NoError(t, err)
	assert.Equal(t, DeepSync, s)

	_, err = ParseDeepStrategy("eventually")
	assert.Error(t, err)
}
