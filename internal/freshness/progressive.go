package freshness

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Progressive is a fast result plus whatever the deep tier has right now.
type Progressive struct {
	Key  string
	Fast Result

	// Deep is the deep result when fresh or just computed. While a refresh
	// is pending it holds the previous (stale) value, if any.
	Deep        *Result
	DeepPending bool

	// DeepErr carries a failed synchronous deep computation. The fast
	// result is still valid.
	DeepErr error
}

// GetProgressive reads the fast tier, then the deep tier for key.
//
// The fast result is always computed or served from cache first; a fast
// failure is returned as the error. A fresh deep entry is returned alongside.
// A stale deep entry is computed before returning under DeepSync, or started
// in the background under DeepAsync with DeepPending set. Background
// computations share the per-key in-flight guard with Get, so callers can
// poll Get(deep, key) to pick up the result.
func (c *Cache) GetProgressive(ctx context.Context, key string) (Progressive, error) {
	if c.fastTier == "" || c.deepTier == "" {
		return Progressive{}, ErrNoProgressive
	}

	fast, err := c.Get(ctx, c.fastTier, key)
	if err != nil {
		return Progressive{}, err
	}
	p := Progressive{Key: fast.Key, Fast: fast}

	deep := c.tiers[c.deepTier]
	skey := c.storeKey(deep.Name, p.Key)

	entry, ok := c.load(ctx, skey)
	now := c.clock.Now()
	if ok && entry.Fresh(now, deep.TTL) {
		c.decision(ctx, deep.Name, p.Key, "fresh")
		r := newResult(deep.Name, entry, now, SourceCache)
		p.Deep = &r
		return p, nil
	}

	switch c.deep {
	case DeepSync:
		r, err := c.Get(ctx, deep.Name, p.Key)
		if err != nil {
			p.DeepErr = err
			var perr *ProducerError
			if errors.As(err, &perr) && perr.Stale != nil {
				p.Deep = perr.Stale
			}
			return p, nil
		}
		p.Deep = &r

	default:
		c.startDeep(ctx, deep, p.Key, skey)
		p.DeepPending = true
		if ok {
			r := newResult(deep.Name, entry, now, SourceStale)
			p.Deep = &r
		}
	}

	return p, nil
}

// startDeep begins, or joins, the background computation for skey without waiting.
func (c *Cache) startDeep(ctx context.Context, tier Tier, key, skey string) {
	// DoChan's channel is buffered, so an unread result does not leak.
	_ = c.group.DoChan(skey, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx), tier, key, skey)
	})

	c.log(ctx).Debug("deep_refresh_scheduled",
		zap.String("tier", tier.Name),
		zap.String("region", key),
	)
}

// FastTier and DeepTier name the tiers GetProgressive reads.
func (c *Cache) FastTier() string { return c.fastTier }
func (c *Cache) DeepTier() string { return c.deepTier }

// Strategy reports how GetProgressive treats a stale deep tier.
func (c *Cache) Strategy() DeepStrategy { return c.deep }
