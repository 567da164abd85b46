// Package cache memoizes reasoning results per position fingerprint with single-flight
// semantics: at most one computation per key is in flight and concurrent callers share
// its outcome.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/collection"
	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/singleflight"

	"magnus-advisor/pkg/llm"
	"magnus-advisor/pkg/metrics"
)

// DefaultTTL is how long a recommendation stays fresh.
const DefaultTTL = 30 * time.Minute

// Source tells a caller where its value came from.
type Source string

const (
	SourceHit      Source = "hit"
	SourceL2Hit    Source = "l2_hit"
	SourceComputed Source = "miss"
	SourceShared   Source = "shared"
)

// Store is an optional second tier shared between processes.
type Store interface {
	Get(ctx context.Context, key string) (*llm.Recommendation, bool, error)
	Set(ctx context.Context, key string, rec *llm.Recommendation, ttl time.Duration) error
}

// ComputeFunc produces the value for a missing key. Errors are never cached.
type ComputeFunc func(ctx context.Context) (*llm.Recommendation, error)

type entry struct {
	rec       *llm.Recommendation
	expiresAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	local *collection.Cache
	l2    Store
	group singleflight.Group
	ttl   time.Duration
	now   func() time.Time
}

// Option customises a Cache.
type Option func(*Cache)

// WithStore adds a shared second tier.
func WithStore(s Store) Option {
	return func(c *Cache) { c.l2 = s }
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New builds a cache whose entries default to ttl.
func New(ttl time.Duration, opts ...Option) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	local, err := collection.NewCache(ttl, collection.WithName("advisor-llm"))
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	c := &Cache{local: local, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns a fresh local entry.
func (c *Cache) Get(key string) (*llm.Recommendation, bool) {
	v, ok := c.local.Get(key)
	if !ok {
		return nil, false
	}
	e, ok := v.(entry)
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.rec, true
}

// GetOrCompute returns the fresh value for key, computing it with fn when absent. The
// first caller for a missing key runs fn; concurrent callers for the same key wait for
// it and receive the same value or the same error. A waiter whose ctx ends first gets
// ctx.Err() without affecting the computation.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn ComputeFunc) (*llm.Recommendation, Source, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if rec, ok := c.Get(key); ok {
		metrics.CacheLookups.WithLabelValues(string(SourceHit)).Inc()
		return rec, SourceHit, nil
	}

	var leader bool
	var source Source
	ch := c.group.DoChan(key, func() (any, error) {
		leader = true
		rec, src, err := c.fill(ctx, key, ttl, fn)
		source = src
		return rec, err
	})

	select {
	case res := <-ch:
		if !leader {
			source = SourceShared
		}
		metrics.CacheLookups.WithLabelValues(string(source)).Inc()
		if res.Err != nil {
			return nil, source, res.Err
		}
		rec, _ := res.Val.(*llm.Recommendation)
		return rec, source, nil
	case <-ctx.Done():
		return nil, SourceShared, ctx.Err()
	}
}

// fill runs inside the single-flight section.
func (c *Cache) fill(ctx context.Context, key string, ttl time.Duration, fn ComputeFunc) (rec *llm.Recommendation, src Source, err error) {
	defer func() {
		if p := recover(); p != nil {
			rec, src = nil, SourceComputed
			err = fmt.Errorf("cache: compute for %s panicked: %v", key, p)
			logx.WithContext(ctx).Errorf("%v", err)
		}
	}()

	// a previous flight may have landed between our miss and acquiring the key
	if rec, ok := c.Get(key); ok {
		return rec, SourceHit, nil
	}
	if c.l2 != nil {
		rec, ok, err := c.l2.Get(ctx, key)
		switch {
		case err != nil:
			logx.WithContext(ctx).Errorf("cache: l2 get %s: %v", key, err)
		case ok && rec != nil:
			c.put(key, rec, ttl)
			return rec, SourceL2Hit, nil
		}
	}

	rec, err = fn(ctx)
	if err != nil {
		return nil, SourceComputed, err
	}
	if rec == nil {
		return nil, SourceComputed, errors.New("cache: compute returned nil without error")
	}
	c.put(key, rec, ttl)
	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, rec, ttl); err != nil {
			logx.WithContext(ctx).Errorf("cache: l2 set %s: %v", key, err)
		}
	}
	return rec, SourceComputed, nil
}

func (c *Cache) put(key string, rec *llm.Recommendation, ttl time.Duration) {
	c.local.SetWithExpire(key, entry{rec: rec, expiresAt: c.now().Add(ttl)}, ttl)
}
