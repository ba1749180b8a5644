package dashboard

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"conduitdash/internal/model"
)

// DefaultTTL bounds how often the service state is re-read.
const DefaultTTL = 5 * time.Second

const flightKey = "stats"

type cacheEntry struct {
	data       []model.DisplayStats
	capturedAt time.Time
}

// Cache memoizes the last computed stats for a short TTL. Concurrent misses
// share a single compute.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	group singleflight.Group

	mu    sync.Mutex
	entry *cacheEntry
	gen   uint64
}

func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, now: now}
}

// GetOrCompute returns the cached value while it is younger than the TTL and
// otherwise runs compute. Only successful results are stored. The compute is
// detached from ctx cancellation because other callers may be waiting on it.
func (c *Cache) GetOrCompute(ctx context.Context, compute func(context.Context) ([]model.DisplayStats, error)) ([]model.DisplayStats, error) {
	c.mu.Lock()
	if c.entry != nil && c.now().Sub(c.entry.capturedAt) < c.ttl {
		data := c.entry.data
		c.mu.Unlock()
		return data, nil
	}
	gen := c.gen
	c.mu.Unlock()

	ch := c.group.DoChan(flightKey, func() (any, error) {
		data, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.entry = &cacheEntry{data: data, capturedAt: c.now()}
		}
		c.mu.Unlock()
		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]model.DisplayStats), nil
	}
}

// Invalidate drops the cached entry. A compute already in flight will not
// repopulate it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entry = nil
	c.gen++
	c.mu.Unlock()
	c.group.Forget(flightKey)
}
