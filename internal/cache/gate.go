// Package cache provides a cache-aside gate for expensive reads. Concurrent
// callers of a cold key are coalesced onto a single in-flight load, so a
// burst of requests cannot stampede the backing store.
package cache

import (
	"context"
	"sync"
	"time"

	"messaging-service/internal/observability"
)

// Loader produces the value for a key on a cache miss.
type Loader func(ctx context.Context) (any, error)

type entry struct {
	value      any
	expiresAt  time.Time
	touchedAt  time.Time
	slidingTTL time.Duration
}

type flight struct {
	done chan struct{}
	val  any
	err  error
}

// Gate is a TTL + sliding-expiration cache with per-key single-flight
// loads. The zero value is not usable; construct with NewGate.
type Gate struct {
	mu      sync.Mutex
	entries map[string]*entry
	flights map[string]*flight
	now     func() time.Time
}

// NewGate constructs an empty Gate.
func NewGate() *Gate {
	return &Gate{
		entries: make(map[string]*entry),
		flights: make(map[string]*flight),
		now:     time.Now,
	}
}

// WithClock swaps the time source for tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// GetOrLoad returns the cached value for key, loading it at most once per
// cold key regardless of how many callers arrive concurrently. A hit
// refreshes the sliding window. A failed load is propagated to every
// waiter and leaves the key uncached, so the next call retries cleanly.
func (g *Gate) GetOrLoad(ctx context.Context, key string, loader Loader, ttl, sliding time.Duration) (any, error) {
	g.mu.Lock()
	now := g.now()

	if e, ok := g.entries[key]; ok && g.alive(e, now) {
		e.touchedAt = now
		g.mu.Unlock()
		observability.IncCacheEvent("hit")
		return e.value, nil
	}

	if f, ok := g.flights[key]; ok {
		g.mu.Unlock()
		observability.IncCacheEvent("coalesced")
		select {
		case <-f.done:
			return f.val, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f := &flight{done: make(chan struct{})}
	g.flights[key] = f
	g.mu.Unlock()
	observability.IncCacheEvent("miss")

	f.val, f.err = loader(ctx)

	g.mu.Lock()
	delete(g.flights, key)
	if f.err == nil {
		g.entries[key] = &entry{
			value:      f.val,
			expiresAt:  g.now().Add(ttl),
			touchedAt:  g.now(),
			slidingTTL: sliding,
		}
	}
	g.mu.Unlock()

	close(f.done)
	return f.val, f.err
}

// Invalidate drops a key so the next read reloads. Mutating callers use it
// to keep the cache consistent with the backing store.
func (g *Gate) Invalidate(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
}

func (g *Gate) alive(e *entry, now time.Time) bool {
	if now.After(e.expiresAt) {
		return false
	}
	if e.slidingTTL > 0 && now.Sub(e.touchedAt) > e.slidingTTL {
		return false
	}
	return true
}
