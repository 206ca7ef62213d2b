package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	v   []byte
	exp time.Time
}

type TTLOption func(*TTLCache)

// WithNow replaces the clock used for expiry checks.
func WithNow(now func() time.Time) TTLOption {
	return func(c *TTLCache) { c.now = now }
}

// WithMaxEntries bounds the map; the entry closest to expiry is evicted first.
func WithMaxEntries(n int) TTLOption {
	return func(c *TTLCache) { c.max = n }
}

// TTLCache is an in-process BytesCache. Expired entries are dropped on read.
type TTLCache struct {
	mu  sync.RWMutex
	m   map[string]entry
	now func() time.Time
	max int
}

func NewTTLCache(opts ...TTLOption) *TTLCache {
	c := &TTLCache{m: make(map[string]entry), now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *TTLCache) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	b, _, ok, err := c.GetBytesTTL(ctx, key)
	return b, ok, err
}

// GetBytesTTL also reports the remaining lifetime; zero means no expiry.
func (c *TTLCache) GetBytesTTL(_ context.Context, key string) ([]byte, time.Duration, bool, error) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, 0, false, nil
	}
	if e.exp.IsZero() {
		return e.v, 0, true, nil
	}
	remaining := e.exp.Sub(c.now())
	if remaining <= 0 {
		c.mu.Lock()
		if cur, ok := c.m[key]; ok && cur.exp.Equal(e.exp) {
			delete(c.m, key)
		}
		c.mu.Unlock()
		return nil, 0, false, nil
	}
	return e.v, remaining, true, nil
}

func (c *TTLCache) SetBytes(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	buf := make([]byte, len(value))
	copy(buf, value)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.m[key]; !exists && c.max > 0 && len(c.m) >= c.max {
		c.evictLocked()
	}
	c.m[key] = entry{v: buf, exp: exp}
	return nil
}

func (c *TTLCache) evictLocked() {
	var victim string
	var soonest time.Time
	for k, e := range c.m {
		if e.exp.IsZero() {
			if victim == "" {
				victim = k
			}
			continue
		}
		if soonest.IsZero() || e.exp.Before(soonest) {
			victim, soonest = k, e.exp
		}
	}
	delete(c.m, victim)
}

func (c *TTLCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
	return nil
}

// Len counts stored entries, including expired ones not yet read.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

func (c *TTLCache) Close() error { return nil }
