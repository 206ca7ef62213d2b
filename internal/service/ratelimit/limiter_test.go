package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock { return &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)} }

func TestLimiterRefill(t *testing.T) {
	c := newClock()
	l := New(WithClock(c.now))

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("10.0.0.1", 3, 1), "call %d", i)
	}
	ok, wait := l.Reserve("10.0.0.1", 3, 1)
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)
	assert.True(t, l.Allow("10.0.0.2", 3, 1), "keys must not share buckets")

	c.advance(1500 * time.Millisecond)
	assert.True(t, l.Allow("10.0.0.1", 3, 1))
	assert.False(t, l.Allow("10.0.0.1", 3, 1), "only one token should have refilled")
}

func TestLimiterDeniedReserveDoesNotConsume(t *testing.T) {
	c := newClock()
	l := New(WithClock(c.now))

	require.True(t, l.Allow("k", 1, 0.5))
	for i := 0; i < 5; i++ {
		ok, wait := l.Reserve("k", 1, 0.5)
		require.False(t, ok)
		assert.Equal(t, 2*time.Second, wait)
	}
	c.advance(2 * time.Second)
	assert.True(t, l.Allow("k", 1, 0.5))
}

func TestLimiterZeroRefill(t *testing.T) {
	l := New(WithClock(newClock().now))

	require.True(t, l.Allow("k", 2, 0))
	require.True(t, l.Allow("k", 2, 0))
	ok, wait := l.Reserve("k", 2, 0)
	assert.False(t, ok)
	assert.Zero(t, wait)

	ok, wait = l.Reserve("empty", 0, 1)
	assert.False(t, ok)
	assert.Zero(t, wait)
}

func TestLimiterEvictsIdleKeys(t *testing.T) {
	c := newClock()
	l := New(WithClock(c.now), WithIdleTTL(time.Minute))

	for i := 0; i < 100; i++ {
		l.Allow(fmt.Sprintf("10.0.0.%d", i), 5, 1)
	}
	require.Equal(t, 100, l.Len())

	c.advance(2 * time.Minute)
	l.Allow("10.0.1.1", 5, 1)
	assert.Equal(t, 1, l.Len())
}

func TestLimiterKeepsThrottledKeys(t *testing.T) {
	c := newClock()
	l := New(WithClock(c.now), WithIdleTTL(time.Minute))

	// 1 token per 10 minutes: still drained when the idle TTL passes
	for l.Allow("greedy", 3, 1.0/600) {
	}
	l.Allow("polite", 3, 1)

	c.advance(2 * time.Minute)
	l.Allow("other", 3, 1)
	assert.Equal(t, 2, l.Len())
	assert.False(t, l.Allow("greedy", 3, 1.0/600), "eviction must not refill a drained bucket")
}
