package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// plainCache hides GetBytesTTL so the layered cache cannot see the remaining lifetime.
type plainCache struct{ BytesCache }

func TestLayeredBackfillUsesRemainingRemoteLifetime(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	local := NewTTLCache(WithNow(clock.Now))
	remote := NewTTLCache(WithNow(clock.Now))
	lc := NewLayeredCache(local, remote, time.Minute)

	// written by another replica: only L2 has it
	require.NoError(t, remote.SetBytes(ctx, "price:AAPL", []byte("190"), 10*time.Second))
	clock.Advance(8 * time.Second)

	b, ok, err := lc.GetBytes(ctx, "price:AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("190"), b)

	_, left, ok, err := local.GetBytesTTL(ctx, "price:AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, left)

	clock.Advance(3 * time.Second)
	_, ok, _ = local.GetBytes(ctx, "price:AAPL")
	assert.False(t, ok, "L1 must not outlive L2")
	_, ok, _ = lc.GetBytes(ctx, "price:AAPL")
	assert.False(t, ok)
}

func TestLayeredWriteAndBackfillAgree(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	local := NewTTLCache(WithNow(clock.Now))
	remote := NewTTLCache(WithNow(clock.Now))
	lc := NewLayeredCache(local, remote, time.Minute)

	require.NoError(t, lc.SetBytes(ctx, "short", []byte("a"), 5*time.Second))
	require.NoError(t, lc.SetBytes(ctx, "long", []byte("b"), time.Hour))

	_, short, _, _ := local.GetBytesTTL(ctx, "short")
	_, long, _, _ := local.GetBytesTTL(ctx, "long")
	assert.Equal(t, 5*time.Second, short)
	assert.Equal(t, time.Minute, long)

	require.NoError(t, local.Delete(ctx, "long"))
	_, ok, err := lc.GetBytes(ctx, "long")
	require.NoError(t, err)
	require.True(t, ok)
	_, long, _, _ = local.GetBytesTTL(ctx, "long")
	assert.Equal(t, time.Minute, long, "backfill is capped by the local TTL like a write")
}

func TestLayeredBackfillWithoutRemoteLifetime(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	local := NewTTLCache(WithNow(clock.Now))
	remote := NewTTLCache(WithNow(clock.Now))
	lc := NewLayeredCache(local, plainCache{remote}, 30*time.Second)

	require.NoError(t, remote.SetBytes(ctx, "k", []byte("v"), time.Hour))
	_, ok, err := lc.GetBytes(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	_, left, ok, _ := local.GetBytesTTL(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, left)
}
