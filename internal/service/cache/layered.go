package cache

import (
	"context"
	"time"
)

// LayeredCache is a two-level BytesCache: a short-lived in-process L1 in front of a shared L2.
type LayeredCache struct {
	local    BytesCache
	remote   BytesCache
	localTTL time.Duration
}

// NewLayeredCache keeps L1 copies for at most localTTL, or for the value's own lifetime if
// that is shorter. On an L1 miss the remaining L2 lifetime is used when L2 can report it.
func NewLayeredCache(local, remote BytesCache, localTTL time.Duration) *LayeredCache {
	return &LayeredCache{local: local, remote: remote, localTTL: localTTL}
}

func (lc *LayeredCache) l1TTL(ttl time.Duration) time.Duration {
	if ttl > 0 && (lc.localTTL <= 0 || ttl < lc.localTTL) {
		return ttl
	}
	return lc.localTTL
}

func (lc *LayeredCache) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	if b, ok, err := lc.local.GetBytes(ctx, key); err == nil && ok {
		return b, true, nil
	}

	var (
		b         []byte
		remaining time.Duration
		ok        bool
		err       error
	)
	if ec, can := lc.remote.(ExpiringCache); can {
		b, remaining, ok, err = ec.GetBytesTTL(ctx, key)
	} else {
		b, ok, err = lc.remote.GetBytes(ctx, key)
	}
	if err != nil || !ok {
		return nil, false, err
	}
	_ = lc.local.SetBytes(ctx, key, b, lc.l1TTL(remaining))
	return b, true, nil
}

// SetBytes writes through: L2 first, then L1.
func (lc *LayeredCache) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := lc.remote.SetBytes(ctx, key, value, ttl); err != nil {
		return err
	}
	_ = lc.local.SetBytes(ctx, key, value, lc.l1TTL(ttl))
	return nil
}

func (lc *LayeredCache) Delete(ctx context.Context, key string) error {
	_ = lc.local.Delete(ctx, key)
	return lc.remote.Delete(ctx, key)
}

func (lc *LayeredCache) Close() error {
	_ = lc.local.Close()
	return lc.remote.Close()
}
