package cache

import (
	"context"
	"time"
)

// BytesCache is a minimal cache API storing raw bytes with a retention TTL.
// A zero ttl keeps the value until it is overwritten or deleted.
type BytesCache interface {
	GetBytes(ctx context.Context, key string) (b []byte, ok bool, err error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ExpiringCache is implemented by stores that can report how long a value has left.
// remaining is zero for values kept until overwritten.
type ExpiringCache interface {
	GetBytesTTL(ctx context.Context, key string) (b []byte, remaining time.Duration, ok bool, err error)
}
