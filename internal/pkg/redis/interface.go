package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the narrow slice of Redis the service depends on: opaque byte
// values with a TTL, and optimistic transactions for read-modify-write state.
type Cache interface {
	SetBytes(ctx context.Context, key string, value []byte, exp time.Duration) error
	GetBytes(ctx context.Context, key string) ([]byte, error)

	// Watch runs fn inside WATCH keys. fn must queue its writes with
	// tx.TxPipelined; a concurrent write to any key fails the EXEC with
	// redis.TxFailedErr.
	Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error

	Del(ctx context.Context, keys ...string) (int64, error)

	Close() error
}
