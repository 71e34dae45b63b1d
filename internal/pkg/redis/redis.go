package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Redis struct {
	client *redis.Client
}

const Nil = redis.Nil

// TxFailedErr is returned by Watch when a watched key changed before EXEC.
var TxFailedErr = redis.TxFailedErr

// New parses a redis:// URL and builds a client. The connection is lazy.
func New(url string) (Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Redis{
		client: redis.NewClient(opts),
	}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client) Cache {
	return &Redis{client: client}
}

func (r *Redis) SetBytes(ctx context.Context, key string, value []byte, exp time.Duration) error {
	return r.client.Set(ctx, key, value, exp).Err()
}

func (r *Redis) GetBytes(ctx context.Context, key string) ([]byte, error) {
	return r.client.Get(ctx, key).Bytes()
}

// Watch implements Cache.
func (r *Redis) Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	return r.client.Watch(ctx, fn, keys...)
}

// Del implements Cache.
func (r *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	return r.client.Del(ctx, keys...).Result()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
