package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pkgredis "leakdetector/internal/pkg/redis"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 8

// RedisStore shares breaker records across processes. Each Update is an
// optimistic WATCH/MULTI transaction retried on conflict.
type RedisStore struct {
	cache  pkgredis.Cache
	prefix string
}

// NewRedisStore creates a RedisStore writing keys under prefix.
func NewRedisStore(cache pkgredis.Cache, prefix string) *RedisStore {
	return &RedisStore{
		cache:  cache,
		prefix: prefix,
	}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, name string) (Record, error) {
	data, err := s.cache.GetBytes(ctx, s.key(name))
	return decodeRecord(data, err)
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, name string, fn func(*Record)) (Record, error) {
	key := s.key(name)
	for i := 0; i < maxTxRetries; i++ {
		var out Record
		err := s.cache.Watch(ctx, func(tx *redis.Tx) error {
			r, err := decodeRecord(tx.Get(ctx, key).Bytes())
			if err != nil {
				return err
			}
			fn(&r)
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			out = r
			return err
		}, key)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, pkgredis.TxFailedErr) {
			return Record{}, err
		}
	}
	return Record{}, fmt.Errorf("breaker %s: too many concurrent updates", name)
}

// Reset removes the stored record of name.
func (s *RedisStore) Reset(ctx context.Context, name string) error {
	_, err := s.cache.Del(ctx, s.key(name))
	return err
}

func decodeRecord(data []byte, err error) (Record, error) {
	if errors.Is(err, pkgredis.Nil) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("failed to decode breaker record: %w", err)
	}
	return r, nil
}
