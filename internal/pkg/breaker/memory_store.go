package breaker

import (
	"context"
	"sync"

	"leakdetector/internal/pkg/hash"
)

const shardCount = 16

type shard struct {
	mu      sync.Mutex
	records map[string]Record
}

// MemoryStore keeps breaker records in process, sharded by murmur3 of the
// provider name.
type MemoryStore struct {
	shards [shardCount]*shard
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]Record)}
	}
	return s
}

func (s *MemoryStore) shard(name string) *shard {
	return s.shards[hash.Hash([]byte(name))%shardCount]
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, name string) (Record, error) {
	sh := s.shard(name)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.records[name], nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, name string, fn func(*Record)) (Record, error) {
	sh := s.shard(name)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	r := sh.records[name]
	fn(&r)
	sh.records[name] = r
	return r, nil
}
