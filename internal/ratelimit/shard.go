package ratelimit

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// shard is one lock domain of a shardedMap.
type shard[V any] struct {
	mu      sync.Mutex
	entries map[string]V
}

// shardedMap spreads keys across independently locked maps so that
// requests for different identifiers rarely wait on each other.
type shardedMap[V any] struct {
	shards [shardCount]*shard[V]
}

func newShardedMap[V any]() *shardedMap[V] {
	m := &shardedMap[V]{}
	for i := range m.shards {
		m.shards[i] = &shard[V]{entries: make(map[string]V)}
	}
	return m
}

// shardFor returns the shard owning key.
func (m *shardedMap[V]) shardFor(key string) *shard[V] {
	return m.shards[xxhash.Sum64String(key)%shardCount]
}

// len counts entries across all shards.
func (m *shardedMap[V]) len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// deleteIf removes every entry for which drop returns true and reports how
// many were removed. Shards are locked one at a time.
func (m *shardedMap[V]) deleteIf(drop func(key string, v V) bool) int {
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, v := range s.entries {
			if drop(k, v) {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
