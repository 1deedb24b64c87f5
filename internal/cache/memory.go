package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"sunspot/internal/types"
)

// DefaultShards is the shard count used when none is configured.
const DefaultShards = 32

type shard struct {
	mu      sync.RWMutex
	entries map[Key]types.CachedExposure
}

// MemoryStore is an in-process Store. Entries are sharded by patio, each
// shard behind its own RWMutex, so readers only contend with writers of
// patios that hash to the same shard.
type MemoryStore struct {
	shards []*shard
}

// NewMemoryStore creates a MemoryStore with n shards (DefaultShards if n <= 0).
func NewMemoryStore(n int) *MemoryStore {
	if n <= 0 {
		n = DefaultShards
	}
	s := &MemoryStore{shards: make([]*shard, n)}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[Key]types.CachedExposure)}
	}
	return s
}

func (s *MemoryStore) shardFor(patioID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(patioID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key Key) (*types.CachedExposure, bool, error) {
	sh := s.shardFor(key.PatioID)
	sh.mu.RLock()
	entry, ok := sh.entries[key]
	sh.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	out := clone(entry)
	return &out, true, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key Key, entry types.CachedExposure) error {
	entry = clone(entry)
	sh := s.shardFor(key.PatioID)
	sh.mu.Lock()
	sh.entries[key] = entry
	sh.mu.Unlock()
	return nil
}

// MarkStale implements Store.
func (s *MemoryStore) MarkStale(_ context.Context, patioID string, at time.Time) (int, error) {
	sh := s.shardFor(patioID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	marked := 0
	for k, e := range sh.entries {
		if k.PatioID != patioID || e.IsStale || e.ComputedAt.After(at) {
			continue
		}
		e.IsStale = true
		sh.entries[k] = e
		marked++
	}
	return marked, nil
}

// Evict implements Store.
func (s *MemoryStore) Evict(ctx context.Context, now time.Time) (int, error) {
	evicted := 0
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return evicted, err
		}
		sh.mu.Lock()
		for k, e := range sh.entries {
			if e.IsStale || e.IsExpired(now) {
				delete(sh.entries, k)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted, nil
}

// Len returns the number of entries held, stale or not.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}
