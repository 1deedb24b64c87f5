package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"

	"sunspot/internal/types"
)

// Redis key layout.
const (
	keyPrefix      = "exposure"
	patiosIndexKey = keyPrefix + ":patios"

	// DefaultStaleMarkerTTL outlives any entry TTL so a marker is never
	// dropped while entries it covers are still readable.
	DefaultStaleMarkerTTL = 72 * time.Hour
)

func entryKey(k Key) string          { return keyPrefix + ":" + k.String() }
func indexKey(patioID string) string { return keyPrefix + ":idx:" + patioID }
func staleKey(patioID string) string { return keyPrefix + ":stale:" + patioID }

// RedisStore is a Store backed by Redis. Values are zstd-compressed JSON with
// a TTL matching the entry's expiry. Each patio keeps a set of its entry keys
// so eviction can find them without SCAN, and a stale marker holding the
// instant of the last geometry change.
type RedisStore struct {
	client         redis.Cmdable
	encoder        *zstd.Encoder
	decoderPool    sync.Pool
	clock          types.Clock
	staleMarkerTTL time.Duration
	logger         *slog.Logger
}

// NewRedisStore creates a RedisStore. If clock is nil, types.RealClock is
// used; if logger is nil, slog.Default() is used.
func NewRedisStore(client redis.Cmdable, clock types.Clock, logger *slog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &RedisStore{
		client:         client,
		encoder:        enc,
		clock:          clock,
		staleMarkerTTL: DefaultStaleMarkerTTL,
		logger:         logger,
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}, nil
}

func (s *RedisStore) encode(entry types.CachedExposure) ([]byte, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return s.encoder.EncodeAll(raw, nil), nil
}

func (s *RedisStore) decode(data []byte) (*types.CachedExposure, error) {
	decoder := s.decoderPool.Get().(*zstd.Decoder)
	defer s.decoderPool.Put(decoder)

	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	var entry types.CachedExposure
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &entry, nil
}

func cacheError(msg string, err error) error {
	return types.NewAppError(types.ErrCodeInternalCache, msg, err)
}

// Get implements Store. An entry computed at or before the patio's stale
// marker comes back with IsStale set.
func (s *RedisStore) Get(ctx context.Context, key Key) (*types.CachedExposure, bool, error) {
	data, err := s.client.Get(ctx, entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, cacheError("failed to read cache entry", err)
	}

	entry, err := s.decode(data)
	if err != nil {
		// A corrupt value is treated as a miss and overwritten by the next Put.
		s.logger.WarnContext(ctx, "discarding undecodable cache entry", "key", key.String(), "error", err)
		return nil, false, nil
	}

	marker, ok, err := s.staleMarker(ctx, key.PatioID)
	if err != nil {
		return nil, false, err
	}
	if ok && !entry.ComputedAt.After(marker) {
		entry.IsStale = true
	}
	return entry, true, nil
}

func (s *RedisStore) staleMarker(ctx context.Context, patioID string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, staleKey(patioID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, cacheError("failed to read stale marker", err)
	}
	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, cacheError("malformed stale marker", err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

// Put implements Store. Entries already past their expiry are not written.
func (s *RedisStore) Put(ctx context.Context, key Key, entry types.CachedExposure) error {
	ttl := entry.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return nil
	}
	data, err := s.encode(entry)
	if err != nil {
		return cacheError("failed to encode cache entry", err)
	}

	ek := entryKey(key)
	if err := s.client.Set(ctx, ek, data, ttl).Err(); err != nil {
		return cacheError("failed to write cache entry", err)
	}
	if err := s.client.SAdd(ctx, indexKey(key.PatioID), ek).Err(); err != nil {
		return cacheError("failed to index cache entry", err)
	}
	if err := s.client.SAdd(ctx, patiosIndexKey, key.PatioID).Err(); err != nil {
		return cacheError("failed to index patio", err)
	}
	return nil
}

// MarkStale implements Store. It records at as the patio's stale marker and
// reports how many entries the patio has indexed.
func (s *RedisStore) MarkStale(ctx context.Context, patioID string, at time.Time) (int, error) {
	marker := strconv.FormatInt(at.UTC().UnixNano(), 10)
	if err := s.client.Set(ctx, staleKey(patioID), marker, s.staleMarkerTTL).Err(); err != nil {
		return 0, cacheError("failed to write stale marker", err)
	}
	n, err := s.client.SCard(ctx, indexKey(patioID)).Result()
	if err != nil {
		return 0, cacheError("failed to count patio entries", err)
	}
	return int(n), nil
}

// Evict implements Store. Expired entries have already been dropped by their
// TTL, so eviction prunes their index members and deletes entries covered by
// a stale marker.
func (s *RedisStore) Evict(ctx context.Context, _ time.Time) (int, error) {
	patios, err := s.client.SMembers(ctx, patiosIndexKey).Result()
	if err != nil {
		return 0, cacheError("failed to list cached patios", err)
	}

	evicted := 0
	for _, patioID := range patios {
		if err := ctx.Err(); err != nil {
			return evicted, err
		}
		n, err := s.evictPatio(ctx, patioID)
		evicted += n
		if err != nil {
			return evicted, err
		}
	}
	return evicted, nil
}

func (s *RedisStore) evictPatio(ctx context.Context, patioID string) (int, error) {
	idx := indexKey(patioID)
	members, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, cacheError("failed to list patio entries", err)
	}
	marker, hasMarker, err := s.staleMarker(ctx, patioID)
	if err != nil {
		return 0, err
	}

	evicted, remaining := 0, len(members)
	for _, ek := range members {
		gone, err := s.evictEntry(ctx, ek, marker, hasMarker)
		if err != nil {
			return evicted, err
		}
		if !gone {
			continue
		}
		if err := s.client.SRem(ctx, idx, ek).Err(); err != nil {
			return evicted, cacheError("failed to prune patio index", err)
		}
		evicted++
		remaining--
	}

	if remaining == 0 {
		if err := s.client.SRem(ctx, patiosIndexKey, patioID).Err(); err != nil {
			return evicted, cacheError("failed to prune patio set", err)
		}
	}
	return evicted, nil
}

// evictEntry deletes ek when it is covered by the stale marker and reports
// whether the entry no longer exists.
func (s *RedisStore) evictEntry(ctx context.Context, ek string, marker time.Time, hasMarker bool) (bool, error) {
	if !hasMarker {
		n, err := s.client.Exists(ctx, ek).Result()
		if err != nil {
			return false, cacheError("failed to check cache entry", err)
		}
		return n == 0, nil
	}

	data, err := s.client.Get(ctx, ek).Bytes()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, cacheError("failed to read cache entry", err)
	}
	entry, err := s.decode(data)
	if err == nil && entry.ComputedAt.After(marker) {
		return false, nil
	}
	if err := s.client.Del(ctx, ek).Err(); err != nil {
		return false, cacheError("failed to delete cache entry", err)
	}
	return true, nil
}
