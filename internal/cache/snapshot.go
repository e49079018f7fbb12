package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"qms/walkin-queue/internal/models"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache keeps rendered screen snapshots in Redis. Entries are keyed by
// a generation counter, so invalidation is a single INCR and stale entries
// age out through their TTL. Redis errors count as misses.
type SnapshotCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewSnapshotCache(rdb *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *SnapshotCache {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "walkin"
	}
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SnapshotCache{rdb: rdb, prefix: prefix, ttl: ttl, logger: logger}
}

func (c *SnapshotCache) generationKey() string {
	return c.prefix + ":snapshot:gen"
}

func (c *SnapshotCache) entryKey(generation, key string) string {
	return c.prefix + ":snapshot:" + generation + ":" + key
}

func (c *SnapshotCache) generation(ctx context.Context) (string, error) {
	gen, err := c.rdb.Get(ctx, c.generationKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return gen, err
}

// Get returns the cached snapshot for key together with the generation it
// looked under. A miss still reports the generation so the caller can Set
// under it; an empty generation means the cache is unusable right now.
func (c *SnapshotCache) Get(ctx context.Context, key string) (models.Snapshot, string, bool) {
	gen, err := c.generation(ctx)
	if err != nil {
		c.logger.Warn("snapshot cache generation read failed", "error", err)
		return models.Snapshot{}, "", false
	}
	raw, err := c.rdb.Get(ctx, c.entryKey(gen, key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("snapshot cache read failed", "error", err)
		}
		return models.Snapshot{}, gen, false
	}
	var snapshot models.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		c.logger.Warn("snapshot cache entry corrupt", "error", err)
		return models.Snapshot{}, gen, false
	}
	return snapshot, gen, true
}

// Set stores snapshot under the generation Get reported. A write that raced
// an Invalidate lands in the old generation, where nobody reads it.
func (c *SnapshotCache) Set(ctx context.Context, generation, key string, snapshot models.Snapshot) {
	if generation == "" {
		return
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	if err := c.rdb.SetEx(ctx, c.entryKey(generation, key), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("snapshot cache write failed", "error", err)
	}
}

func (c *SnapshotCache) Invalidate(ctx context.Context) {
	if err := c.rdb.Incr(ctx, c.generationKey()).Err(); err != nil {
		c.logger.Warn("snapshot cache invalidation failed", "error", err)
	}
}
