package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/researchbridge-backend/internal/platform/envutil"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
)

const defaultTTL = 10 * time.Minute

type Config struct {
	Addr string
	TTL  time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Addr: envutil.String("REDIS_ADDR", ""),
		TTL:  envutil.Seconds("SNAPSHOT_CACHE_TTL_SECONDS", defaultTTL),
	}
}

// SnapshotCache stores encoded session snapshots under a TTL.
type SnapshotCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedisSnapshotCache dials and pings Redis. A missing address is an error;
// callers fall back to running without a cache.
func NewRedisSnapshotCache(log *logger.Logger, cfg Config) (*SnapshotCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewSnapshotCache(log, rdb, cfg.TTL), nil
}

func NewSnapshotCache(log *logger.Logger, rdb *goredis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &SnapshotCache{
		log: log.With("service", "RedisSnapshotCache"),
		rdb: rdb,
		ttl: ttl,
	}
}

func (c *SnapshotCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c == nil || c.rdb == nil {
		return nil, false, nil
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (c *SnapshotCache) Set(ctx context.Context, key string, val []byte) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Set(ctx, key, val, c.ttl).Err()
}

// Client exposes the underlying client for health collectors.
func (c *SnapshotCache) Client() *goredis.Client {
	if c == nil {
		return nil
	}
	return c.rdb
}

func (c *SnapshotCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
