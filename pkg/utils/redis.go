package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

const sockURLKeyPrefix = "callmap:sockurl:"

// ErrCacheMiss is returned by SockURLCache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// SockURLCache is a redis lookaside cache for the call_id -> sock_url hot
// path. Entries carry a TTL; writers invalidate on every mutation that can
// change which endpoint a call resolves to.
type SockURLCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSockURLCache wraps rdb. ttl <= 0 gets a conservative default.
func NewSockURLCache(rdb *redis.Client, ttl time.Duration) *SockURLCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SockURLCache{rdb: rdb, ttl: ttl}
}

func (c *SockURLCache) Get(ctx context.Context, callID string) (string, error) {
	if callID == "" {
		return "", fmt.Errorf("call_id is required")
	}
	url, err := c.rdb.Get(ctx, sockURLKeyPrefix+callID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", err
	}
	return url, nil
}

func (c *SockURLCache) Set(ctx context.Context, callID, sockURL string) error {
	if callID == "" || sockURL == "" {
		return fmt.Errorf("call_id and sock_url are required")
	}
	return c.rdb.Set(ctx, sockURLKeyPrefix+callID, sockURL, c.ttl).Err()
}

func (c *SockURLCache) Invalidate(ctx context.Context, callID string) error {
	if callID == "" {
		return nil
	}
	return c.rdb.Del(ctx, sockURLKeyPrefix+callID).Err()
}
