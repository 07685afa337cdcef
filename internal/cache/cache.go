/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache keeps the last good snapshot per area in Redis so a restarted
// or standby instance can serve it before its own first refresh.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultSnapshotTTL bounds how old a restored snapshot may be.
const DefaultSnapshotTTL = 24 * time.Hour

// Key prefixes for Redis cache
const (
	KeySnapshot = "loadshed:cache:snapshot:" // + area
	keyPattern  = "loadshed:cache:*"
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SnapshotTTL time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		SnapshotTTL:    DefaultSnapshotTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a cache. An unreachable server yields a disabled cache whose
// reads miss and writes are dropped.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = DefaultSnapshotTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     4,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without snapshot store")
		_ = client.Close()
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}
	return true, nil
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}

// CachedSnapshot is the stored form of the last good refresh for an area.
type CachedSnapshot struct {
	Area      string    `json:"area"`
	Stage     int       `json:"stage"`
	Current   string    `json:"current"`
	Next      string    `json:"next"`
	Upcoming  string    `json:"upcoming"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetSnapshot returns the stored snapshot for area.
func (c *Cache) GetSnapshot(ctx context.Context, area string) (*CachedSnapshot, bool) {
	var snapshot CachedSnapshot
	found, err := c.get(ctx, KeySnapshot+area, &snapshot)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("area", area).Time("updated_at", snapshot.UpdatedAt).Msg("snapshot cache hit")
	return &snapshot, true
}

// SetSnapshot stores snapshot under its area.
func (c *Cache) SetSnapshot(ctx context.Context, snapshot *CachedSnapshot) error {
	if snapshot == nil || snapshot.Area == "" {
		return fmt.Errorf("snapshot area is required")
	}
	return c.set(ctx, KeySnapshot+snapshot.Area, snapshot, c.config.SnapshotTTL)
}

// InvalidateSnapshot removes the stored snapshot for area.
func (c *Cache) InvalidateSnapshot(ctx context.Context, area string) error {
	c.logger.Debug().Str("area", area).Msg("invalidating snapshot cache")
	return c.delete(ctx, KeySnapshot+area)
}

// InvalidateAll removes every key this package wrote.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if !c.IsAvailable() {
		return nil
	}

	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, keyPattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}
		cursor = nextCursor
		if cursor == 0 {
			return nil
		}
	}
}
