// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache is a read-through accelerator in front of the persisted
// canvas, backed by Redis.
//
// The cache fails open. Every backend error is logged and reported as a
// miss or absorbed as a no-op; callers never see a cache failure, and a
// disabled cache leaves every other component correct, only slower. Nothing
// correctness-critical may be decided from a cache hit.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the Redis connection.
type Config struct {
	// Addr is the Redis host:port. Ignored when Enabled is false.
	Addr string

	// Password is optional Redis auth.
	Password string

	// DB selects the Redis logical database.
	DB int

	// Enabled turns the cache on. When false every operation is a no-op
	// and Get always misses.
	Enabled bool
}

// Cache wraps a Redis client with fail-open semantics.
type Cache struct {
	rdb     *redis.Client
	enabled bool
	log     *slog.Logger
}

// New builds a Cache. The connection is not verified here; per-operation
// errors are absorbed, so a dead Redis behaves like a disabled cache.
func New(cfg Config) *Cache {
	c := &Cache{enabled: cfg.Enabled, log: slog.Default()}
	if !cfg.Enabled {
		return c
	}
	c.rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return c
}

// Enabled reports whether the cache has a backing client.
func (c *Cache) Enabled() bool {
	return c != nil && c.enabled && c.rdb != nil
}

// Get unmarshals the cached value for key into dest and reports whether the
// key was present. Backend errors are logged and count as misses.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if !c.Enabled() {
		return false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("cache get failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.log.Warn("cache entry undecodable, dropping", "key", key, "error", err)
		c.Delete(ctx, key)
		return false
	}
	return true
}

// Set stores value under key with a TTL. A zero ttl stores without expiry.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("cache set: marshal failed", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.log.Warn("cache set failed", "key", key, "error", err)
	}
}

// Delete removes the given keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if !c.Enabled() || len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("cache delete failed", "keys", keys, "error", err)
	}
}

// DeletePattern removes every key matching a glob pattern. Uses SCAN, not
// KEYS, so a large keyspace does not block Redis.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) {
	if !c.Enabled() {
		return
	}
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.Warn("cache scan failed", "pattern", pattern, "error", err)
		return
	}
	c.Delete(ctx, keys...)
}

// Flush empties the current Redis database.
func (c *Cache) Flush(ctx context.Context) {
	if !c.Enabled() {
		return
	}
	if err := c.rdb.FlushDB(ctx).Err(); err != nil {
		c.log.Warn("cache flush failed", "error", err)
	}
}

// Ping reports whether the backing Redis answers.
func (c *Cache) Ping(ctx context.Context) bool {
	if !c.Enabled() {
		return false
	}
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.log.Warn("cache ping failed", "error", err)
		return false
	}
	return true
}
