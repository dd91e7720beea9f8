// Package presence stores which identities are connected, and to which
// server instance, in Redis.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// DefaultTTL bounds how long a presence record outlives a server that died
// without cleaning up.
const DefaultTTL = 24 * time.Hour

// redisClient defines the interface we need from go-redis.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisPresenceCache implements realtime.PresenceCache using one JSON
// string key per identity: `presence:{identity}`.
type RedisPresenceCache struct {
	client redisClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisPresenceCache is the constructor for the RedisPresenceCache.
func NewRedisPresenceCache(client redisClient, ttl time.Duration, logger *slog.Logger) (*RedisPresenceCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisPresenceCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "redis_presence_cache"),
	}, nil
}

func presenceKey(identity string) string {
	return "presence:" + identity
}

// Set records info for identity, replacing any previous record.
func (c *RedisPresenceCache) Set(ctx context.Context, identity string, info realtime.ConnectionInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}
	key := presenceKey(identity)
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Error("Failed to set presence", "key", key, "err", err)
		return fmt.Errorf("failed to set presence: %w", err)
	}
	c.logger.Debug("Set presence", "key", key, "instance", info.ServerInstanceID)
	return nil
}

// Fetch returns the record for identity, or realtime.ErrNotPresent.
func (c *RedisPresenceCache) Fetch(ctx context.Context, identity string) (realtime.ConnectionInfo, error) {
	raw, err := c.client.Get(ctx, presenceKey(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return realtime.ConnectionInfo{}, realtime.ErrNotPresent
	}
	if err != nil {
		return realtime.ConnectionInfo{}, fmt.Errorf("failed to get presence: %w", err)
	}
	var info realtime.ConnectionInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return realtime.ConnectionInfo{}, fmt.Errorf("failed to decode presence: %w", err)
	}
	return info, nil
}

// Delete removes the record for identity. Deleting a missing record is not
// an error.
func (c *RedisPresenceCache) Delete(ctx context.Context, identity string) error {
	key := presenceKey(identity)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Error("Failed to delete presence", "key", key, "err", err)
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	return nil
}
