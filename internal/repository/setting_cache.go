package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/ecollege/hse-api/pkg/errors"
)

// SettingCache provides a short-TTL Redis cache in front of the settings
// table. Settings are read on every edit-window check, so a few seconds of
// staleness is traded for not hitting Postgres on each request.
type SettingCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewSettingCache constructs a setting cache.
func NewSettingCache(client *redis.Client, logger *zap.Logger) *SettingCache {
	return &SettingCache{client: client, logger: logger}
}

// Get retrieves and unmarshals the cached value into the provided destination.
func (c *SettingCache) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cached setting %s: %w", key, err)
	}

	return nil
}

// Set marshals the provided value and stores it with the given TTL.
func (c *SettingCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal setting %s: %w", key, err)
	}

	if err := c.client.Set(ctx, cacheKey(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	return nil
}

// Invalidate drops the cached entry for a key, typically after a write.
func (c *SettingCache) Invalidate(ctx context.Context, key string) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, cacheKey(key)).Err(); err != nil && c.logger != nil {
		c.logger.Warn("failed to invalidate setting cache", zap.String("key", key), zap.Error(err))
	}
}

func cacheKey(key string) string {
	return "settings:" + key
}
