package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache errors
var (
	ErrCacheNotAvailable = errors.New("cache not available")
	ErrCacheNotFound     = errors.New("cache not found")
)

// CacheHelper provides cache-aside operations for repositories. A nil client
// degrades gracefully: reads miss, writes are dropped.
type CacheHelper struct {
	client *redis.Client
	prefix string
}

func NewCacheHelper(client *redis.Client, prefix string) *CacheHelper {
	return &CacheHelper{
		client: client,
		prefix: prefix,
	}
}

// CacheConfig defines TTL and key prefix per data type.
type CacheConfig struct {
	TTL    time.Duration
	Prefix string
}

var (
	// Template definitions change rarely once scheduled.
	TemplateCacheConfig = CacheConfig{
		TTL:    5 * time.Minute,
		Prefix: "template:",
	}

	// Pool capacity counts are hot during template creation.
	PoolCacheConfig = CacheConfig{
		TTL:    2 * time.Minute,
		Prefix: "pool:",
	}

	// Fallback questions staged for oracle outages.
	FallbackCacheConfig = CacheConfig{
		TTL:    10 * time.Minute,
		Prefix: "fallback:",
	}
)

func (c *CacheHelper) key(key string) string {
	return c.prefix + key
}

// Get retrieves and unmarshals data from cache.
func (c *CacheHelper) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client == nil {
		return ErrCacheNotAvailable
	}

	data, err := c.client.Get(ctx, c.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheNotFound
		}
		return fmt.Errorf("cache get error: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}

	return nil
}

// Set marshals and stores data in cache.
func (c *CacheHelper) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return nil // Graceful degradation when cache not available
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}

	return c.client.Set(ctx, c.key(key), data, ttl).Err()
}

// Delete removes keys from cache.
func (c *CacheHelper) Delete(ctx context.Context, keys ...string) error {
	if c.client == nil || len(keys) == 0 {
		return nil
	}

	cacheKeys := make([]string, len(keys))
	for i, key := range keys {
		cacheKeys[i] = c.key(key)
	}

	return c.client.Del(ctx, cacheKeys...).Err()
}

// InvalidatePattern removes all keys matching a pattern using SCAN.
func (c *CacheHelper) InvalidatePattern(ctx context.Context, pattern string) error {
	if c.client == nil {
		return nil
	}

	fullPattern := c.key(pattern)
	var cursor uint64
	var keys []string

	for {
		scanKeys, next, err := c.client.Scan(ctx, cursor, fullPattern, 100).Result()
		if err != nil {
			return fmt.Errorf("cache scan pattern error: %w", err)
		}
		keys = append(keys, scanKeys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return nil
	}

	return c.client.Del(ctx, keys...).Err()
}

// CacheOrExecute implements the cache-aside pattern: return the cached value
// when present, otherwise run fetchFunc, populate the cache asynchronously,
// and unmarshal the fresh value into dest.
func (c *CacheHelper) CacheOrExecute(ctx context.Context, key string, dest interface{}, ttl time.Duration, fetchFunc func() (interface{}, error)) error {
	err := c.Get(ctx, key, dest)
	if err == nil {
		return nil
	}

	if !errors.Is(err, ErrCacheNotFound) && !errors.Is(err, ErrCacheNotAvailable) {
		slog.Info("Cache get error, proceeding to fetch", "error", err, "key", key)
	}

	value, err := fetchFunc()
	if err != nil {
		return fmt.Errorf("fetch function error: %w", err)
	}

	go func(parentCtx context.Context) {
		ctxWithTimeout, cancel := context.WithTimeout(parentCtx, 5*time.Second)
		defer cancel()
		if err := c.Set(ctxWithTimeout, key, value, ttl); err != nil {
			slog.Error("Cache set error", "error", err, "key", key)
		}
	}(context.WithoutCancel(ctx))

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal result error: %w", err)
	}

	return json.Unmarshal(data, dest)
}

// CacheManager groups the cache helpers used across the engine.
type CacheManager struct {
	Template *CacheHelper
	Pool     *CacheHelper
	Fallback *CacheHelper
}

func NewCacheManager(client *redis.Client) *CacheManager {
	return &CacheManager{
		Template: NewCacheHelper(client, TemplateCacheConfig.Prefix),
		Pool:     NewCacheHelper(client, PoolCacheConfig.Prefix),
		Fallback: NewCacheHelper(client, FallbackCacheConfig.Prefix),
	}
}

// HealthCheck verifies cache connectivity.
func (cm *CacheManager) HealthCheck(ctx context.Context) error {
	if cm.Template.client == nil {
		return ErrCacheNotAvailable
	}

	if _, err := cm.Template.client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("cache health check failed: %w", err)
	}

	return nil
}

// InvalidateTemplate drops all cached reads for a template.
func (cm *CacheManager) InvalidateTemplate(ctx context.Context, templateID uint) error {
	return cm.Template.InvalidatePattern(ctx, fmt.Sprintf("id:%d*", templateID))
}
