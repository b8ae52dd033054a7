package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss is returned by Get when the key is absent.
var ErrCacheMiss = errors.New("redis: cache miss")

// Cache provides JSON caching on top of a Client. Keys follow the
// namespace:entity:attribute convention.
type Cache struct {
	client    *Client
	namespace string
	log       *zap.Logger
}

// NewCache creates a Cache instance scoped to a namespace.
func NewCache(client *Client, namespace string) *Cache {
	return &Cache{
		client:    client,
		namespace: strings.ToLower(namespace),
		log:       client.log.With(zap.String("module", "cache")),
	}
}

// Key builds a cache key from entity and attribute parts.
func (c *Cache) Key(entity, attribute string) string {
	parts := []string{c.namespace, strings.ToLower(entity)}
	if attribute != "" {
		parts = append(parts, strings.ToLower(attribute))
	}
	return strings.Join(parts, ":")
}

// Set stores a value in the cache with the given TTL.
func (c *Cache) Set(ctx context.Context, entity, attribute string, value interface{}, ttl time.Duration) error {
	key := c.Key(entity, attribute)
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.log.Error("failed to set cache", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Get retrieves a value from the cache into value. Returns ErrCacheMiss when
// the key is absent.
func (c *Cache) Get(ctx context.Context, entity, attribute string, value interface{}) error {
	key := c.Key(entity, attribute)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		c.log.Error("failed to get cache", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to get cache: %w", err)
	}

	if err := json.Unmarshal(data, value); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return nil
}

// Delete removes values from the cache.
func (c *Cache) Delete(ctx context.Context, entity string, attributes ...string) error {
	keys := make([]string, 0, len(attributes))
	for _, attr := range attributes {
		keys = append(keys, c.Key(entity, attr))
	}
	if len(keys) == 0 {
		keys = append(keys, c.Key(entity, ""))
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Error("failed to delete cache", zap.String("entity", entity), zap.Error(err))
		return fmt.Errorf("failed to delete cache: %w", err)
	}
	return nil
}

// DeletePattern removes every key matching the entity's pattern. Used to
// invalidate all cached versions of one module's schema at once.
func (c *Cache) DeletePattern(ctx context.Context, entity string) error {
	pattern := c.Key(entity, "*")

	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.Error("failed to scan cache keys", zap.String("pattern", pattern), zap.Error(err))
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Error("failed to delete cache keys", zap.String("pattern", pattern), zap.Error(err))
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}
