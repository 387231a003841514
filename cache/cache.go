// Forecast result cache.
// Redis-backed when configured, with an in-process fallback so the platform
// runs without external services. Caching is best-effort: failures are logged
// and the caller recomputes.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"sales-forecasting-platform/config"
	"sales-forecasting-platform/forecast"
)

// Cache stores computed forecasts keyed by request parameters.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Entry

	mu    sync.Mutex
	local map[string]localEntry
}

type localEntry struct {
	payload   []byte
	expiresAt time.Time
}

// New builds a cache from config. With Redis disabled the cache degrades to
// an in-process map with the same TTL semantics.
func New(cfg config.RedisConfig, log *logrus.Logger) *Cache {
	c := &Cache{
		ttl:   cfg.CacheTTL.Duration,
		log:   log.WithField("component", "cache"),
		local: make(map[string]localEntry),
	}
	if c.ttl <= 0 {
		c.ttl = 5 * time.Minute
	}

	if cfg.Enabled {
		c.client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}
	return c
}

// Ping verifies Redis connectivity. Always succeeds for the local fallback.
func (c *Cache) Ping(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Key builds the cache key for a forecast request.
func Key(productID, modelType string, horizon int, confidence float64) string {
	return fmt.Sprintf("forecast:%s:%s:%d:%.2f", productID, modelType, horizon, confidence)
}

// Get returns a cached forecast result, if present and fresh.
func (c *Cache) Get(ctx context.Context, key string) (*forecast.Result, bool) {
	var payload []byte

	if c.client != nil {
		raw, err := c.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil, false
		}
		if err != nil {
			c.log.WithError(err).Debug("cache read failed")
			return nil, false
		}
		payload = raw
	} else {
		c.mu.Lock()
		entry, ok := c.local[key]
		if ok && time.Now().After(entry.expiresAt) {
			delete(c.local, key)
			ok = false
		}
		c.mu.Unlock()
		if !ok {
			return nil, false
		}
		payload = entry.payload
	}

	var result forecast.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		c.log.WithError(err).Debug("cache entry corrupt")
		return nil, false
	}
	return &result, true
}

// Set stores a forecast result under the key for the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, result *forecast.Result) {
	payload, err := json.Marshal(result)
	if err != nil {
		c.log.WithError(err).Debug("cache encode failed")
		return
	}

	if c.client != nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.log.WithError(err).Debug("cache write failed")
		}
		return
	}

	c.mu.Lock()
	c.local[key] = localEntry{payload: payload, expiresAt: time.Now().Add(c.ttl)}
	// Opportunistic prune to bound the fallback map.
	if len(c.local) > 10000 {
		now := time.Now()
		for k, e := range c.local {
			if now.After(e.expiresAt) {
				delete(c.local, k)
			}
		}
	}
	c.mu.Unlock()
}

// InvalidateProduct drops every cached forecast for a product. Called after
// new sales arrive or a model is retrained.
func (c *Cache) InvalidateProduct(ctx context.Context, productID string) {
	pattern := fmt.Sprintf("forecast:%s:*", productID)

	if c.client != nil {
		iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
				c.log.WithError(err).Debug("cache invalidation failed")
			}
		}
		if err := iter.Err(); err != nil {
			c.log.WithError(err).Debug("cache scan failed")
		}
		return
	}

	prefix := fmt.Sprintf("forecast:%s:", productID)
	c.mu.Lock()
	for k := range c.local {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.local, k)
		}
	}
	c.mu.Unlock()
}
