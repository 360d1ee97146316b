package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"example.com/eduplatform/services/quizgen/config"
	"example.com/eduplatform/services/quizgen/internal/models"
)

const statisticsKey = "quizgen:statistics"

// RedisCache provides caching using Redis
type RedisCache struct {
	client  *redis.Client
	enabled bool
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled {
		return &RedisCache{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &RedisCache{
		client:  client,
		enabled: true,
	}, nil
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string, value interface{}) error {
	if !c.enabled {
		return errors.New("cache is disabled")
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return errors.Wrap(err, "key not found in cache")
		}
		return errors.Wrap(err, "failed to get value from Redis")
	}

	if err := json.Unmarshal(data, value); err != nil {
		return errors.Wrap(err, "failed to unmarshal cached value")
	}

	return nil
}

// Set stores a value in cache with optional expiration
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if !c.enabled {
		return errors.New("cache is disabled")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "failed to marshal value for caching")
	}

	if err := c.client.Set(ctx, key, data, expiration).Err(); err != nil {
		return errors.Wrap(err, "failed to set value in Redis")
	}

	return nil
}

// GetStatistics retrieves the cached statistics snapshot
func (c *RedisCache) GetStatistics(ctx context.Context) (*models.GenerationStatistics, error) {
	var stats models.GenerationStatistics
	if err := c.Get(ctx, statisticsKey, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// SetStatistics caches the statistics snapshot
func (c *RedisCache) SetStatistics(ctx context.Context, stats *models.GenerationStatistics) error {
	return c.Set(ctx, statisticsKey, stats, 5*time.Minute)
}

// InvalidateStatistics drops the cached statistics snapshot after a
// projected event changes the rollup
func (c *RedisCache) InvalidateStatistics(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	if err := c.client.Del(ctx, statisticsKey).Err(); err != nil {
		return errors.Wrap(err, "failed to invalidate statistics cache")
	}
	return nil
}

// GetGenerationCacheKey generates a cache key for one generation run
func GetGenerationCacheKey(aggregateID string) string {
	return fmt.Sprintf("generation:%s", aggregateID)
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	if !c.enabled || c.client == nil {
		return nil
	}

	return c.client.Close()
}
