// Redis client setup with connection pooling and health checks.
package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClient wraps the go-redis client with health checks and
// convenience methods used by the cache and scheduler.
type RedisClient struct {
	client      *redis.Client
	healthCheck chan struct{}
}

// NewRedisClient connects to Redis at the given URL
// (redis://host:port/db, rediss:// for TLS).
func NewRedisClient(url string) (*RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	opts.PoolSize = 100
	opts.MinIdleConns = 10
	opts.PoolTimeout = 4 * time.Second
	opts.IdleTimeout = 5 * time.Minute
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rc := &RedisClient{
		client:      redis.NewClient(opts),
		healthCheck: make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rc.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	go rc.runHealthCheck()

	log.Println("Redis client connected successfully")
	return rc, nil
}

func (rc *RedisClient) runHealthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := rc.client.Ping(ctx).Err(); err != nil {
				log.Printf("Redis health check failed: %v", err)
			}
			cancel()
		case <-rc.healthCheck:
			return
		}
	}
}

// Client returns the underlying Redis client
func (rc *RedisClient) Client() *redis.Client {
	return rc.client
}

// Ping tests the Redis connection
func (rc *RedisClient) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Health returns a detailed health status
func (rc *RedisClient) Health(ctx context.Context) map[string]interface{} {
	status := map[string]interface{}{
		"connected": false,
		"latency":   "unknown",
	}

	start := time.Now()
	if err := rc.client.Ping(ctx).Err(); err != nil {
		status["error"] = err.Error()
		return status
	}

	status["connected"] = true
	status["latency"] = time.Since(start).String()

	stats := rc.client.PoolStats()
	status["pool"] = map[string]interface{}{
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
	}

	return status
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	close(rc.healthCheck)
	return rc.client.Close()
}

// Get retrieves a value from Redis
func (rc *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return rc.client.Get(ctx, key).Result()
}

// Set stores a value in Redis with optional TTL
func (rc *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return rc.client.Set(ctx, key, value, ttl).Err()
}

// Del deletes keys from Redis
func (rc *RedisClient) Del(ctx context.Context, keys ...string) error {
	return rc.client.Del(ctx, keys...).Err()
}

// Incr increments a counter
func (rc *RedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return rc.client.Incr(ctx, key).Result()
}

// Expire sets TTL on a key
func (rc *RedisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return rc.client.Expire(ctx, key, ttl).Err()
}

// SetNX sets a key only if it does not exist. Used for scheduler
// leader election and publish locks.
func (rc *RedisClient) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return rc.client.SetNX(ctx, key, value, ttl).Result()
}
