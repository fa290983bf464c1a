// Package cache wraps the Redis client the gateway uses as its shared
// key-value store: the connection directory, the subscription index, and
// the rate-limit counters all read and write through this client. Kept
// deliberately thin over go-redis; see Cache.Increment and Cache.SetAdd
// for the primitives the higher-level components compose.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client. A disabled Cache (client is nil) makes
// every operation a safe no-op, so the gateway can come up degraded when
// Redis is unconfigured.
type Cache struct {
	client *redis.Client
}

// Config holds cache configuration.
type Config struct {
	// URL is a redis:// connection string (REDIS_URL). Takes precedence
	// over Host/Port/Password when non-empty.
	URL string

	Host     string
	Port     string
	Password string
	DB       int

	Enabled bool
}

// NewCache creates a new Redis client. When Enabled is false, a disabled
// Cache is returned and every method becomes a no-op.
func NewCache(config Config) (*Cache, error) {
	if !config.Enabled {
		return &Cache{client: nil}, nil
	}

	var opts *redis.Options
	if config.URL != "" {
		parsed, err := redis.ParseURL(config.URL)
		if err != nil {
			return nil, fmt.Errorf("cache: parse REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     fmt.Sprintf("%s:%s", config.Host, config.Port),
			Password: config.Password,
			DB:       config.DB,
		}
	}

	opts.PoolSize = 25
	opts.MinIdleConns = 5
	opts.MaxIdleConns = 10
	opts.ConnMaxLifetime = 5 * time.Minute
	opts.ConnMaxIdleTime = 1 * time.Minute
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 8 * time.Millisecond
	opts.MaxRetryBackoff = 512 * time.Millisecond

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// NewFromClient wraps an already-constructed *redis.Client, used by tests
// to point the cache at an in-process miniredis instance.
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IsEnabled returns whether the cache has a live Redis connection.
func (c *Cache) IsEnabled() bool {
	return c.client != nil
}

// SetAdd adds members to a Redis set.
func (c *Cache) SetAdd(ctx context.Context, key string, members ...string) error {
	if !c.IsEnabled() {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := c.client.SAdd(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("cache: SADD %s: %w", key, err)
	}
	return nil
}

// SetRemove removes members from a Redis set.
func (c *Cache) SetRemove(ctx context.Context, key string, members ...string) error {
	if !c.IsEnabled() {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := c.client.SRem(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("cache: SREM %s: %w", key, err)
	}
	return nil
}

// SetMembers returns all members of a Redis set.
func (c *Cache) SetMembers(ctx context.Context, key string) ([]string, error) {
	if !c.IsEnabled() {
		return nil, nil
	}
	members, err := c.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: SMEMBERS %s: %w", key, err)
	}
	return members, nil
}

// Delete removes one or more keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if !c.IsEnabled() || len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: DEL: %w", err)
	}
	return nil
}

// Set stores a plain string value, with an optional TTL (0 means no
// expiry). Used for the per-user presence flag.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if !c.IsEnabled() {
		return nil
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: SET %s: %w", key, err)
	}
	return nil
}

// Get returns the value stored at key, or "" when the key is absent.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	if !c.IsEnabled() {
		return "", nil
	}
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cache: GET %s: %w", key, err)
	}
	return val, nil
}

// HashSet stores a single field on a Redis hash, used for the instance
// presence-heartbeat table (gateway:instances).
func (c *Cache) HashSet(ctx context.Context, key, field string, value interface{}) error {
	if !c.IsEnabled() {
		return nil
	}
	if err := c.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("cache: HSET %s %s: %w", key, field, err)
	}
	return nil
}

// HashGetAll returns every field/value pair on a Redis hash.
func (c *Cache) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	if !c.IsEnabled() {
		return nil, nil
	}
	vals, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: HGETALL %s: %w", key, err)
	}
	return vals, nil
}

// HashDelete removes one or more fields from a Redis hash.
func (c *Cache) HashDelete(ctx context.Context, key string, fields ...string) error {
	if !c.IsEnabled() || len(fields) == 0 {
		return nil
	}
	if err := c.client.HDel(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("cache: HDEL %s: %w", key, err)
	}
	return nil
}

// Increment atomically increments a counter and returns its new value.
func (c *Cache) Increment(ctx context.Context, key string) (int64, error) {
	if !c.IsEnabled() {
		return 0, fmt.Errorf("cache: disabled")
	}
	val, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: INCR %s: %w", key, err)
	}
	return val, nil
}

// ListPushCapped prepends value to a Redis list and trims the list to the
// most recent max entries, used by the chat hub's per-table history log.
func (c *Cache) ListPushCapped(ctx context.Context, key string, value string, max int64) error {
	if !c.IsEnabled() {
		return nil
	}
	if err := c.client.LPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("cache: LPUSH %s: %w", key, err)
	}
	if err := c.client.LTrim(ctx, key, 0, max-1).Err(); err != nil {
		return fmt.Errorf("cache: LTRIM %s: %w", key, err)
	}
	return nil
}

// ListRange returns entries [start, stop] (inclusive) of a Redis list.
func (c *Cache) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if !c.IsEnabled() {
		return nil, nil
	}
	vals, err := c.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: LRANGE %s: %w", key, err)
	}
	return vals, nil
}

// Expire sets a TTL on an existing key.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if !c.IsEnabled() {
		return nil
	}
	if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("cache: EXPIRE %s: %w", key, err)
	}
	return nil
}
