package resources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheUnavailable = errors.New("cache unavailable")

type Cache struct {
	Client redis.UniversalClient
}

func NewCache(client redis.UniversalClient) *Cache {
	return &Cache{Client: client}
}

// SetupRedis connects to redisURL and checks the server answers a PING.
func SetupRedis(ctx context.Context, redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: failed to connect to Redis: %v", ErrCacheUnavailable, err)
	}
	return NewCache(rdb), nil
}

// Incr bumps key and, in the same transaction, sets expiration when the key
// has none yet, giving a fixed window.
func (c *Cache) Incr(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := c.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, expiration)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return incr.Val(), nil
}

// SetIfAbsent stores key only when it does not exist yet and reports whether
// it did.
func (c *Cache) SetIfAbsent(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	ok, err := c.Client.SetNX(ctx, key, value, expiration).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return ok, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.Client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func (c *Cache) GetTTL(ctx context.Context, key string) (time.Duration, error) {
	r, err := c.Client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return r, nil
}

func (c *Cache) Close() error {
	return c.Client.Close()
}
