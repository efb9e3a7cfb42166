// Package cache is a JSON cache on Redis. Every call goes through a circuit
// breaker so an unavailable Redis degrades to cache misses.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"switchboard.dev/internal/obs"
)

const DefaultTTL = 5 * time.Minute

// Client is the subset of redis commands the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cache stores JSON values under string keys.
type Cache struct {
	client  Client
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
	log     zerolog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the expiry of stored values.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// Open parses a redis:// URL and returns a client.
func Open(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// New wraps client.
func New(client Client, opts ...Option) *Cache {
	c := &Cache{client: client, ttl: DefaultTTL, log: *obs.Logger()}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("cache breaker state changed")
		},
	})
	return c
}

// State reports the breaker state.
func (c *Cache) State() gobreaker.State {
	return c.breaker.State()
}

// Get decodes the value of key into dst. A miss, an open breaker or a
// Redis failure all report false.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.Get(ctx, key).Bytes()
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Debug().Err(err).Str("key", key).Msg("cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(v.([]byte), dst); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache entry undecodable")
		return false
	}
	return true
}

// Set stores v under key.
func (c *Cache) Set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Set(ctx, key, data, c.ttl).Err()
	})
	return err
}

// Invalidate deletes keys.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Del(ctx, keys...).Err()
	})
	return err
}
