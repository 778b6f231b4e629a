package redis

import (
	"context"
	"time"

	"telegram-image-gen/internal/config"

	"github.com/go-redis/redis/v8"
)

type RedisClient interface {
	Ping(ctx context.Context) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	LPush(ctx context.Context, key string, value interface{}) error
	LLen(ctx context.Context, key string) (int64, error)
	BRPop(ctx context.Context, timeout time.Duration, key string) (string, error)
	Close() error
}

var _ RedisClient = (*redClient)(nil)

type redClient struct {
	cli *redis.Client
}

func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redClient, error) {
	opts := &redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &redClient{cli: c}, nil
}

func (c *redClient) Ping(ctx context.Context) error { return c.cli.Ping(ctx).Err() }

func (c *redClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.cli.Set(ctx, key, value, expiration).Err()
}

func (c *redClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.cli.SetNX(ctx, key, value, expiration).Result()
}

func (c *redClient) Get(ctx context.Context, key string) (string, error) {
	return c.cli.Get(ctx, key).Result()
}

func (c *redClient) Incr(ctx context.Context, key string) (int64, error) {
	return c.cli.Incr(ctx, key).Result()
}

func (c *redClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.cli.Expire(ctx, key, expiration).Err()
}

func (c *redClient) Del(ctx context.Context, keys ...string) error {
	return c.cli.Del(ctx, keys...).Err()
}

func (c *redClient) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.cli.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *redClient) LPush(ctx context.Context, key string, value interface{}) error {
	return c.cli.LPush(ctx, key, value).Err()
}

func (c *redClient) LLen(ctx context.Context, key string) (int64, error) {
	return c.cli.LLen(ctx, key).Result()
}

// BRPop returns the popped value; redis.Nil maps to ("", redis.Nil) and is
// translated by callers.
func (c *redClient) BRPop(ctx context.Context, timeout time.Duration, key string) (string, error) {
	vals, err := c.cli.BRPop(ctx, timeout, key).Result()
	if err != nil {
		return "", err
	}
	// BRPOP replies [key, value]
	if len(vals) < 2 {
		return "", redis.Nil
	}
	return vals[1], nil
}

// Cli exposes the underlying client for primitives that need scripts.
func (c *redClient) Cli() *redis.Client { return c.cli }

func (c *redClient) Close() error { return c.cli.Close() }
