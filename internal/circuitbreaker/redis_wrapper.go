package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisWrapper guards the session-store Redis client. redis.Nil is a miss, not
// a fault.
type RedisWrapper struct {
	client *redis.Client
	cb     *CircuitBreaker
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	cfg := ConfigFor(ServiceSessionStore)
	cfg.Neutral = func(err error) bool { return errors.Is(err, redis.Nil) }
	return &RedisWrapper{
		client: client,
		cb:     New("redis", ServiceSessionStore, cfg, logger),
	}
}

type redisCmd interface {
	Err() error
	SetErr(error)
}

// guard issues one command through the breaker. When the breaker refuses the
// call, placeholder supplies an empty command carrying the refusal.
func guard[C redisCmd](ctx context.Context, cb *CircuitBreaker, issue func() C, placeholder func(context.Context, ...interface{}) C) C {
	var cmd C
	issued := false
	err := cb.Execute(ctx, func() error {
		cmd = issue()
		issued = true
		return cmd.Err()
	})
	if !issued {
		cmd = placeholder(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	return guard(ctx, rw.cb, func() *redis.StatusCmd { return rw.client.Ping(ctx) }, redis.NewStatusCmd)
}

func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	return guard(ctx, rw.cb, func() *redis.StringCmd { return rw.client.Get(ctx, key) }, redis.NewStringCmd)
}

func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	return guard(ctx, rw.cb, func() *redis.StatusCmd { return rw.client.Set(ctx, key, value, expiration) }, redis.NewStatusCmd)
}

func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return guard(ctx, rw.cb, func() *redis.IntCmd { return rw.client.Del(ctx, keys...) }, redis.NewIntCmd)
}

func (rw *RedisWrapper) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return guard(ctx, rw.cb, func() *redis.BoolCmd { return rw.client.Expire(ctx, key, expiration) }, redis.NewBoolCmd)
}

// Close closes the underlying client.
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
