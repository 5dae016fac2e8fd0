package persistence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/virtual-queue/internal/config"
)

// Redis wraps the go-redis client that backs the position cache. The cache
// is expendable, so an unreachable server is a startup warning, not a fatal
// error; main checks Available to decide between the Redis-backed and the
// in-process position cache.
type Redis struct {
	Client    *redis.Client
	available bool
}

// NewRedis connects to Redis and probes it once. The probe result is kept
// so callers can pick a cache backend without re-dialing.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	r := &Redis{Client: client}
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("redis unreachable; position lookups will use the in-process cache",
			zap.String("addr", cfg.Addr), zap.Error(err))
		return r
	}
	r.available = true
	logger.Info("connected to redis",
		zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return r
}

// Available reports whether the startup probe reached the server.
func (r *Redis) Available() bool {
	return r != nil && r.available
}

// Ping re-probes connectivity, used by the readiness endpoint.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}
