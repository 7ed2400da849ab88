package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by a Redis server.
type RedisStore struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedis connects to the Redis server described by url
// (e.g. "redis://:password@host:6379/0") and verifies it with a PING.
func NewRedis(ctx context.Context, url string, logger *slog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("kvstore: parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("kvstore: connecting to redis at %s: %w", opts.Addr, err)
	}

	logger.Info("connected to redis", slog.String("addr", opts.Addr), slog.Int("db", opts.DB))

	return &RedisStore{rdb: rdb, logger: logger}, nil
}

// GetWithTTL issues GET and TTL in one pipeline round trip.
func (s *RedisStore) GetWithTTL(ctx context.Context, key string) (string, time.Duration, error) {
	var (
		getCmd *redis.StringCmd
		ttlCmd *redis.DurationCmd
	)

	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		getCmd = p.Get(ctx, key)
		ttlCmd = p.TTL(ctx, key)

		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", 0, fmt.Errorf("kvstore: reading %s: %w", key, err)
	}

	val, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return "", 0, ErrNotFound
	}

	if err != nil {
		return "", 0, fmt.Errorf("kvstore: reading %s: %w", key, err)
	}

	// TTL reports -1 for persistent keys and -2 when the key vanished
	// between the two commands.
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = NoExpiry
	}

	return val, ttl, nil
}

// Set stores value with the given expiry (none if ttl <= 0).
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}

	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kvstore: writing %s: %w", key, err)
	}

	s.logger.Debug("stored key", slog.String("key", key), slog.Duration("ttl", ttl))

	return nil
}

// Close closes the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
