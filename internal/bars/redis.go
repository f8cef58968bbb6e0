package bars

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "optionflow:bars:"

// RedisConfig holds connection parameters for RedisStore.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	TLSEnabled bool
}

// RedisStore shares cached bars between processes. Values are JSON and
// expire through Redis' own TTL.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func redisKey(key Key) string {
	return redisKeyPrefix + key.Underlying + ":" + key.Date
}

func (s *RedisStore) Get(ctx context.Context, key Key) ([]Bar, bool, error) {
	raw, err := s.rdb.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: get bars %s: %w", key, err)
	}

	var out []Bar
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, fmt.Errorf("redis: decode bars %s: %w", key, err)
	}
	return out, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key Key, bars []Bar, ttl time.Duration) error {
	raw, err := json.Marshal(bars)
	if err != nil {
		return fmt.Errorf("redis: encode bars %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, redisKey(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set bars %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.rdb.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: delete bars %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
