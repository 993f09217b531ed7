// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tablebuzz/tablebuzz/internal/log"
	"github.com/tablebuzz/tablebuzz/internal/metrics"
)

const (
	redisKeyPrefix  = "tbz:session:"
	redisCounterKey = "tbz:session:count"
)

// RedisStore is the Redis-backed session cache, safe for multi-instance
// deployments: every server instance shares the same records and counter.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisStore connects to Redis and returns the store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	logger := log.WithComponent("session")
	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Dur("ttl", ttl).
		Msg("connected to Redis session cache")

	return &RedisStore{client: client, ttl: ttl, logger: logger}, nil
}

// newRedisStoreWithClient wires an existing client (tests).
func newRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, logger: zerolog.Nop()}
}

// Get implements Store. Backend errors are logged and reported as a miss so
// the caller falls back to the system of record.
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		metrics.IncCacheOp("get", "miss")
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldCacheKey, key).Msg("redis get failed, treating as miss")
		metrics.IncCacheOp("get", "error")
		return nil, ErrNotFound
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldCacheKey, key).Msg("corrupt session record, treating as miss")
		metrics.IncCacheOp("get", "error")
		return nil, ErrNotFound
	}

	metrics.IncCacheOp("get", "hit")
	return &rec, nil
}

// Set implements Store with sliding expiration. The counter entry carries its
// own long TTL and is only touched when the key appears for the first time.
func (s *RedisStore) Set(ctx context.Context, key string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	existed, err := s.client.Exists(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldCacheKey, key).Msg("redis exists failed")
		metrics.IncCacheOp("set", "error")
		return fmt.Errorf("session set: %w", err)
	}

	if err := s.client.Set(ctx, redisKeyPrefix+key, data, s.ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldCacheKey, key).Msg("redis set failed")
		metrics.IncCacheOp("set", "error")
		return fmt.Errorf("session set: %w", err)
	}

	if existed == 0 {
		if err := s.client.Incr(ctx, redisCounterKey).Err(); err != nil {
			// Counter drift is tolerated; the record itself is stored.
			s.logger.Warn().Err(err).Msg("session counter increment failed")
		}
		if err := s.client.Expire(ctx, redisCounterKey, counterTTL).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("session counter expire failed")
		}
		metrics.IncCacheOp("set", "new")
		return nil
	}

	metrics.IncCacheOp("set", "refresh")
	return nil
}

// Invalidate implements Store. The counter is decremented only when the key
// actually existed.
func (s *RedisStore) Invalidate(ctx context.Context, key string) error {
	removed, err := s.client.Del(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldCacheKey, key).Msg("redis delete failed")
		metrics.IncCacheOp("invalidate", "error")
		return fmt.Errorf("session invalidate: %w", err)
	}
	if removed == 0 {
		metrics.IncCacheOp("invalidate", "absent")
		return nil
	}

	if err := s.client.Decr(ctx, redisCounterKey).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("session counter decrement failed")
	}
	metrics.IncCacheOp("invalidate", "ok")
	return nil
}

// InvalidateBySessionID implements Store. Redis cannot enumerate record keys
// without a scan over the whole keyspace, so this is a log-only no-op.
func (s *RedisStore) InvalidateBySessionID(_ context.Context, sessionID string) error {
	s.logger.Debug().
		Str(log.FieldSessionID, sessionID).
		Msg("invalidate by session id is a no-op on the redis backend")
	return nil
}

// Stats implements Store.
func (s *RedisStore) Stats(ctx context.Context) Stats {
	stats := Stats{TTL: s.ttl, Backend: "redis"}
	count, err := s.client.Get(ctx, redisCounterKey).Int64()
	if err != nil && err != redis.Nil {
		s.logger.Warn().Err(err).Msg("session counter read failed")
		return stats
	}
	if count < 0 {
		count = 0
	}
	stats.ApproxSize = count
	return stats
}

// HealthCheck reports whether the backend is reachable.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
