package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the production Store implementation, wrapping go-redis v9
// the way the teacher's infra.GoRedisAdapter wraps it: short dial/read/write
// timeouts, a connectivity ping at construction time, and errors wrapped
// with context rather than passed through raw.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to Redis and verifies connectivity before
// returning. Callers decide whether a failure here is fatal.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cache: redis ping failed (%s): %w", addr, err)
	}

	slog.Info("cache: redis connected", "addr", addr, "db", db)
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("cache: get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: del %v: %w", keys, err)
	}
	return nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("cache: expire %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if err := s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("cache: zadd %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	lo := fmt.Sprintf("%f", min)
	hi := fmt.Sprintf("%f", max)
	if err := s.rdb.ZRemRangeByScore(ctx, key, lo, hi).Err(); err != nil {
		return fmt.Errorf("cache: zremrangebyscore %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: zcard %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	if err := s.rdb.SAdd(ctx, key, vals...).Err(); err != nil {
		return fmt.Errorf("cache: sadd %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	if err := s.rdb.SRem(ctx, key, vals...).Err(); err != nil {
		return fmt.Errorf("cache: srem %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: scard %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: ping: %w", err)
	}
	return nil
}
