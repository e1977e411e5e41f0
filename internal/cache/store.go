// Package cache implements the Cache & Counter Store: the Redis-backed
// primitives shared by the rate limiter, the connection limiter, the
// token-claim cache, and the session-key sync task.
package cache

import (
	"context"
	"time"
)

// Store is the set of Redis operations the gateway depends on. It is
// deliberately narrow: every caller depends on this interface, not on
// *redis.Client, so an in-memory double can stand in for tests.
type Store interface {
	// Get returns the value for key, or ErrNotFound if it is absent.
	Get(ctx context.Context, key string) (string, error)
	// Set writes value to key with the given TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes one or more keys.
	Del(ctx context.Context, keys ...string) error
	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// ZAdd adds a member with the given score to a sorted set.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRemRangeByScore removes members of a sorted set whose score falls
	// in [min, max].
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	// ZCard returns the cardinality of a sorted set.
	ZCard(ctx context.Context, key string) (int64, error)

	// SAdd adds members to a set.
	SAdd(ctx context.Context, key string, members ...string) error
	// SRem removes members from a set.
	SRem(ctx context.Context, key string, members ...string) error
	// SCard returns the cardinality of a set.
	SCard(ctx context.Context, key string) (int64, error)

	// Ping verifies connectivity, used by the Background Supervisor's
	// startup validation and the /health endpoint.
	Ping(ctx context.Context) error

	Close() error
}

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "cache: key not found" }
