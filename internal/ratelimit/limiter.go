// Package ratelimit implements the sliding-window request rate limiter
// and the per-user WebSocket connection limiter described in spec.md
// §4.2 and §4.3.
package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/ocx/wsgateway/internal/cache"
	"github.com/ocx/wsgateway/internal/metrics"
)

// FailMode controls what happens when the backing store is unreachable.
type FailMode string

const (
	FailOpen   FailMode = "open"
	FailClosed FailMode = "closed"
)

// Limiter implements a Redis sorted-set sliding-window rate limit,
// mirroring the exact command sequence of the original rate limiter:
// trim expired entries, count the remainder, and admit only if the
// count is still under the limit.
type Limiter struct {
	store    cache.Store
	metrics  *metrics.Metrics
	enabled  bool
	failMode FailMode
}

// NewLimiter builds a Limiter backed by store.
func NewLimiter(store cache.Store, m *metrics.Metrics, enabled bool, failMode FailMode) *Limiter {
	return &Limiter{store: store, metrics: m, enabled: enabled, failMode: failMode}
}

// Allow checks whether a request identified by key may proceed under a
// sliding window of the given duration and limit, optionally narrowed by
// a burst ceiling. limitType labels the rate_limit_hits_total metric on
// denial ("http", "ws_message", ...) so distinct call sites are counted
// once each rather than double-counted by both the limiter and its
// caller. It returns whether the request is admitted and how many
// requests remain in the current window.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration, burst int, limitType string) (bool, int, error) {
	if !l.enabled {
		return true, limit, nil
	}

	effectiveLimit := limit
	if burst > 0 && burst < limit {
		effectiveLimit = burst
	}

	redisKey := cache.RateLimitKey(key)
	now := float64(time.Now().UnixNano()) / 1e9
	windowStart := now - window.Seconds()

	if err := l.store.ZRemRangeByScore(ctx, redisKey, 0, windowStart); err != nil {
		return l.onError(err, effectiveLimit)
	}

	count, err := l.store.ZCard(ctx, redisKey)
	if err != nil {
		return l.onError(err, effectiveLimit)
	}

	if count >= int64(effectiveLimit) {
		if l.metrics != nil {
			l.metrics.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
		}
		return false, 0, nil
	}

	member := formatFloat(now)
	if err := l.store.ZAdd(ctx, redisKey, now, member); err != nil {
		return l.onError(err, effectiveLimit)
	}
	if err := l.store.Expire(ctx, redisKey, window*2); err != nil {
		return l.onError(err, effectiveLimit)
	}

	remaining := int(int64(effectiveLimit) - count - 1)
	return true, remaining, nil
}

// Reset clears the rate-limit bucket for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Del(ctx, cache.RateLimitKey(key))
}

// onError applies the configured fail mode on a store error: fail-open
// admits with the full limit remaining (spec.md §4.2), fail-closed
// rejects outright.
func (l *Limiter) onError(err error, limit int) (bool, int, error) {
	slog.Warn("ratelimit: store error, applying fail mode", "fail_mode", l.failMode, "error", err)
	if l.metrics != nil {
		l.metrics.RedisOperationsTotal.WithLabelValues("error").Inc()
	}
	if l.failMode == FailClosed {
		return false, 0, nil
	}
	return true, limit, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
