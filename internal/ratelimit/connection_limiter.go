package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ocx/wsgateway/internal/cache"
	"github.com/ocx/wsgateway/internal/metrics"
)

// connectionTTLSec bounds how long a stale connection-count set can
// linger if a disconnect is ever missed, mirroring the original
// ConnectionLimiter's expire(..., 3600).
const connectionTTLSec = 3600

// ConnectionLimiter enforces the per-user maximum concurrent WebSocket
// connection count described in spec.md §4.3. Unlike the request rate
// limiter, admission failures here always fail closed: a Redis outage
// must never allow unbounded connections.
type ConnectionLimiter struct {
	store          cache.Store
	metrics        *metrics.Metrics
	maxConnections int
}

// NewConnectionLimiter builds a ConnectionLimiter backed by store.
func NewConnectionLimiter(store cache.Store, m *metrics.Metrics, maxConnections int) *ConnectionLimiter {
	return &ConnectionLimiter{store: store, metrics: m, maxConnections: maxConnections}
}

// Add attempts to register connectionID under userID. It returns false
// (without error) if the user is already at its connection cap, and a
// non-nil error only on store failure — callers must treat a store
// error the same as a denial (fail closed).
func (l *ConnectionLimiter) Add(ctx context.Context, userID, connectionID string) (bool, error) {
	key := cache.ConnectionCountKey(userID)

	count, err := l.store.SCard(ctx, key)
	if err != nil {
		slog.Error("connection limiter: store error, failing closed", "user_id", userID, "error", err)
		return false, fmt.Errorf("connection limiter: scard: %w", err)
	}

	if count >= int64(l.maxConnections) {
		slog.Warn("connection limiter: user at connection cap", "user_id", userID, "max", l.maxConnections)
		if l.metrics != nil {
			l.metrics.RateLimitHitsTotal.WithLabelValues("ws_connection").Inc()
		}
		return false, nil
	}

	if err := l.store.SAdd(ctx, key, connectionID); err != nil {
		return false, fmt.Errorf("connection limiter: sadd: %w", err)
	}
	if err := l.store.Expire(ctx, key, connectionTTLSec*time.Second); err != nil {
		slog.Warn("connection limiter: failed to refresh TTL", "user_id", userID, "error", err)
	}

	slog.Info("connection limiter: admitted connection", "user_id", userID, "connection_id", connectionID)
	return true, nil
}

// Remove deregisters connectionID from userID's connection set. Store
// errors are logged but never surfaced — disconnect must always succeed
// from the caller's point of view.
func (l *ConnectionLimiter) Remove(ctx context.Context, userID, connectionID string) {
	key := cache.ConnectionCountKey(userID)
	if err := l.store.SRem(ctx, key, connectionID); err != nil {
		slog.Warn("connection limiter: failed to remove connection", "user_id", userID, "connection_id", connectionID, "error", err)
	}
}

// Count returns the current number of live connections for userID.
func (l *ConnectionLimiter) Count(ctx context.Context, userID string) (int64, error) {
	return l.store.SCard(ctx, cache.ConnectionCountKey(userID))
}
