package identity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/ocx/wsgateway/internal/cache"
)

// TokenClaimCache implements the Token-Claim Cache (spec.md §4.8): a
// cache-first lookup keyed by the SHA-256 digest of the bearer token so
// the raw token is never persisted, with a TTL derived from the token's
// own expiry.
type TokenClaimCache struct {
	store cache.Store
}

// NewTokenClaimCache builds a TokenClaimCache backed by store.
func NewTokenClaimCache(store cache.Store) *TokenClaimCache {
	return &TokenClaimCache{store: store}
}

// Get looks up the cached Principal for token. A cache miss, a store
// error, or an undecodable entry are all treated as a miss — the caller
// falls back to full verification.
func (c *TokenClaimCache) Get(ctx context.Context, token string) (*Principal, bool) {
	raw, err := c.store.Get(ctx, cache.TokenClaimsKey(token))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			slog.Warn("identity: token claim cache read failed", "error", err)
		}
		return nil, false
	}

	var p Principal
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		slog.Warn("identity: token claim cache entry corrupt", "error", err)
		return nil, false
	}
	if time.Now().After(p.ExpiresAt) {
		return nil, false
	}
	return &p, true
}

// Set stores principal under token's digest with the given TTL. Errors
// are logged, never surfaced — a cache-write failure must not fail the
// request that is already authenticated.
func (c *TokenClaimCache) Set(ctx context.Context, token string, p *Principal, ttl time.Duration) {
	raw, err := json.Marshal(p)
	if err != nil {
		slog.Warn("identity: failed to marshal principal for cache", "error", err)
		return
	}
	if err := c.store.Set(ctx, cache.TokenClaimsKey(token), string(raw), ttl); err != nil {
		slog.Warn("identity: token claim cache write failed", "error", err)
	}
}
