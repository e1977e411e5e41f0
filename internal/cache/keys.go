package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key builders for the store layout described in spec.md §6. Grouped
// here so every component derives keys the same way rather than
// formatting strings ad hoc.

// RateLimitKey builds the sorted-set key for a rate-limit bucket.
func RateLimitKey(scope string) string {
	return fmt.Sprintf("rate_limit:%s", scope)
}

// ConnectionCountKey builds the set key tracking a user's live connections.
func ConnectionCountKey(userID string) string {
	return fmt.Sprintf("ws_connections:%s", userID)
}

// TokenClaimsKey hashes a bearer token and builds the token-claim cache
// key from the digest, so the raw token is never stored as a cache key.
func TokenClaimsKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("token:claims:%s", hex.EncodeToString(sum[:]))
}

// SessionKey builds the key used by the session-key sync task.
func SessionKey(userID string) string {
	return fmt.Sprintf("session:%s", userID)
}

// HashValue returns a stable sha256 hex digest of the given parts, used
// when a cache key needs to summarize structured input.
func HashValue(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}
