package identity

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// jwksCache holds RSA public keys fetched from a Keycloak realm's JWKS
// endpoint, refreshed on a TTL and forced to refresh on a kid miss so
// key rotation never requires a restart.
type jwksCache struct {
	mu         sync.RWMutex
	keys       map[string]*rsa.PublicKey
	lastFetch  time.Time
	cacheTTL   time.Duration
	jwksURL    string
	httpClient *http.Client
}

type jwksResponse struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func newJWKSCache(jwksURL string, ttl time.Duration) *jwksCache {
	return &jwksCache{
		keys:     make(map[string]*rsa.PublicKey),
		cacheTTL: ttl,
		jwksURL:  jwksURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *jwksCache) fetch(forceRefresh bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !forceRefresh && time.Since(c.lastFetch) < c.cacheTTL && len(c.keys) > 0 {
		return nil
	}

	resp, err := c.httpClient.Get(c.jwksURL)
	if err != nil {
		return fmt.Errorf("identity: fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("identity: jwks endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("identity: read jwks response: %w", err)
	}

	var parsed jwksResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("identity: parse jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, k := range parsed.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			slog.Warn("identity: failed to decode jwks modulus", "kid", k.Kid, "error", err)
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			slog.Warn("identity: failed to decode jwks exponent", "kid", k.Kid, "error", err)
			continue
		}
		var eInt int
		for _, b := range eBytes {
			eInt = eInt<<8 | int(b)
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: eInt}
	}

	if len(keys) == 0 {
		return errors.New("identity: no valid RSA signing keys found in jwks")
	}

	c.keys = keys
	c.lastFetch = time.Now()
	slog.Info("identity: refreshed jwks cache", "key_count", len(keys))
	return nil
}

func (c *jwksCache) publicKey(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	expired := time.Since(c.lastFetch) >= c.cacheTTL
	c.mu.RUnlock()

	if expired {
		if err := c.fetch(false); err != nil {
			slog.Warn("identity: failed to refresh expired jwks cache, using stale keys", "error", err)
		}
	}

	c.mu.RLock()
	key, ok := c.keys[kid]
	c.mu.RUnlock()
	if ok {
		return key, nil
	}

	if err := c.fetch(true); err != nil {
		return nil, fmt.Errorf("identity: fetch jwks for missing kid %s: %w", kid, err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("identity: kid %s not found in jwks even after refresh", kid)
	}
	return key, nil
}
