package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ocx/wsgateway/internal/gwerrors"
)

// claimCacheSafetyMargin is subtracted from a token's remaining lifetime
// before caching its claims, so a cache entry never outlives the token
// it was derived from (spec.md §4.1 step 2, §4.8).
const claimCacheSafetyMargin = 30 * time.Second

// Verifier authenticates a bearer token into a Principal.
type Verifier interface {
	Verify(ctx context.Context, bearerToken string) (*Principal, error)
}

// Config configures a KeycloakVerifier.
type Config struct {
	JWKSURL           string
	Issuer            string
	AcceptedAudiences []string
	RolesClaimPath    string // dot-separated, e.g. "realm_access.roles"
	JWKSCacheTTL      time.Duration
	DevBypassEnabled  bool
}

// KeycloakVerifier validates RS256 bearer tokens against a Keycloak
// realm's JWKS endpoint and extracts a role list from a configurable
// claim path, the way Keycloak nests roles under realm_access.roles.
type KeycloakVerifier struct {
	cfg   Config
	jwks  *jwksCache
	cache *TokenClaimCache
}

// NewKeycloakVerifier builds a KeycloakVerifier. cache may be nil, in
// which case every call performs a full JWT verification.
func NewKeycloakVerifier(cfg Config, cache *TokenClaimCache) *KeycloakVerifier {
	ttl := cfg.JWKSCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &KeycloakVerifier{
		cfg:   cfg,
		jwks:  newJWKSCache(cfg.JWKSURL, ttl),
		cache: cache,
	}
}

// Verify validates bearerToken and returns the resulting Principal. It
// consults the token-claim cache first (spec.md §4.8); on a cache miss
// it performs full JWKS-based verification and populates the cache with
// a TTL derived from the token's own expiry.
func (v *KeycloakVerifier) Verify(ctx context.Context, bearerToken string) (*Principal, error) {
	if bearerToken == "" {
		return nil, gwerrors.New(gwerrors.KindUnauthorized, "identity: empty bearer token")
	}

	if v.cache != nil {
		if p, ok := v.cache.Get(ctx, bearerToken); ok {
			return p, nil
		}
	}

	principal, err := v.verifyFresh(bearerToken)
	if err != nil {
		return nil, err
	}

	if v.cache != nil {
		// spec.md §4.1/§4.8: TTL = token.exp − now − 30s, floored at zero
		// (zero means do not cache).
		ttl := time.Until(principal.ExpiresAt) - claimCacheSafetyMargin
		if ttl > 0 {
			v.cache.Set(ctx, bearerToken, principal, ttl)
		}
	}

	return principal, nil
}

func (v *KeycloakVerifier) verifyFresh(bearerToken string) (*Principal, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(bearerToken, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", t.Header["alg"])
		}
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("identity: missing kid in token header")
		}
		return v.jwks.publicKey(kid)
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, gwerrors.Wrap(gwerrors.KindUnauthorized, "identity: token expired", err)
		default:
			return nil, gwerrors.Wrap(gwerrors.KindUnauthorized, "identity: token validation failed", err)
		}
	}
	if !token.Valid {
		return nil, gwerrors.New(gwerrors.KindUnauthorized, "identity: token invalid")
	}

	if v.cfg.Issuer != "" {
		iss, _ := claims["iss"].(string)
		if iss != v.cfg.Issuer {
			return nil, gwerrors.New(gwerrors.KindUnauthorized, "identity: unexpected issuer")
		}
	}
	if len(v.cfg.AcceptedAudiences) > 0 && !audienceMatches(claims["aud"], v.cfg.AcceptedAudiences) {
		return nil, gwerrors.New(gwerrors.KindUnauthorized, "identity: unexpected audience")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, gwerrors.New(gwerrors.KindUnauthorized, "identity: missing sub claim")
	}
	username, _ := claims["preferred_username"].(string)
	if username == "" {
		username = sub
	}

	var expiresAt time.Time
	if expClaim, ok := claims["exp"].(float64); ok {
		expiresAt = time.Unix(int64(expClaim), 0)
	} else {
		expiresAt = time.Now().Add(5 * time.Minute)
	}

	roles := extractRoles(claims, v.cfg.RolesClaimPath)

	return &Principal{
		UserID:    sub,
		Username:  username,
		Roles:     roles,
		ExpiresAt: expiresAt,
	}, nil
}

// extractRoles walks a dot-separated claim path (e.g.
// "realm_access.roles") through a decoded claims map and returns the
// string list found there, or nil if the path does not resolve.
func extractRoles(claims jwt.MapClaims, path string) []string {
	if path == "" {
		path = "realm_access.roles"
	}
	parts := strings.Split(path, ".")

	var cur interface{} = map[string]interface{}(claims)
	for i, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		v, ok := m[part]
		if !ok {
			return nil
		}
		if i == len(parts)-1 {
			list, ok := v.([]interface{})
			if !ok {
				return nil
			}
			roles := make([]string, 0, len(list))
			for _, r := range list {
				if s, ok := r.(string); ok {
					roles = append(roles, s)
				}
			}
			return roles
		}
		cur = v
	}
	return nil
}

func audienceMatches(aud interface{}, accepted []string) bool {
	switch a := aud.(type) {
	case string:
		for _, acc := range accepted {
			if a == acc {
				return true
			}
		}
	case []interface{}:
		for _, v := range a {
			s, ok := v.(string)
			if !ok {
				continue
			}
			for _, acc := range accepted {
				if s == acc {
					return true
				}
			}
		}
	}
	return false
}
