package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/wsgateway/internal/cache"
	"github.com/ocx/wsgateway/internal/gwerrors"
)

func newTestJWKSServer(t *testing.T, key *rsa.PrivateKey, kid string) *httptest.Server {
	t.Helper()
	n := base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes())
	eBytes := big.NewInt(int64(key.PublicKey.E)).Bytes()
	e := base64.RawURLEncoding.EncodeToString(eBytes)

	body, err := json.Marshal(map[string]interface{}{
		"keys": []map[string]string{
			{"kid": kid, "kty": "RSA", "use": "sig", "n": n, "e": e},
		},
	})
	require.NoError(t, err)

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
}

func signTestToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestKeycloakVerifierVerifiesValidToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	srv := newTestJWKSServer(t, key, "kid-1")
	defer srv.Close()

	tok := signTestToken(t, key, "kid-1", jwt.MapClaims{
		"sub":                "user-1",
		"preferred_username": "alice",
		"exp":                time.Now().Add(time.Hour).Unix(),
		"realm_access": map[string]interface{}{
			"roles": []interface{}{"admin", "viewer"},
		},
	})

	v := NewKeycloakVerifier(Config{JWKSURL: srv.URL, RolesClaimPath: "realm_access.roles"}, nil)
	p, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, "alice", p.Username)
	assert.True(t, p.HasRole("admin"))
	assert.True(t, p.HasAllRoles([]string{"admin", "viewer"}))
	assert.False(t, p.HasAllRoles([]string{"admin", "superuser"}))
}

func TestKeycloakVerifierRejectsExpiredToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	srv := newTestJWKSServer(t, key, "kid-1")
	defer srv.Close()

	tok := signTestToken(t, key, "kid-1", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	v := NewKeycloakVerifier(Config{JWKSURL: srv.URL}, nil)
	_, err = v.Verify(context.Background(), tok)
	require.Error(t, err)
	assert.Equal(t, gwerrors.KindUnauthorized, gwerrors.KindOf(err))
}

func TestKeycloakVerifierRejectsEmptyToken(t *testing.T) {
	v := NewKeycloakVerifier(Config{}, nil)
	_, err := v.Verify(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, gwerrors.KindUnauthorized, gwerrors.KindOf(err))
}

func TestTokenClaimCacheRoundTrip(t *testing.T) {
	store := cache.NewMemoryStore()
	c := NewTokenClaimCache(store)
	ctx := context.Background()

	p := &Principal{UserID: "u1", Username: "alice", Roles: []string{"admin"}, ExpiresAt: time.Now().Add(time.Hour)}
	c.Set(ctx, "some-token", p, time.Minute)

	got, ok := c.Get(ctx, "some-token")
	require.True(t, ok)
	assert.Equal(t, p.UserID, got.UserID)
	assert.Equal(t, p.Roles, got.Roles)
}

func TestTokenClaimCacheMissOnUnknownToken(t *testing.T) {
	store := cache.NewMemoryStore()
	c := NewTokenClaimCache(store)
	_, ok := c.Get(context.Background(), "unknown")
	assert.False(t, ok)
}
