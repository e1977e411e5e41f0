// Package identity implements the Identity Verifier (spec.md §4.1): bearer
// JWT validation against a Keycloak-style JWKS endpoint, with a
// cache-first lookup backed by the Token-Claim Cache (spec.md §4.8).
package identity

import "time"

// Principal is the authenticated identity derived from a verified
// bearer token.
type Principal struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HasRole reports whether the principal carries the given role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAllRoles reports whether the principal carries every role in
// required — the AND-semantics spec.md §4.5 requires for role gates.
func (p *Principal) HasAllRoles(required []string) bool {
	for _, r := range required {
		if !p.HasRole(r) {
			return false
		}
	}
	return true
}
