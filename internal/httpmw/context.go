// Package httpmw implements the Admission Pipeline (spec.md §4.9): the
// ordered HTTP middleware chain that every REST request and WebSocket
// upgrade passes through before reaching its handler.
package httpmw

import (
	"context"

	"github.com/ocx/wsgateway/internal/identity"
)

type ctxKey int

const (
	ctxKeyPrincipal ctxKey = iota
	ctxKeyCorrelationID
	ctxKeyClientIP
)

// WithPrincipal attaches p to ctx. A nil p marks the request unauthenticated.
func WithPrincipal(ctx context.Context, p *identity.Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// PrincipalFrom returns the Principal attached by the Authentication stage,
// or nil if the request carried no valid bearer token.
func PrincipalFrom(ctx context.Context) *identity.Principal {
	p, _ := ctx.Value(ctxKeyPrincipal).(*identity.Principal)
	return p
}

// WithCorrelationID attaches the per-request correlation ID to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// CorrelationIDFrom returns the correlation ID attached to ctx, or "".
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCorrelationID).(string)
	return id
}

// WithClientIP attaches the resolved client IP to ctx.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// ClientIPFrom returns the client IP attached to ctx, or "".
func ClientIPFrom(ctx context.Context) string {
	ip, _ := ctx.Value(ctxKeyClientIP).(string)
	return ip
}
