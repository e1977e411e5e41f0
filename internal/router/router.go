// Package router implements the Package Router (spec.md §4.5): a
// write-once registry mapping package types to handlers, with role
// gating and optional JSON Schema payload validation ahead of dispatch.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ocx/wsgateway/internal/gwerrors"
	"github.com/ocx/wsgateway/internal/identity"
	"github.com/ocx/wsgateway/internal/wire"
)

// Handler processes a decoded request for an already-authenticated
// principal and returns the response to send back.
type Handler func(ctx context.Context, p *identity.Principal, req *wire.Request) *wire.Response

// Schema validates a request payload, returning a non-nil error on
// failure. Implementations wrap a compiled JSON Schema.
type Schema interface {
	Validate(data []byte) error
}

type registration struct {
	handler Handler
	schema  Schema
	roles   []string
}

// Router is a process-wide, write-once registry of package handlers.
// Register calls are expected at startup only; Dispatch is safe for
// concurrent use from many connection goroutines.
type Router struct {
	mu    sync.RWMutex
	byPkg map[int32]*registration
}

// New returns an empty Router.
func New() *Router {
	return &Router{byPkg: make(map[int32]*registration)}
}

// Register associates a handler with a package type. Re-registering an
// already-registered pkgID is a programmer error and panics, matching
// the original registry's fail-loudly-on-duplicate contract.
func (r *Router) Register(pkgID int32, h Handler, opts ...Option) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPkg[pkgID]; exists {
		panic(fmt.Sprintf("router: handler already registered for pkg_id %d", pkgID))
	}

	reg := &registration{handler: h}
	for _, opt := range opts {
		opt(reg)
	}
	r.byPkg[pkgID] = reg

	slog.Info("router: registered handler", "pkg_id", pkgID, "roles", reg.roles, "schema", reg.schema != nil)
}

// Option configures a handler registration.
type Option func(*registration)

// WithRoles requires the principal to hold every named role (AND
// semantics) before the handler runs. An empty/omitted list means
// "public to any authenticated principal".
func WithRoles(roles ...string) Option {
	return func(reg *registration) { reg.roles = roles }
}

// WithSchema validates the request payload against schema before the
// handler runs.
func WithSchema(schema Schema) Option {
	return func(reg *registration) { reg.schema = schema }
}

// Dispatch looks up the handler for req.PkgID, applies the role gate
// and optional schema validation, then invokes the handler. Handler
// panics are not recovered here, nor in the WebSocket endpoint's
// dispatch loop: the panic unwinds the connection's goroutine, whose
// deferred teardown closes the connection, and no error metric or audit
// entry is recorded for it.
func (r *Router) Dispatch(ctx context.Context, p *identity.Principal, req *wire.Request) *wire.Response {
	r.mu.RLock()
	reg, ok := r.byPkg[req.PkgID]
	r.mu.RUnlock()

	if !ok {
		return wire.NewErr(req.PkgID, req.ReqID, gwerrors.StatusError, nil, fmt.Sprintf("No handler found for pkg_id %d", req.PkgID))
	}

	if len(reg.roles) > 0 && !p.HasAllRoles(reg.roles) {
		return wire.NewErr(req.PkgID, req.ReqID, gwerrors.StatusPermissionDenied, nil, "permission denied")
	}

	if reg.schema != nil {
		if err := reg.schema.Validate(req.Data); err != nil {
			return wire.NewErr(req.PkgID, req.ReqID, gwerrors.StatusInvalidData, nil, err.Error())
		}
	}

	return reg.handler(ctx, p, req)
}

// Registered reports whether a handler exists for pkgID, used by
// startup diagnostics and tests.
func (r *Router) Registered(pkgID int32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byPkg[pkgID]
	return ok
}
