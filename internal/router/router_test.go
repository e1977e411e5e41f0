package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/wsgateway/internal/gwerrors"
	"github.com/ocx/wsgateway/internal/identity"
	"github.com/ocx/wsgateway/internal/wire"
)

func echoHandler(ctx context.Context, p *identity.Principal, req *wire.Request) *wire.Response {
	return wire.NewOK(req.PkgID, req.ReqID, map[string]interface{}{"echo": string(req.Data)}, "")
}

func TestRouterDispatchesRegisteredHandler(t *testing.T) {
	r := New()
	r.Register(1, echoHandler)

	p := &identity.Principal{UserID: "u1"}
	resp := r.Dispatch(context.Background(), p, &wire.Request{PkgID: 1, ReqID: "r1", Data: []byte(`"hi"`)})
	assert.Equal(t, gwerrors.StatusOK, int(resp.StatusCode))
}

func TestRouterReturnsErrorForUnknownPkg(t *testing.T) {
	r := New()
	p := &identity.Principal{UserID: "u1"}
	resp := r.Dispatch(context.Background(), p, &wire.Request{PkgID: 999, ReqID: "r1"})
	assert.Equal(t, gwerrors.StatusError, int(resp.StatusCode))
}

func TestRouterEnforcesRoleGate(t *testing.T) {
	r := New()
	r.Register(2, echoHandler, WithRoles("admin"))

	viewer := &identity.Principal{UserID: "u1", Roles: []string{"viewer"}}
	resp := r.Dispatch(context.Background(), viewer, &wire.Request{PkgID: 2, ReqID: "r2"})
	assert.Equal(t, gwerrors.StatusPermissionDenied, int(resp.StatusCode))

	admin := &identity.Principal{UserID: "u2", Roles: []string{"admin", "viewer"}}
	resp = r.Dispatch(context.Background(), admin, &wire.Request{PkgID: 2, ReqID: "r3"})
	assert.Equal(t, gwerrors.StatusOK, int(resp.StatusCode))
}

func TestRouterRequiresAllRoles(t *testing.T) {
	r := New()
	r.Register(3, echoHandler, WithRoles("admin", "auditor"))

	p := &identity.Principal{UserID: "u1", Roles: []string{"admin"}}
	resp := r.Dispatch(context.Background(), p, &wire.Request{PkgID: 3, ReqID: "r4"})
	assert.Equal(t, gwerrors.StatusPermissionDenied, int(resp.StatusCode))
}

func TestRouterRegisterPanicsOnDuplicate(t *testing.T) {
	r := New()
	r.Register(4, echoHandler)
	assert.Panics(t, func() {
		r.Register(4, echoHandler)
	})
}

func TestRouterValidatesSchema(t *testing.T) {
	schema, err := CompileSchema("mem://test-schema.json", map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"field1"},
		"properties": map[string]interface{}{
			"field1": map[string]interface{}{"type": "string"},
		},
	})
	require.NoError(t, err)

	r := New()
	r.Register(5, echoHandler, WithSchema(schema))

	p := &identity.Principal{UserID: "u1"}

	resp := r.Dispatch(context.Background(), p, &wire.Request{PkgID: 5, ReqID: "r5", Data: []byte(`{"field1":"x"}`)})
	assert.Equal(t, gwerrors.StatusOK, int(resp.StatusCode))

	resp = r.Dispatch(context.Background(), p, &wire.Request{PkgID: 5, ReqID: "r6", Data: []byte(`{}`)})
	assert.Equal(t, gwerrors.StatusInvalidData, int(resp.StatusCode))
}

func TestRouterRegisteredReportsKnownPkg(t *testing.T) {
	r := New()
	assert.False(t, r.Registered(6))
	r.Register(6, echoHandler)
	assert.True(t, r.Registered(6))
}
