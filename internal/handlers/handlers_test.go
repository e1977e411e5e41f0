package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/wsgateway/internal/gwerrors"
	"github.com/ocx/wsgateway/internal/identity"
	"github.com/ocx/wsgateway/internal/registry"
	"github.com/ocx/wsgateway/internal/router"
	"github.com/ocx/wsgateway/internal/wire"
)

func TestEchoMirrorsMessage(t *testing.T) {
	p := &identity.Principal{UserID: "u1", Username: "alice"}
	req := &wire.Request{PkgID: PkgEcho, ReqID: "r1", Data: []byte(`{"message":"hi"}`)}

	resp := Echo(context.Background(), p, req)
	assert.Equal(t, gwerrors.StatusOK, int(resp.StatusCode))
	assert.JSONEq(t, `{"message":"hi"}`, string(resp.Data))
}

func TestEchoRejectsInvalidJSON(t *testing.T) {
	p := &identity.Principal{UserID: "u1", Username: "alice"}
	req := &wire.Request{PkgID: PkgEcho, ReqID: "r1", Data: []byte(`not json`)}

	resp := Echo(context.Background(), p, req)
	assert.Equal(t, gwerrors.StatusInvalidData, int(resp.StatusCode))
}

func TestWhoAmIReturnsPrincipal(t *testing.T) {
	p := &identity.Principal{UserID: "u1", Username: "alice", Roles: []string{"viewer"}}
	req := &wire.Request{PkgID: PkgWhoAmI, ReqID: "r1"}

	resp := WhoAmI(context.Background(), p, req)
	assert.Equal(t, gwerrors.StatusOK, int(resp.StatusCode))
	assert.Contains(t, string(resp.Data), "alice")
}

func TestBroadcastRequiresMessageField(t *testing.T) {
	reg := registry.New()
	p := &identity.Principal{UserID: "u1", Username: "alice"}
	req := &wire.Request{PkgID: PkgBroadcast, ReqID: "r1", Data: []byte(`{}`)}

	resp := Broadcast(reg)(context.Background(), p, req)
	assert.Equal(t, gwerrors.StatusInvalidData, int(resp.StatusCode))
}

func TestBroadcastSucceedsWithNoConnections(t *testing.T) {
	reg := registry.New()
	p := &identity.Principal{UserID: "u1", Username: "alice"}
	req := &wire.Request{PkgID: PkgBroadcast, ReqID: "r1", Data: []byte(`{"message":"hi"}`)}

	resp := Broadcast(reg)(context.Background(), p, req)
	assert.Equal(t, gwerrors.StatusOK, int(resp.StatusCode))
}

func TestRegisterWiresAllHandlersAndEnforcesSchema(t *testing.T) {
	r := router.New()
	reg := registry.New()
	require.NoError(t, Register(r, reg))

	assert.True(t, r.Registered(PkgEcho))
	assert.True(t, r.Registered(PkgWhoAmI))
	assert.True(t, r.Registered(PkgBroadcast))

	p := &identity.Principal{UserID: "u1", Username: "alice"}
	resp := r.Dispatch(context.Background(), p, &wire.Request{PkgID: PkgBroadcast, ReqID: "r1", Data: []byte(`{}`)})
	assert.Equal(t, gwerrors.StatusInvalidData, int(resp.StatusCode))
}
