// Package handlers holds the gateway's example package-type handlers:
// echo, whoami, and broadcast. These stand in for the domain-specific
// CRUD handlers a real deployment would register, demonstrating the
// registry/role/schema machinery end to end.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/ocx/wsgateway/internal/gwerrors"
	"github.com/ocx/wsgateway/internal/identity"
	"github.com/ocx/wsgateway/internal/registry"
	"github.com/ocx/wsgateway/internal/router"
	"github.com/ocx/wsgateway/internal/wire"
)

// Package type identifiers for the example handlers. Real deployments
// would define their own constants per domain; these are illustrative.
const (
	PkgEcho      int32 = 100
	PkgWhoAmI    int32 = 101
	PkgBroadcast int32 = 102
)

// echoPayload is decoded from the request, delegated to nothing (the
// value is simply mirrored back), and re-encoded into the response map
// — the same "decode into anonymous struct, delegate, encode map
// response" shape the teacher's HTTP handlers use, adapted from
// request/response pairs to package-type dispatch.
type echoPayload struct {
	Message string `json:"message"`
}

// Echo returns the request payload's "message" field to the caller;
// any other payload fields are dropped.
func Echo(ctx context.Context, p *identity.Principal, req *wire.Request) *wire.Response {
	var payload echoPayload
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &payload); err != nil {
			return wire.NewErr(req.PkgID, req.ReqID, gwerrors.StatusInvalidData, nil, "invalid payload")
		}
	}
	return wire.NewOK(req.PkgID, req.ReqID, map[string]interface{}{
		"message": payload.Message,
	}, "")
}

// WhoAmI returns the calling principal's identity, the package-type
// analogue of a REST "/me" endpoint.
func WhoAmI(ctx context.Context, p *identity.Principal, req *wire.Request) *wire.Response {
	return wire.NewOK(req.PkgID, req.ReqID, map[string]interface{}{
		"user_id":  p.UserID,
		"username": p.Username,
		"roles":    p.Roles,
	}, "")
}

// broadcastPayload names the message field the way the schema below
// requires.
type broadcastPayload struct {
	Message string `json:"message"`
}

// Broadcast pushes the request's message to every live connection via
// reg, then acknowledges the sender. Broadcasting always encodes as
// JSON regardless of the sender's negotiated format — registry.Broadcast
// fans out a single payload to every connection, so it cannot
// renegotiate per recipient; this is a known limitation carried from
// the Connection Registry's design.
func Broadcast(reg *registry.Registry) router.Handler {
	return func(ctx context.Context, p *identity.Principal, req *wire.Request) *wire.Response {
		var payload broadcastPayload
		if err := json.Unmarshal(req.Data, &payload); err != nil || payload.Message == "" {
			return wire.NewErr(req.PkgID, req.ReqID, gwerrors.StatusInvalidData, nil, "invalid payload")
		}

		data, err := json.Marshal(map[string]interface{}{
			"message": payload.Message,
			"from":    p.Username,
		})
		if err != nil {
			return wire.NewErr(req.PkgID, req.ReqID, gwerrors.StatusInternal, nil, "encode error")
		}

		encoded, err := json.Marshal(&wire.Broadcast{
			PkgID: req.PkgID,
			ReqID: req.ReqID,
			Data:  data,
		})
		if err != nil {
			slog.Error("handlers: failed to encode broadcast", "error", err)
			return wire.NewErr(req.PkgID, req.ReqID, gwerrors.StatusInternal, nil, "encode error")
		}

		reg.Broadcast(ctx, websocket.TextMessage, encoded)

		return wire.NewOK(req.PkgID, req.ReqID, map[string]interface{}{
			"delivered_to": reg.Count(),
		}, "")
	}
}

// Register wires every example handler into r. The broadcast handler's
// schema requires a non-empty "message" string field, demonstrating
// WithSchema.
func Register(r *router.Router, reg *registry.Registry) error {
	r.Register(PkgEcho, Echo)
	r.Register(PkgWhoAmI, WhoAmI)

	schema, err := router.CompileSchema("mem://handlers/broadcast.json", map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"message"},
		"properties": map[string]interface{}{
			"message": map[string]interface{}{"type": "string", "minLength": 1},
		},
	})
	if err != nil {
		return err
	}

	r.Register(PkgBroadcast, Broadcast(reg), router.WithSchema(schema))
	return nil
}
