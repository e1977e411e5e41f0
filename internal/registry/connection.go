// Package registry implements the Connection Registry (spec.md §4.6):
// the live set of WebSocket connections, indexed by session key, with
// concurrent fan-out broadcast and a bounded per-connection send timeout.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ocx/wsgateway/internal/identity"
	"github.com/ocx/wsgateway/internal/wire"
)

// Connection is a live WebSocket conversation: a principal, a
// negotiated wire format, a correlation identifier, and the
// underlying socket. The sender mutex ensures concurrent writers
// (the dispatch loop and a concurrent broadcast fan-out) never
// interleave frames on the same socket.
type Connection struct {
	ID            string
	Principal     *identity.Principal
	Format        wire.Format
	CorrelationID string
	CreatedAt     time.Time

	sendMu sync.Mutex
	ws     *websocket.Conn
}

// NewConnection wraps an upgraded socket as a registry Connection.
func NewConnection(id string, p *identity.Principal, format wire.Format, correlationID string, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:            id,
		Principal:     p,
		Format:        format,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
		ws:            ws,
	}
}

// Send writes a single message, honoring ctx's deadline as the
// underlying socket's write deadline. Concurrent Send calls on the
// same connection are serialized.
func (c *Connection) Send(ctx context.Context, messageType int, payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.ws.SetWriteDeadline(deadline)
	} else {
		c.ws.SetWriteDeadline(time.Time{})
	}
	return c.ws.WriteMessage(messageType, payload)
}

// Close closes the underlying socket. Idempotent in practice since
// gorilla/websocket tolerates a second Close call returning an error
// that callers here ignore.
func (c *Connection) Close() error {
	return c.ws.Close()
}

// CloseWithReason sends a WS close control frame with the given close
// code and reason text, then closes the underlying socket. Errors
// writing the control frame are ignored since the socket is being torn
// down regardless.
func (c *Connection) CloseWithReason(code int, reason string) {
	c.sendMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.sendMu.Unlock()
	c.ws.Close()
}

// Ping writes a ping control frame, honoring ctx's deadline.
func (c *Connection) Ping(ctx context.Context) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(time.Second)
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

// WS exposes the underlying socket for read-loop operations (deadlines,
// pong handler, ReadMessage) that only the owning goroutine ever calls.
func (c *Connection) WS() *websocket.Conn {
	return c.ws
}
