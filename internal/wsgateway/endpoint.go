// Package wsgateway implements the WebSocket Endpoint (spec.md §4.11): the
// connection lifecycle state machine from handshake through dispatch to
// teardown, sitting on top of the Package Router, Connection Registry,
// Rate Limiter, Connection Limiter, and Audit Pipeline.
package wsgateway

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ocx/wsgateway/internal/audit"
	"github.com/ocx/wsgateway/internal/gwerrors"
	"github.com/ocx/wsgateway/internal/httpmw"
	"github.com/ocx/wsgateway/internal/metrics"
	"github.com/ocx/wsgateway/internal/ratelimit"
	"github.com/ocx/wsgateway/internal/registry"
	"github.com/ocx/wsgateway/internal/router"
	"github.com/ocx/wsgateway/internal/wire"
)

// Config tunes the endpoint's keepalive and limiter parameters.
type Config struct {
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
	MessageRateLimit int
	MessageWindow    time.Duration
}

// Endpoint wires together every collaborator the /web handshake and
// dispatch loop need, matching the component list spec.md §2 assigns to
// "WebSocket Endpoint".
type Endpoint struct {
	cfg       Config
	router    *router.Router
	registry  *registry.Registry
	connLimit *ratelimit.ConnectionLimiter
	msgLimit  *ratelimit.Limiter
	audit     *audit.Pipeline
	metrics   *metrics.Metrics
	upgrader  websocket.Upgrader
}

// New builds an Endpoint. allowedOrigins, when non-empty, restricts the
// WebSocket upgrade's Origin header the way the teacher's
// fabric.buildCheckOrigin does in production; an empty list allows any
// origin (development default).
func New(cfg Config, r *router.Router, reg *registry.Registry, connLimit *ratelimit.ConnectionLimiter, msgLimit *ratelimit.Limiter, auditPipeline *audit.Pipeline, m *metrics.Metrics, allowedOrigins []string) *Endpoint {
	return &Endpoint{
		cfg:       cfg,
		router:    r,
		registry:  reg,
		connLimit: connLimit,
		msgLimit:  msgLimit,
		audit:     auditPipeline,
		metrics:   m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		if !ok {
			slog.Warn("wsgateway: rejected upgrade from disallowed origin", "origin", r.Header.Get("Origin"))
		}
		return ok
	}
}

// ServeHTTP runs the handshake state machine: CONNECTING -> AUTHENTICATING
// -> ADMITTED -> OPEN, then hands off to the per-connection read loop.
// Authentication has already run as an httpmw stage ahead of this handler;
// ServeHTTP only checks that it succeeded.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := httpmw.PrincipalFrom(r.Context())
	if principal == nil {
		e.metrics.WSConnectionsTotal.WithLabelValues("rejected_auth").Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	format := negotiateFormat(r.URL.Query().Get("format"))
	connID := uuid.NewString()
	correlationID := correlationIDFor(r, connID)

	ws, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("wsgateway: upgrade failed", "error", err)
		return
	}

	admitted, err := e.connLimit.Add(r.Context(), principal.UserID, connID)
	if err != nil || !admitted {
		e.metrics.WSConnectionsTotal.WithLabelValues("rejected_limit").Inc()
		slog.Warn("wsgateway: rejecting connection over the cap", "user_id", principal.UserID)
		closeWithPolicyViolation(ws, "Maximum concurrent connections exceeded")
		return
	}

	conn := registry.NewConnection(connID, principal, format, correlationID, ws)
	e.registry.Add(conn)
	e.metrics.WSConnectionsActive.Inc()
	e.metrics.WSConnectionsTotal.WithLabelValues("accepted").Inc()
	slog.Debug("wsgateway: connection admitted", "connection_id", connID, "correlation_id", correlationID, "user_id", principal.UserID, "format", format)

	e.runConnection(conn)
}

// runConnection owns the OPEN-state read loop and all CLOSING/CLOSED
// teardown. It always returns after the socket is fully torn down.
func (e *Endpoint) runConnection(conn *registry.Connection) {
	defer e.teardown(conn)

	done := make(chan struct{})
	defer close(done)
	go e.keepalive(conn, done)

	conn.WS().SetReadDeadline(time.Now().Add(e.cfg.PongWait))
	conn.WS().SetPongHandler(func(string) error {
		conn.WS().SetReadDeadline(time.Now().Add(e.cfg.PongWait))
		return nil
	})

	codec := wire.ForFormat(conn.Format)

	for {
		msgType, payload, err := conn.WS().ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.PingMessage || msgType == websocket.PongMessage {
			continue
		}

		if !e.checkMessageRate(conn) {
			conn.Close()
			return
		}

		req, err := codec.DecodeRequest(payload)
		if err != nil {
			e.auditInvalidRequest(conn, err)
			conn.CloseWithReason(websocket.CloseUnsupportedData, "invalid request frame")
			return
		}

		resp := e.dispatch(conn, req)

		encoded, err := codec.EncodeResponse(resp)
		if err != nil {
			slog.Error("wsgateway: encode response failed", "connection_id", conn.ID, "error", err)
			conn.CloseWithReason(websocket.CloseInternalServerErr, "encode error")
			return
		}

		sendCtx, cancel := context.WithTimeout(context.Background(), e.cfg.WriteWait)
		err = conn.Send(sendCtx, codec.MessageType(), encoded)
		cancel()
		if err != nil {
			return
		}
	}
}

// dispatch invokes the Package Router and records a per-handler audit
// entry. Router-level errors (unknown pkg, permission denied, schema
// validation) are themselves valid responses, not panics, so they are
// audited as such rather than closing the connection.
func (e *Endpoint) dispatch(conn *registry.Connection, req *wire.Request) *wire.Response {
	start := time.Now()
	resp := e.router.Dispatch(context.Background(), conn.Principal, req)
	duration := time.Since(start)

	e.metrics.HandlerDuration.WithLabelValues(pkgLabel(req.PkgID)).Observe(duration.Seconds())

	outcome := audit.OutcomeSuccess
	switch resp.StatusCode {
	case gwerrors.StatusOK:
		outcome = audit.OutcomeSuccess
	case gwerrors.StatusPermissionDenied:
		outcome = audit.OutcomePermissionDenied
	default:
		outcome = audit.OutcomeError
	}
	e.metrics.HandlerTotal.WithLabelValues(pkgLabel(req.PkgID), string(outcome)).Inc()

	e.audit.Enqueue(context.Background(), audit.Entry{
		Timestamp:      time.Now().UTC(),
		UserID:         conn.Principal.UserID,
		Username:       conn.Principal.Username,
		UserRoles:      conn.Principal.Roles,
		ActionType:     "WS:" + pkgLabel(req.PkgID),
		Resource:       "/web",
		Outcome:        outcome,
		CorrelationID:  conn.CorrelationID,
		ResponseStatus: int(resp.StatusCode),
		DurationMS:     duration.Milliseconds(),
	})

	return resp
}

// checkMessageRate consults the Rate Limiter with key ws_msg:user:<username>
// (spec.md §4.10). A denial closes with 1008; a store outage fails open.
func (e *Endpoint) checkMessageRate(conn *registry.Connection) bool {
	allowed, _, err := e.msgLimit.Allow(context.Background(), "ws_msg:user:"+conn.Principal.Username, e.cfg.MessageRateLimit, e.cfg.MessageWindow, 0, "ws_message")
	if err != nil {
		// Limiter.Allow already resolves store errors per its own fail
		// mode; this branch is defensive only.
		return true
	}
	if !allowed {
		// Allow already incremented rate_limit_hits_total{limit_type="ws_message"};
		// nothing to add here beyond the close.
		slog.Warn("wsgateway: message rate limit exceeded", "connection_id", conn.ID, "user_id", conn.Principal.UserID)
		conn.CloseWithReason(websocket.ClosePolicyViolation, "Message rate limit exceeded")
		return false
	}
	return true
}

func (e *Endpoint) auditInvalidRequest(conn *registry.Connection, decodeErr error) {
	slog.Warn("wsgateway: decode error, closing connection", "connection_id", conn.ID, "error", decodeErr)
	e.audit.Enqueue(context.Background(), audit.Entry{
		Timestamp:     time.Now().UTC(),
		UserID:        conn.Principal.UserID,
		Username:      conn.Principal.Username,
		UserRoles:     conn.Principal.Roles,
		ActionType:    "WS:ERROR",
		Resource:      "/web",
		Outcome:       audit.OutcomeError,
		CorrelationID: conn.CorrelationID,
		ErrorMessage:  decodeErr.Error(),
	})
}

// teardown releases every resource runConnection's caller acquired,
// regardless of which branch caused the loop to exit.
func (e *Endpoint) teardown(conn *registry.Connection) {
	e.registry.Remove(conn)
	e.connLimit.Remove(context.Background(), conn.Principal.UserID, conn.ID)
	e.metrics.WSConnectionsActive.Dec()
	conn.Close()
	slog.Debug("wsgateway: connection closed", "connection_id", conn.ID, "correlation_id", conn.CorrelationID)
}

// keepalive pings the peer on a fixed interval until done is closed or a
// ping fails, at which point it closes the socket to unblock the read loop.
func (e *Endpoint) keepalive(conn *registry.Connection, done <-chan struct{}) {
	ticker := time.NewTicker(e.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WriteWait)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func negotiateFormat(raw string) wire.Format {
	switch strings.ToLower(raw) {
	case "protobuf", "binary":
		return wire.FormatBinary
	case "", "json":
		return wire.FormatJSON
	default:
		slog.Warn("wsgateway: invalid format query parameter, defaulting to json", "format", raw)
		return wire.FormatJSON
	}
}

// correlationIDFor derives the connection's correlation ID: the inbound
// X-Correlation-ID header, truncated to 8 characters, or else the first 8
// characters of the generated connection ID.
func correlationIDFor(r *http.Request, connID string) string {
	if h := r.Header.Get(httpmw.CorrelationHeader); h != "" {
		if len(h) > 8 {
			return h[:8]
		}
		return h
	}
	return connID[:8]
}

func pkgLabel(pkgID int32) string {
	return strconv.FormatInt(int64(pkgID), 10)
}

// closeWithPolicyViolation sends a 1008 close control frame and tears
// down ws. Used ahead of registry.NewConnection, before a registry
// Connection (and its send mutex) exists to own the socket.
func closeWithPolicyViolation(ws *websocket.Conn, reason string) {
	ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
	ws.Close()
}
