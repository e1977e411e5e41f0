package wsgateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/wsgateway/internal/audit"
	"github.com/ocx/wsgateway/internal/cache"
	"github.com/ocx/wsgateway/internal/gwerrors"
	"github.com/ocx/wsgateway/internal/httpmw"
	"github.com/ocx/wsgateway/internal/identity"
	"github.com/ocx/wsgateway/internal/metrics"
	"github.com/ocx/wsgateway/internal/ratelimit"
	"github.com/ocx/wsgateway/internal/registry"
	"github.com/ocx/wsgateway/internal/router"
	"github.com/ocx/wsgateway/internal/wire"
)

type discardWriter struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (w *discardWriter) WriteBatch(ctx context.Context, entries []audit.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, entries...)
	return nil
}

func (w *discardWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestEndpointRejectsUnauthenticatedUpgrade(t *testing.T) {
	store := cache.NewMemoryStore()
	m := metrics.New()
	ep := New(Config{
		PingInterval:     time.Hour,
		PongWait:         time.Minute,
		WriteWait:        time.Second,
		MessageRateLimit: 100,
		MessageWindow:    time.Minute,
	}, router.New(), registry.New(), ratelimit.NewConnectionLimiter(store, m, 10), ratelimit.NewLimiter(store, m, true, ratelimit.FailOpen), audit.New(&discardWriter{}, m, audit.Config{QueueMaxSize: 10, BatchSize: 1, BatchTimeout: time.Hour, EnqueueTimeout: time.Second}), m, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/web", ep.ServeHTTP)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/web")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEndpointRoundTrip(t *testing.T) {
	p := &identity.Principal{UserID: "u1", Username: "alice", Roles: []string{"viewer"}}

	r := router.New()
	r.Register(1, func(ctx context.Context, pr *identity.Principal, req *wire.Request) *wire.Response {
		return wire.NewOK(req.PkgID, req.ReqID, map[string]interface{}{"echo": string(req.Data)}, "")
	})

	reg := registry.New()
	store := cache.NewMemoryStore()
	m := metrics.New()
	connLimit := ratelimit.NewConnectionLimiter(store, m, 10)
	msgLimit := ratelimit.NewLimiter(store, m, true, ratelimit.FailOpen)

	w := &discardWriter{}
	pipeline := audit.New(w, m, audit.Config{
		QueueMaxSize:   100,
		BatchSize:      1,
		BatchTimeout:   10 * time.Millisecond,
		EnqueueTimeout: time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipeline.Start(ctx)
	defer pipeline.Stop()

	ep := New(Config{
		PingInterval:     time.Hour,
		PongWait:         time.Minute,
		WriteWait:        time.Second,
		MessageRateLimit: 100,
		MessageWindow:    time.Minute,
	}, r, reg, connLimit, msgLimit, pipeline, m, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/web", func(rw http.ResponseWriter, req *http.Request) {
		req = req.WithContext(httpmw.WithPrincipal(req.Context(), p))
		ep.ServeHTTP(rw, req)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dialWS(t, srv, "/web")
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wire.Request{PkgID: 1, ReqID: "r1", Data: []byte(`"hi"`)}))

	var resp wire.Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, gwerrors.StatusOK, int(resp.StatusCode))
	assert.Equal(t, "r1", resp.ReqID)

	require.Eventually(t, func() bool {
		return w.count() >= 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, reg.Count())
}

func TestEndpointReturnsErrorForUnknownPkg(t *testing.T) {
	p := &identity.Principal{UserID: "u2", Username: "bob"}

	r := router.New()
	reg := registry.New()
	store := cache.NewMemoryStore()
	m := metrics.New()
	connLimit := ratelimit.NewConnectionLimiter(store, m, 10)
	msgLimit := ratelimit.NewLimiter(store, m, true, ratelimit.FailOpen)
	w := &discardWriter{}
	pipeline := audit.New(w, m, audit.Config{QueueMaxSize: 10, BatchSize: 1, BatchTimeout: time.Hour, EnqueueTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipeline.Start(ctx)
	defer pipeline.Stop()

	ep := New(Config{
		PingInterval:     time.Hour,
		PongWait:         time.Minute,
		WriteWait:        time.Second,
		MessageRateLimit: 100,
		MessageWindow:    time.Minute,
	}, r, reg, connLimit, msgLimit, pipeline, m, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/web", func(rw http.ResponseWriter, req *http.Request) {
		req = req.WithContext(httpmw.WithPrincipal(req.Context(), p))
		ep.ServeHTTP(rw, req)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dialWS(t, srv, "/web")
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wire.Request{PkgID: 999, ReqID: "r1"}))

	var resp wire.Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, gwerrors.StatusError, int(resp.StatusCode))
}

func TestEndpointClosesOverCapConnectionWithPolicyViolation(t *testing.T) {
	p := &identity.Principal{UserID: "u3", Username: "carol"}

	r := router.New()
	reg := registry.New()
	store := cache.NewMemoryStore()
	m := metrics.New()
	connLimit := ratelimit.NewConnectionLimiter(store, m, 0) // cap of zero: every admission attempt is rejected
	msgLimit := ratelimit.NewLimiter(store, m, true, ratelimit.FailOpen)
	pipeline := audit.New(&discardWriter{}, m, audit.Config{QueueMaxSize: 10, BatchSize: 1, BatchTimeout: time.Hour, EnqueueTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipeline.Start(ctx)
	defer pipeline.Stop()

	ep := New(Config{
		PingInterval:     time.Hour,
		PongWait:         time.Minute,
		WriteWait:        time.Second,
		MessageRateLimit: 100,
		MessageWindow:    time.Minute,
	}, r, reg, connLimit, msgLimit, pipeline, m, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/web", func(rw http.ResponseWriter, req *http.Request) {
		req = req.WithContext(httpmw.WithPrincipal(req.Context(), p))
		ep.ServeHTTP(rw, req)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// The handshake must succeed at the HTTP/upgrade layer; rejection is
	// signaled as a WS close frame, not an HTTP error status.
	conn := dialWS(t, srv, "/web")
	defer conn.Close()

	closeCode := -1
	closeReason := ""
	conn.SetCloseHandler(func(code int, text string) error {
		closeCode = code
		closeReason = text
		return nil
	})

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeCode)
	assert.Equal(t, "Maximum concurrent connections exceeded", closeReason)
}

func TestNegotiateFormat(t *testing.T) {
	assert.Equal(t, wire.FormatJSON, negotiateFormat(""))
	assert.Equal(t, wire.FormatJSON, negotiateFormat("json"))
	assert.Equal(t, wire.FormatBinary, negotiateFormat("protobuf"))
	assert.Equal(t, wire.FormatJSON, negotiateFormat("bogus"))
}

func TestCorrelationIDForUsesHeaderThenConnID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/web", nil)
	req.Header.Set(httpmw.CorrelationHeader, "abcdefghij")
	assert.Equal(t, "abcdefgh", correlationIDFor(req, "zzzzzzzzzzzz"))

	req2 := httptest.NewRequest(http.MethodGet, "/web", nil)
	assert.Equal(t, "zzzzzzzz", correlationIDFor(req2, "zzzzzzzzzzzz"))
}
