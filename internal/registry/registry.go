package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/wsgateway/internal/cache"
)

// defaultSendTimeout is the fixed per-connection send timeout a
// broadcast enforces before giving up on a slow consumer, per spec.md
// §4.6.
const defaultSendTimeout = 5 * time.Second

// Registry is the process-wide set of live connections, indexed both
// by connection ID and by session key (most recent connection per
// user). Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	byID        map[string]*Connection
	bySession   map[string]*Connection
	sendTimeout time.Duration
}

// New returns an empty Registry using the default send timeout.
func New() *Registry {
	return &Registry{
		byID:        make(map[string]*Connection),
		bySession:   make(map[string]*Connection),
		sendTimeout: defaultSendTimeout,
	}
}

// WithSendTimeout overrides the default 5s per-connection broadcast
// send timeout, used by tests.
func (r *Registry) WithSendTimeout(d time.Duration) *Registry {
	r.sendTimeout = d
	return r
}

// Add registers a connection, becoming the session key's most recent
// connection for its principal's user.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.ID] = c
	r.bySession[cache.SessionKey(c.Principal.Username)] = c
}

// Remove unregisters a connection. Removing an unknown connection is a
// no-op. If c is still the session key's most recent connection, the
// session entry is cleared too.
func (r *Registry) Remove(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(c)
}

func (r *Registry) removeLocked(c *Connection) {
	if _, ok := r.byID[c.ID]; !ok {
		return
	}
	delete(r.byID, c.ID)

	key := cache.SessionKey(c.Principal.Username)
	if cur, ok := r.bySession[key]; ok && cur.ID == c.ID {
		delete(r.bySession, key)
	}
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// BySession returns the most recent connection registered for the
// given username, if any.
func (r *Registry) BySession(username string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.bySession[cache.SessionKey(username)]
	return c, ok
}

// Usernames returns the username of every live connection's principal,
// used by the session-key sync task to refresh TTLs without the
// supervisor needing to know about connections directly.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byID))
	for _, c := range r.byID {
		names = append(names, c.Principal.Username)
	}
	return names
}

// CloseAll sends a close frame with the given code/reason to every live
// connection and removes it from the registry, used during graceful
// shutdown.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.byID))
	for _, c := range r.byID {
		conns = append(conns, c)
	}
	r.byID = make(map[string]*Connection)
	r.bySession = make(map[string]*Connection)
	r.mu.Unlock()

	for _, c := range conns {
		c.CloseWithReason(code, reason)
	}
}

// Broadcast sends payload/messageType to every live connection
// concurrently. Each send runs under its own bounded timeout so a
// single slow consumer cannot stall the fan-out; a send that fails or
// times out closes and removes that connection.
func (r *Registry) Broadcast(ctx context.Context, messageType int, payload []byte) {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byID))
	for _, c := range r.byID {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	wg.Add(len(conns))
	for _, c := range conns {
		go func(c *Connection) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
			defer cancel()

			if err := c.Send(sendCtx, messageType, payload); err != nil {
				slog.Warn("registry: broadcast send failed, dropping connection",
					"connection_id", c.ID, "error", err)
				c.Close()
				r.Remove(c)
			}
		}(c)
	}
	wg.Wait()
}
