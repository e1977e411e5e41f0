// Package supervisor implements the Background Supervisor (spec.md
// §4.12): startup dependency validation, the audit worker lifecycle,
// the periodic session-key and pool-metrics tasks, and the ordered
// graceful shutdown sequence.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/ocx/wsgateway/internal/audit"
	"github.com/ocx/wsgateway/internal/cache"
	"github.com/ocx/wsgateway/internal/config"
	"github.com/ocx/wsgateway/internal/metrics"
	"github.com/ocx/wsgateway/internal/registry"
	"github.com/ocx/wsgateway/internal/storage"
)

// shutdownGracePeriod bounds how long background tasks get to react to
// cancellation before Shutdown gives up on them, per spec.md §4.12.
const shutdownGracePeriod = 30 * time.Second

// Supervisor owns the gateway's background lifecycle: it validates
// dependencies at startup, runs periodic maintenance tasks for as long
// as the process lives, and drives an ordered shutdown when asked.
type Supervisor struct {
	cfg      *config.Config
	store    cache.Store
	pool     *storage.Pool
	pipeline *audit.Pipeline
	registry *registry.Registry
	metrics  *metrics.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Supervisor over the gateway's already-constructed
// collaborators. Start must be called once they are all ready.
func New(cfg *config.Config, store cache.Store, pool *storage.Pool, pipeline *audit.Pipeline, reg *registry.Registry, m *metrics.Metrics) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		store:    store,
		pool:     pool,
		pipeline: pipeline,
		registry: reg,
		metrics:  m,
	}
}

// ValidateDependencies runs the startup checks spec.md §4.12 requires
// before the gateway is allowed to accept traffic: config completeness,
// KV store connectivity, relational store connectivity, and the
// production/dev-bypass invariant. It returns the first failure found.
func (s *Supervisor) ValidateDependencies(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("supervisor: config validation: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.store.Ping(pingCtx); err != nil {
		return fmt.Errorf("supervisor: cache store unreachable: %w", err)
	}

	if err := s.pool.HealthCheck(ctx); err != nil {
		return fmt.Errorf("supervisor: relational store unreachable: %w", err)
	}

	if s.cfg.IsProduction() && s.cfg.Keycloak.DevBypassEnabled {
		return fmt.Errorf("supervisor: refusing to start with dev auth bypass enabled in production")
	}

	slog.Info("supervisor: startup validation passed")
	return nil
}

// Start launches every background task: the audit worker, the
// session-key TTL sync ticker, and the pool-metrics sampling ticker.
// It returns immediately; tasks run until Shutdown is called.
func (s *Supervisor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.pipeline.Start(runCtx)

	s.wg.Add(2)
	go s.runSessionKeySync(runCtx)
	go s.runPoolMetrics(runCtx)

	slog.Info("supervisor: background tasks started")
}

// sessionKeyTTL is the fixed TTL the sync task refreshes on each live
// session key, per spec.md §4.12 item 2: min(token lifetimes/2, 60s).
// Token lifetimes are not observable here without decoding every live
// principal's claims, so the supervisor uses the conservative fixed
// bound directly; NewKeycloakVerifier bounds the cache entry itself to
// the token's real expiry independently.
const sessionKeyTTL = 60 * time.Second

// sessionSyncInterval refreshes session keys well inside their TTL so a
// missed tick never expires an active session.
const sessionSyncInterval = 20 * time.Second

func (s *Supervisor) runSessionKeySync(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(sessionSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.syncSessionKeys(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// syncSessionKeys refreshes the session:<user> key's TTL for every
// currently connected user, so a long-lived connection's session entry
// never expires out from under it between token refreshes.
func (s *Supervisor) syncSessionKeys(ctx context.Context) {
	usernames := s.registry.Usernames()
	for _, username := range usernames {
		key := cache.SessionKey(username)
		if err := s.store.Set(ctx, key, "1", sessionKeyTTL); err != nil {
			slog.Warn("supervisor: session key sync failed", "username", username, "error", err)
		}
	}
}

const poolMetricsInterval = 15 * time.Second

func (s *Supervisor) runPoolMetrics(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(poolMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sampleNamedPoolMetrics()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) sampleNamedPoolMetrics() {
	stats := s.pool.Stats()
	s.metrics.DBPoolOpenConns.Set(float64(stats.OpenConnections))
	s.metrics.DBPoolInUseConns.Set(float64(stats.InUse))
}

// SystemInfo reports the process-wide diagnostics the admin-gated
// /system-info endpoint exposes (spec.md §13): CPU count, goroutine
// count, and configured pool sizes.
func (s *Supervisor) SystemInfo() map[string]interface{} {
	return map[string]interface{}{
		"cpu_count":          runtime.NumCPU(),
		"goroutine_count":    runtime.NumGoroutine(),
		"db_max_open_conns":  s.cfg.Database.MaxOpenConns,
		"db_max_idle_conns":  s.cfg.Database.MaxIdleConns,
		"active_connections": s.registry.Count(),
	}
}

// Shutdown drains the gateway in the order spec.md §4.12 requires:
// stop admitting new connections (the caller does this by closing the
// HTTP listener before calling Shutdown), close every live connection
// with a going-away code, drain the audit queue, then cancel the
// background tasks and wait up to a single grace period for them to
// exit.
func (s *Supervisor) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGracePeriod)
	defer cancel()

	s.registry.CloseAll(1001, "server shutting down")

	s.pipeline.Stop()
	drained := s.pipeline.Drain()
	slog.Info("supervisor: drained audit queue", "entries", drained)

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		slog.Warn("supervisor: shutdown grace period exceeded, background tasks may still be running")
	}

	if err := s.pool.Close(); err != nil {
		slog.Warn("supervisor: error closing relational store", "error", err)
	}
	if err := s.store.Close(); err != nil {
		slog.Warn("supervisor: error closing cache store", "error", err)
	}

	slog.Info("supervisor: shutdown complete")
}
