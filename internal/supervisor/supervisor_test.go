package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/wsgateway/internal/audit"
	"github.com/ocx/wsgateway/internal/cache"
	"github.com/ocx/wsgateway/internal/config"
	"github.com/ocx/wsgateway/internal/metrics"
	"github.com/ocx/wsgateway/internal/registry"
	"github.com/ocx/wsgateway/internal/storage"
)

type discardWriter struct{}

func (discardWriter) WriteBatch(ctx context.Context, entries []audit.Entry) error { return nil }

func newTestSupervisor(t *testing.T) (*Supervisor, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	pool := &storage.Pool{DB: db}

	store := cache.NewMemoryStore()
	m := metrics.New()
	pipeline := audit.New(discardWriter{}, m, audit.Config{
		QueueMaxSize: 10, BatchSize: 1, BatchTimeout: time.Hour, EnqueueTimeout: time.Second,
	})
	reg := registry.New()

	cfg := &config.Config{}
	cfg.Database.Host = "localhost"
	cfg.Redis.Addr = "localhost:6379"
	cfg.RateLimit.FailMode = "open"
	cfg.Keycloak.DevBypassEnabled = true

	s := New(cfg, store, pool, pipeline, reg, m)
	cleanup := func() { db.Close() }
	return s, mock, cleanup
}

func TestValidateDependenciesPassesWhenHealthy(t *testing.T) {
	s, mock, cleanup := newTestSupervisor(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	require.NoError(t, s.ValidateDependencies(context.Background()))
}

func TestValidateDependenciesFailsOnBadConfig(t *testing.T) {
	s, _, cleanup := newTestSupervisor(t)
	defer cleanup()
	s.cfg.Database.Host = ""

	assert.Error(t, s.ValidateDependencies(context.Background()))
}

func TestValidateDependenciesRefusesDevBypassInProduction(t *testing.T) {
	s, mock, cleanup := newTestSupervisor(t)
	defer cleanup()
	mock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	s.cfg.Server.Env = "production"
	s.cfg.Keycloak.DevBypassEnabled = true

	assert.Error(t, s.ValidateDependencies(context.Background()))
}

func TestValidateDependenciesFailsWhenDatabaseUnreachable(t *testing.T) {
	s, mock, cleanup := newTestSupervisor(t)
	defer cleanup()
	mock.ExpectQuery(`SELECT 1`).WillReturnError(assertErr)

	assert.Error(t, s.ValidateDependencies(context.Background()))
}

var assertErr = fakeError("db unreachable")

type fakeError string

func (e fakeError) Error() string { return string(e) }

func TestStartAndShutdownDrainsCleanly(t *testing.T) {
	s, mock, cleanup := newTestSupervisor(t)
	defer cleanup()
	mock.MatchExpectationsInOrder(false)

	ctx := context.Background()
	s.Start(ctx)

	s.pipeline.Enqueue(ctx, audit.Entry{Username: "alice", ActionType: "GET", Outcome: audit.OutcomeSuccess})

	mock.ExpectClose()
	s.Shutdown(ctx)
}

func TestSystemInfoReportsGoroutineAndConnectionCounts(t *testing.T) {
	s, _, cleanup := newTestSupervisor(t)
	defer cleanup()

	info := s.SystemInfo()
	assert.Contains(t, info, "cpu_count")
	assert.Contains(t, info, "goroutine_count")
	assert.Equal(t, 0, info["active_connections"])
}
