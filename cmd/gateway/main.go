// Command gateway is the wsgateway process entrypoint: it loads
// configuration, connects every backing store, wires the Admission
// Pipeline and WebSocket Endpoint together, starts the Background
// Supervisor, and serves traffic until an OS signal asks it to stop.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"github.com/ocx/wsgateway/internal/audit"
	"github.com/ocx/wsgateway/internal/cache"
	"github.com/ocx/wsgateway/internal/config"
	"github.com/ocx/wsgateway/internal/gwerrors"
	"github.com/ocx/wsgateway/internal/handlers"
	"github.com/ocx/wsgateway/internal/httpmw"
	"github.com/ocx/wsgateway/internal/identity"
	"github.com/ocx/wsgateway/internal/metrics"
	"github.com/ocx/wsgateway/internal/ratelimit"
	"github.com/ocx/wsgateway/internal/registry"
	"github.com/ocx/wsgateway/internal/router"
	"github.com/ocx/wsgateway/internal/storage"
	"github.com/ocx/wsgateway/internal/supervisor"
	"github.com/ocx/wsgateway/internal/wsgateway"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Get()
	configureLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	store, err := cache.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		slog.Error("gateway: failed to connect to redis", "error", err)
		os.Exit(1)
	}

	pool, err := storage.NewPool(ctx, storage.PoolConfig{
		DSN:             cfg.Database.DSN(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifeSec) * time.Second,
	})
	if err != nil {
		slog.Error("gateway: failed to connect to database", "error", err)
		os.Exit(1)
	}

	claimCache := identity.NewTokenClaimCache(store)
	verifier := identity.NewKeycloakVerifier(identity.Config{
		JWKSURL:           cfg.Keycloak.BaseURL + "/realms/" + cfg.Keycloak.Realm + "/protocol/openid-connect/certs",
		Issuer:            cfg.Keycloak.BaseURL + "/realms/" + cfg.Keycloak.Realm,
		AcceptedAudiences: cfg.Keycloak.AcceptedAudiences,
		RolesClaimPath:    cfg.Keycloak.RolesClaimPath,
		JWKSCacheTTL:      time.Duration(cfg.Keycloak.JWKSCacheTTLSec) * time.Second,
		DevBypassEnabled:  cfg.Keycloak.DevBypassEnabled,
	}, claimCache)

	httpLimiter := ratelimit.NewLimiter(store, m, cfg.RateLimit.Enabled, ratelimit.FailMode(cfg.RateLimit.FailMode))
	msgLimiter := ratelimit.NewLimiter(store, m, cfg.RateLimit.Enabled, ratelimit.FailOpen)
	connLimiter := ratelimit.NewConnectionLimiter(store, m, cfg.WebSocket.MaxConnectionsPerUser)

	auditStore := storage.NewAuditStore(pool)
	auditPipeline := audit.New(auditStore, m, audit.Config{
		QueueMaxSize:   cfg.Audit.QueueMaxSize,
		BatchSize:      cfg.Audit.BatchSize,
		BatchTimeout:   time.Duration(cfg.Audit.BatchTimeoutMs) * time.Millisecond,
		EnqueueTimeout: time.Duration(cfg.Audit.EnqueueTimeoutMs) * time.Millisecond,
	})

	reg := registry.New()

	r := router.New()
	if err := handlers.Register(r, reg); err != nil {
		slog.Error("gateway: failed to register handlers", "error", err)
		os.Exit(1)
	}

	endpoint := wsgateway.New(wsgateway.Config{
		PingInterval:     time.Duration(cfg.WebSocket.PingIntervalSec) * time.Second,
		PongWait:         time.Duration(cfg.WebSocket.PongWaitSec) * time.Second,
		WriteWait:        time.Duration(cfg.WebSocket.WriteWaitSec) * time.Second,
		MessageRateLimit: cfg.WebSocket.MessageRateLimit,
		MessageWindow:    time.Duration(cfg.WebSocket.MessageRateWindowSec) * time.Second,
	}, r, reg, connLimiter, msgLimiter, auditPipeline, m, cfg.Server.CORSAllowOrigins)

	sup := supervisor.New(cfg, store, pool, auditPipeline, reg, m)
	if err := sup.ValidateDependencies(ctx); err != nil {
		slog.Error("gateway: startup validation failed", "error", err)
		os.Exit(1)
	}
	sup.Start(ctx)

	trusted := httpmw.NewTrustedProxies(cfg.Admission.TrustedProxies)
	pipeline := buildAdmissionPipeline(cfg, verifier, httpLimiter, auditPipeline, m, trusted)
	if err := pipeline.Validate(); err != nil {
		slog.Error("gateway: admission pipeline misconfigured", "error", err)
		os.Exit(1)
	}

	mr := mux.NewRouter()
	mr.HandleFunc("/health", healthHandler(pool, store)).Methods("GET")
	mr.Handle("/metrics", promhttp.Handler()).Methods("GET")
	mr.HandleFunc("/system-info", systemInfoHandler(sup)).Methods("GET")
	mr.HandleFunc("/docs", docsHandler).Methods("GET")
	mr.HandleFunc("/openapi.json", openAPIHandler).Methods("GET")
	mr.Handle("/web", endpoint).Methods("GET")

	handler := pipeline.Then(mr)

	srv := &http.Server{
		Addr:         cfg.Server.Interface + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	// Operator mTLS is optional. When enabled, the SPIFFE-sourced TLS
	// config is installed on this single HTTP server, so every route
	// (/web and /system-info included) is served over mTLS; the bearer-JWT
	// Identity Verifier above remains the sole source of request identity.
	var spiffeVerifier *identity.SPIFFEVerifier
	if cfg.Admission.MTLSEnabled {
		var err error
		spiffeVerifier, err = identity.NewSPIFFEVerifier(cfg.Admission.SPIFFESocketPath)
		if err != nil {
			slog.Error("gateway: failed to start spiffe workload source", "error", err)
			os.Exit(1)
		}
		defer spiffeVerifier.Close()

		tlsConfig, err := spiffeVerifier.GetTLSConfig()
		if err != nil {
			slog.Error("gateway: failed to build spiffe tls config", "error", err)
			os.Exit(1)
		}
		srv.TLSConfig = tlsConfig
	}

	go func() {
		slog.Info("gateway: listening", "addr", srv.Addr, "mtls", cfg.Admission.MTLSEnabled)
		var err error
		if cfg.Admission.MTLSEnabled {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			slog.Error("gateway: server failed", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	slog.Info("gateway: shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSec)*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("gateway: error shutting down HTTP listener", "error", err)
	}

	sup.Shutdown(context.Background())
	slog.Info("gateway: shutdown complete")
}

// buildAdmissionPipeline assembles the Admission Pipeline (spec.md §4.9)
// in this execution order: trusted host, correlation ID, logging context,
// authentication, rate limit, request size, audit, security headers,
// request metrics. Each stage that depends on an earlier one records it
// so Validate can catch a misordering before the process serves traffic.
func buildAdmissionPipeline(cfg *config.Config, verifier identity.Verifier, limiter *ratelimit.Limiter, auditPipeline *audit.Pipeline, m *metrics.Metrics, trusted *httpmw.TrustedProxies) *httpmw.Pipeline {
	p := httpmw.NewPipeline()

	p.Use("trusted_host", httpmw.TrustedHost(cfg.Admission.AllowedHosts))
	p.Use("correlation_id", httpmw.CorrelationID())
	p.Use("logging_context", httpmw.LoggingContext())
	p.Use("authentication", httpmw.Authentication(verifier))
	p.Use("rate_limit", httpmw.RateLimit(limiter, trusted, cfg.RateLimit.DefaultLimit, cfg.RateLimit.DefaultLimit, time.Duration(cfg.RateLimit.DefaultWindowSec)*time.Second))
	p.Use("request_size", httpmw.RequestSizeLimit(cfg.Admission.MaxRequestBodySize))
	p.Use("audit", httpmw.Audit(auditPipeline, trusted))
	p.Use("security_headers", httpmw.SecurityHeaders())
	p.Use("metrics", httpmw.RequestMetrics(m))

	p.Require("logging_context", "correlation_id")
	p.Require("authentication", "trusted_host")
	p.Require("rate_limit", "authentication")
	p.Require("audit", "authentication", "correlation_id")

	return p
}

func healthHandler(pool *storage.Pool, store cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := pool.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
		if err := store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","error":"cache unreachable"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// systemInfoHandler exposes the admin-gated diagnostics endpoint spec.md
// §6 names. The admission pipeline has already attached the principal
// by the time this runs; the role gate lives here because the HTTP
// surface has no package router to enforce it for us.
func systemInfoHandler(sup *supervisor.Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := httpmw.PrincipalFrom(r.Context())
		if p == nil || !p.HasRole("admin") {
			w.WriteHeader(gwerrors.HTTPStatus(gwerrors.KindPermissionDenied))
			w.Write([]byte(`{"error":"admin role required"}`))
			return
		}
		writeJSON(w, sup.SystemInfo())
	}
}

func docsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(`<html><body><h1>wsgateway</h1><p>See /openapi.json.</p></body></html>`))
}

func openAPIHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"openapi": "3.0.0",
		"info":    map[string]string{"title": "wsgateway", "version": "1.0.0"},
		"paths": map[string]interface{}{
			"/health":      map[string]string{"get": "health check"},
			"/system-info": map[string]string{"get": "admin diagnostics"},
			"/web":         map[string]string{"get": "websocket upgrade"},
		},
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("gateway: failed to encode json response", "error", err)
	}
}

func configureLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
