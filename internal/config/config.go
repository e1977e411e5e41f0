package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Gateway Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Keycloak  KeycloakConfig  `yaml:"keycloak"`
	Admission AdmissionConfig `yaml:"admission"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port            string   `yaml:"port"`
	Env             string   `yaml:"env"`
	Interface       string   `yaml:"interface"`
	ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int      `yaml:"idle_timeout_sec"`
	ShutdownSec     int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

type DatabaseConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Name            string `yaml:"name"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeSec  int    `yaml:"conn_max_life_sec"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KeycloakConfig struct {
	BaseURL            string   `yaml:"base_url"`
	Realm              string   `yaml:"realm"`
	ClientID           string   `yaml:"client_id"`
	RolesClaimPath     string   `yaml:"roles_claim_path"`
	JWKSCacheTTLSec    int      `yaml:"jwks_cache_ttl_sec"`
	AcceptedAudiences  []string `yaml:"accepted_audiences"`
	DevBypassEnabled   bool     `yaml:"dev_bypass_enabled"`
}

type AdmissionConfig struct {
	AllowedHosts       []string `yaml:"allowed_hosts"`
	TrustedProxies     []string `yaml:"trusted_proxies"`
	MaxRequestBodySize int64    `yaml:"max_request_body_size"`
	MTLSEnabled        bool     `yaml:"mtls_enabled"`
	SPIFFESocketPath   string   `yaml:"spiffe_socket_path"`
}

type RateLimitConfig struct {
	Enabled          bool   `yaml:"enabled"`
	DefaultLimit     int    `yaml:"default_limit"`
	DefaultWindowSec int    `yaml:"default_window_sec"`
	FailMode         string `yaml:"fail_mode"` // "open" or "closed"
}

type WebSocketConfig struct {
	MaxConnectionsPerUser int `yaml:"max_connections_per_user"`
	MessageRateLimit      int `yaml:"message_rate_limit"`
	MessageRateWindowSec  int `yaml:"message_rate_window_sec"`
	PingIntervalSec       int `yaml:"ping_interval_sec"`
	PongWaitSec           int `yaml:"pong_wait_sec"`
	WriteWaitSec          int `yaml:"write_wait_sec"`
}

type AuditConfig struct {
	Enabled         bool `yaml:"enabled"`
	QueueMaxSize    int  `yaml:"queue_max_size"`
	BatchSize       int  `yaml:"batch_size"`
	BatchTimeoutMs  int  `yaml:"batch_timeout_ms"`
	EnqueueTimeoutMs int `yaml:"enqueue_timeout_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides on top of any
// values loaded from the YAML file, then fills remaining zero values with
// defaults.
func (c *Config) applyEnvOverrides() {
	// Server
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("ENV", c.Server.Env)
	c.Server.Interface = getEnv("INTERFACE", c.Server.Interface)
	if v := getEnvInt("SERVER_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("SERVER_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownSec = v
	}
	if origins := getEnv("CORS_ALLOW_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}

	// Database
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	if v := getEnvInt("DB_PORT", 0); v > 0 {
		c.Database.Port = v
	}
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.SSLMode = getEnv("DB_SSL_MODE", c.Database.SSLMode)
	if v := getEnvInt("DB_MAX_OPEN_CONNS", 0); v > 0 {
		c.Database.MaxOpenConns = v
	}
	if v := getEnvInt("DB_MAX_IDLE_CONNS", 0); v > 0 {
		c.Database.MaxIdleConns = v
	}
	if v := getEnvInt("DB_CONN_MAX_LIFE_SEC", 0); v > 0 {
		c.Database.ConnMaxLifeSec = v
	}

	// Redis
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	if v := getEnvInt("REDIS_DB", 0); v > 0 {
		c.Redis.DB = v
	}

	// Keycloak / identity
	c.Keycloak.BaseURL = getEnv("KEYCLOAK_BASE_URL", c.Keycloak.BaseURL)
	c.Keycloak.Realm = getEnv("KEYCLOAK_REALM", c.Keycloak.Realm)
	c.Keycloak.ClientID = getEnv("KEYCLOAK_CLIENT_ID", c.Keycloak.ClientID)
	c.Keycloak.RolesClaimPath = getEnv("KEYCLOAK_ROLES_CLAIM_PATH", c.Keycloak.RolesClaimPath)
	if v := getEnvInt("KEYCLOAK_JWKS_CACHE_TTL_SEC", 0); v > 0 {
		c.Keycloak.JWKSCacheTTLSec = v
	}
	if aud := getEnv("KEYCLOAK_ACCEPTED_AUDIENCES", ""); aud != "" {
		c.Keycloak.AcceptedAudiences = splitCSV(aud)
	}
	c.Keycloak.DevBypassEnabled = getEnvBool("KEYCLOAK_DEV_BYPASS_ENABLED", c.Keycloak.DevBypassEnabled)

	// Admission
	if hosts := getEnv("ALLOWED_HOSTS", ""); hosts != "" {
		c.Admission.AllowedHosts = splitCSV(hosts)
	}
	if proxies := getEnv("TRUSTED_PROXIES", ""); proxies != "" {
		c.Admission.TrustedProxies = splitCSV(proxies)
	}
	if v := getEnvInt64("MAX_REQUEST_BODY_SIZE", 0); v > 0 {
		c.Admission.MaxRequestBodySize = v
	}
	c.Admission.MTLSEnabled = getEnvBool("ADMISSION_MTLS_ENABLED", c.Admission.MTLSEnabled)
	c.Admission.SPIFFESocketPath = getEnv("ADMISSION_SPIFFE_SOCKET_PATH", c.Admission.SPIFFESocketPath)

	// Rate limiting
	c.RateLimit.Enabled = getEnvBool("RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	if v := getEnvInt("RATE_LIMIT_DEFAULT_LIMIT", 0); v > 0 {
		c.RateLimit.DefaultLimit = v
	}
	if v := getEnvInt("RATE_LIMIT_WINDOW_SEC", 0); v > 0 {
		c.RateLimit.DefaultWindowSec = v
	}
	c.RateLimit.FailMode = getEnv("RATE_LIMIT_FAIL_MODE", c.RateLimit.FailMode)

	// WebSocket
	if v := getEnvInt("WS_MAX_CONNECTIONS_PER_USER", 0); v > 0 {
		c.WebSocket.MaxConnectionsPerUser = v
	}
	if v := getEnvInt("WS_MESSAGE_RATE_LIMIT", 0); v > 0 {
		c.WebSocket.MessageRateLimit = v
	}
	if v := getEnvInt("WS_MESSAGE_RATE_WINDOW_SEC", 0); v > 0 {
		c.WebSocket.MessageRateWindowSec = v
	}
	if v := getEnvInt("WS_PING_INTERVAL_SEC", 0); v > 0 {
		c.WebSocket.PingIntervalSec = v
	}
	if v := getEnvInt("WS_PONG_WAIT_SEC", 0); v > 0 {
		c.WebSocket.PongWaitSec = v
	}
	if v := getEnvInt("WS_WRITE_WAIT_SEC", 0); v > 0 {
		c.WebSocket.WriteWaitSec = v
	}

	// Audit
	c.Audit.Enabled = getEnvBool("AUDIT_LOG_ENABLED", c.Audit.Enabled)
	if v := getEnvInt("AUDIT_QUEUE_MAX_SIZE", 0); v > 0 {
		c.Audit.QueueMaxSize = v
	}
	if v := getEnvInt("AUDIT_BATCH_SIZE", 0); v > 0 {
		c.Audit.BatchSize = v
	}
	if v := getEnvInt("AUDIT_BATCH_TIMEOUT_MS", 0); v > 0 {
		c.Audit.BatchTimeoutMs = v
	}
	if v := getEnvInt("AUDIT_ENQUEUE_TIMEOUT_MS", 0); v > 0 {
		c.Audit.EnqueueTimeoutMs = v
	}

	// Logging
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields.
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownSec == 0 {
		c.Server.ShutdownSec = 30
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"*"}
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifeSec == 0 {
		c.Database.ConnMaxLifeSec = 300
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Keycloak.RolesClaimPath == "" {
		c.Keycloak.RolesClaimPath = "realm_access.roles"
	}
	if c.Keycloak.JWKSCacheTTLSec == 0 {
		c.Keycloak.JWKSCacheTTLSec = 300
	}
	if c.Admission.MaxRequestBodySize == 0 {
		c.Admission.MaxRequestBodySize = 1 << 20 // 1 MiB
	}
	if !c.RateLimit.Enabled && c.RateLimit.DefaultLimit == 0 {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.DefaultLimit == 0 {
		c.RateLimit.DefaultLimit = 100
	}
	if c.RateLimit.DefaultWindowSec == 0 {
		c.RateLimit.DefaultWindowSec = 60
	}
	if c.RateLimit.FailMode == "" {
		c.RateLimit.FailMode = "open"
	}
	if c.WebSocket.MaxConnectionsPerUser == 0 {
		c.WebSocket.MaxConnectionsPerUser = 5
	}
	if c.WebSocket.MessageRateLimit == 0 {
		c.WebSocket.MessageRateLimit = 60
	}
	if c.WebSocket.MessageRateWindowSec == 0 {
		c.WebSocket.MessageRateWindowSec = 60
	}
	if c.WebSocket.PingIntervalSec == 0 {
		c.WebSocket.PingIntervalSec = 30
	}
	if c.WebSocket.PongWaitSec == 0 {
		c.WebSocket.PongWaitSec = 60
	}
	if c.WebSocket.WriteWaitSec == 0 {
		c.WebSocket.WriteWaitSec = 10
	}
	if c.Audit.QueueMaxSize == 0 {
		c.Audit.QueueMaxSize = 10000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.BatchTimeoutMs == 0 {
		c.Audit.BatchTimeoutMs = 2000
	}
	if c.Audit.EnqueueTimeoutMs == 0 {
		c.Audit.EnqueueTimeoutMs = 50
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		if c.IsProduction() {
			c.Logging.Format = "json"
		} else {
			c.Logging.Format = "text"
		}
	}
}

// Validate runs the startup checks the Background Supervisor requires
// before the gateway is allowed to serve traffic.
func (c *Config) Validate() error {
	if c.Keycloak.BaseURL == "" && !c.Keycloak.DevBypassEnabled {
		return fmt.Errorf("config: KEYCLOAK_BASE_URL must be set unless KEYCLOAK_DEV_BYPASS_ENABLED is true")
	}
	if c.IsProduction() && c.Keycloak.DevBypassEnabled {
		return fmt.Errorf("config: KEYCLOAK_DEV_BYPASS_ENABLED must not be set in production")
	}
	if c.RateLimit.FailMode != "open" && c.RateLimit.FailMode != "closed" {
		return fmt.Errorf("config: RATE_LIMIT_FAIL_MODE must be \"open\" or \"closed\", got %q", c.RateLimit.FailMode)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("config: DB_HOST must be set")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: REDIS_ADDR must be set")
	}
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// =============================================================================
// Convenience Methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

func (c *Config) GetPort() string {
	if c.Server.Port == "" {
		return "8080"
	}
	return c.Server.Port
}

// DSN builds the lib/pq connection string from the database config.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Name, c.User, c.Password, c.SSLMode)
}

// ResetForTest clears the singleton so tests can reload configuration.
// Test-only helper, not used by cmd/gateway.
func ResetForTest() {
	instance = nil
	once = sync.Once{}
}
