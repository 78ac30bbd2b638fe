// Package config loads service configuration from YAML with environment
// variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultInactivityThreshold is the canonical auto-logout window. It is the
// single policy constant applied by the hydration hook, the activity monitor,
// and /api/auth/me.
const DefaultInactivityThreshold = 30 * time.Minute

// Config holds the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Provider ProviderConfig `yaml:"provider"`
	Database DatabaseConfig `yaml:"database"`
	Audit    AuditConfig    `yaml:"audit"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	LoginPath       string        `yaml:"login_path"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig configures TLS.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SessionConfig configures the session lifecycle policy.
type SessionConfig struct {
	// InactivityThreshold is the auto-logout window.
	InactivityThreshold time.Duration `yaml:"inactivity_threshold"`

	// RecordTTL is how long server-side activity records live without a
	// touch. Defaults to the cookie lifetime.
	RecordTTL time.Duration `yaml:"record_ttl"`

	// CleanupInterval is the cadence of expired-record cleanup.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// SecureCookies sets the Secure attribute on session cookies.
	SecureCookies bool `yaml:"secure_cookies"`

	// BroadcastPollInterval is the Postgres broadcast polling cadence.
	BroadcastPollInterval time.Duration `yaml:"broadcast_poll_interval"`
}

// ProviderConfig configures the identity provider.
type ProviderConfig struct {
	// Issuer is the iss claim for the embedded provider's tokens.
	Issuer string `yaml:"issuer"`

	// SigningKey is the HMAC key for the embedded provider. Usually set
	// via ${SESSIOND_SIGNING_KEY}.
	SigningKey string `yaml:"signing_key"`

	// AccessTTL is the access token lifetime.
	AccessTTL time.Duration `yaml:"access_ttl"`

	// Users are the embedded provider's accounts.
	Users []ProviderUser `yaml:"users"`
}

// ProviderUser defines one embedded provider account.
type ProviderUser struct {
	ID           string         `yaml:"id"`
	Email        string         `yaml:"email"`
	PasswordHash string         `yaml:"password_hash"` // bcrypt
	Metadata     map[string]any `yaml:"metadata"`
}

// DatabaseConfig configures PostgreSQL. An empty DSN selects the in-memory
// stores.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// AuditConfig configures audit logging.
type AuditConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// Load reads configuration from a file.
// The path is expected to come from command line arguments, controlled by the
// administrator.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	ApplyDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults applies default values to the config.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.LoginPath == "" {
		cfg.Server.LoginPath = "/admin/login"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Session.InactivityThreshold == 0 {
		cfg.Session.InactivityThreshold = DefaultInactivityThreshold
	}
	if cfg.Session.RecordTTL == 0 {
		cfg.Session.RecordTTL = 7 * 24 * time.Hour
	}
	if cfg.Session.CleanupInterval == 0 {
		cfg.Session.CleanupInterval = 15 * time.Minute
	}
	if cfg.Session.BroadcastPollInterval == 0 {
		cfg.Session.BroadcastPollInterval = 2 * time.Second
	}
	if cfg.Provider.Issuer == "" {
		cfg.Provider.Issuer = "sessiond"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 90
	}
}
