package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfigFile(t, `
server:
  address: ":9090"
  login_path: /admin/login
session:
  inactivity_threshold: 15m
  secure_cookies: true
provider:
  issuer: juceramics
  signing_key: test-signing-key
  users:
    - id: user-1
      email: anna@juceramics.com
      password_hash: "$2a$10$abcdefghijklmnopqrstuv"
      metadata:
        display_name: Anna
database:
  dsn: "postgres://localhost/sessiond?sslmode=disable"
audit:
  enabled: true
  retention_days: 30
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 15*time.Minute, cfg.Session.InactivityThreshold)
	assert.True(t, cfg.Session.SecureCookies)
	assert.Equal(t, "juceramics", cfg.Provider.Issuer)
	require.Len(t, cfg.Provider.Users, 1)
	assert.Equal(t, "anna@juceramics.com", cfg.Provider.Users[0].Email)
	assert.Equal(t, "Anna", cfg.Provider.Users[0].Metadata["display_name"])
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, 30, cfg.Audit.RetentionDays)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("SESSIOND_SIGNING_KEY", "secret-from-env")
	t.Setenv("SESSIOND_DSN", "postgres://db/sessiond")

	path := writeConfigFile(t, `
provider:
  signing_key: ${SESSIOND_SIGNING_KEY}
database:
  dsn: ${SESSIOND_DSN}
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "secret-from-env", cfg.Provider.SigningKey)
	assert.Equal(t, "postgres://db/sessiond", cfg.Database.DSN)
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	path := writeConfigFile(t, `
provider:
  signing_key: ${SESSIOND_DOES_NOT_EXIST}
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Empty(t, cfg.Provider.SigningKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not: valid")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "/admin/login", cfg.Server.LoginPath)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, DefaultInactivityThreshold, cfg.Session.InactivityThreshold)
	assert.Equal(t, 7*24*time.Hour, cfg.Session.RecordTTL)
	assert.Equal(t, 15*time.Minute, cfg.Session.CleanupInterval)
	assert.Equal(t, 2*time.Second, cfg.Session.BroadcastPollInterval)
	assert.Equal(t, "sessiond", cfg.Provider.Issuer)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Address = ":3000"
	cfg.Session.InactivityThreshold = time.Hour

	ApplyDefaults(cfg)

	assert.Equal(t, ":3000", cfg.Server.Address)
	assert.Equal(t, time.Hour, cfg.Session.InactivityThreshold)
}
