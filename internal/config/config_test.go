package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "loopback", cfg.Server.Bind)
	assert.Equal(t, "local", cfg.Auth.Mode)
	assert.Equal(t, 1440, cfg.Auth.TokenTTLMinutes)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 10, cfg.Limits.ChatPerMinute)
	assert.Equal(t, 60, cfg.Limits.APIPerMinute)
	assert.Equal(t, 100, cfg.Limits.DailyActions)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.VFS.Audit)
	assert.Empty(t, Validate(&cfg))
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadValidYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
  bind: lan
  allowedOrigins:
    - http://localhost:3000
auth:
  mode: mock
storage:
  backend: firestore
  firestore:
    projectId: nous-dev
limits:
  chatPerMinute: 5
logging:
  level: debug
  consoleStyle: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "lan", cfg.Server.Bind)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "mock", cfg.Auth.Mode)
	assert.Equal(t, "firestore", cfg.Storage.Backend)
	assert.Equal(t, "nous-dev", cfg.Storage.Firestore.ProjectID)
	assert.Equal(t, "(default)", cfg.Storage.Firestore.DatabaseID)
	assert.Equal(t, 5, cfg.Limits.ChatPerMinute)
	assert.Equal(t, 60, cfg.Limits.APIPerMinute)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")

	_, err := Load(path)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NOUS_PORT", "7000")
	t.Setenv("NOUS_BIND", "lan")
	t.Setenv("NOUS_LOG_LEVEL", "DEBUG")
	t.Setenv("NOUS_STORAGE_BACKEND", "memory")
	t.Setenv("NOUS_AUTH_MODE", "mock")
	t.Setenv("NOUS_JWT_SECRET", "0123456789abcdef-secret")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "lan", cfg.Server.Bind)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "mock", cfg.Auth.Mode)
	assert.Equal(t, "0123456789abcdef-secret", cfg.Auth.JWTSecret)
}

func TestLoadExpandsSecrets(t *testing.T) {
	t.Setenv("TEST_NOUS_SECRET", "expanded-secret-value")

	cfg, err := Load(writeConfig(t, "auth:\n  jwtSecret: ${TEST_NOUS_SECRET}\nvfs:\n  encryptionKey: ${UNSET_NOUS_KEY}\n"))
	require.NoError(t, err)
	assert.Equal(t, "expanded-secret-value", cfg.Auth.JWTSecret)
	assert.Equal(t, "${UNSET_NOUS_KEY}", cfg.VFS.EncryptionKey)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("NOUS_DOTENV_PROBE=from-file\n"), 0o600))
	t.Setenv("NOUS_DOTENV_PROBE", "")
	os.Unsetenv("NOUS_DOTENV_PROBE")

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "config.yaml")))
	assert.Equal(t, "from-file", os.Getenv("NOUS_DOTENV_PROBE"))
}

func TestRawRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	assert.Empty(t, raw)

	SetValueAtPath(raw, []string{"server", "port"}, 8181)
	require.NoError(t, SaveRaw(path, raw))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Server.Port)
}
