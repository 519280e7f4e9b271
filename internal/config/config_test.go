package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: sqlite
  url: file:printflow.db
auth:
  jwt_secret: s3cret
scheduler:
  interval: 15s
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "file:printflow.db", cfg.Database.DSN)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 100, cfg.Scheduler.BatchSize)
	assert.Equal(t, 256, cfg.Watcher.QueueSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.EmailEnabled())
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://file
auth:
  jwt_secret: from-file
`)
	t.Setenv("PRINTFLOW_DATABASE_URL", "postgres://env")
	t.Setenv("PRINTFLOW_SCHEDULER_BATCH_SIZE", "25")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.Database.DSN)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 25, cfg.Scheduler.BatchSize)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestMissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("PRINTFLOW_DATABASE_URL", "postgres://env")
	t.Setenv("PRINTFLOW_AUTH_JWT_SECRET", "k")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.Interval)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "database:\n  driver: mysql\n  url: x\nauth:\n  jwt_secret: k\n"))
	assert.ErrorContains(t, err, "unsupported database driver")

	_, err = LoadConfig(writeConfig(t, "database:\n  url: x\n"))
	assert.ErrorContains(t, err, "jwt_secret")
}
