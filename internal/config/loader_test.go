package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, BackendPostgres, cfg.Storage.Backend)
	assert.True(t, cfg.Versioning.RecordNoopUpdates)
	assert.Equal(t, 90, cfg.Versioning.RetentionDays)
	assert.Equal(t, 5*time.Minute, cfg.Templates.CacheTTL)
	assert.Equal(t, "thumbforge", cfg.Database.DBName)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
server:
  addr: ":9090"
storage:
  backend: memory
versioning:
  record_noop_updates: false
  retention_days: 30
templates:
  cache_ttl: 1m
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("THUMBFORGE_VERSIONING_RETENTION_DAYS", "45")
	t.Setenv("THUMBFORGE_SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.False(t, cfg.Versioning.RecordNoopUpdates)
	assert.Equal(t, 45, cfg.Versioning.RetentionDays)
	assert.Equal(t, time.Minute, cfg.Templates.CacheTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("THUMBFORGE_STORAGE_BACKEND", "sqlite")
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
}

func TestLoadExplicitFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
