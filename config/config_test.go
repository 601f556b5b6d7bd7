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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, 8, cfg.Local.MaxAgents)
	assert.Equal(t, 0.8, cfg.Balancer.LocalCapacityThreshold)
	assert.True(t, cfg.Balancer.PreferLocal)
	assert.Equal(t, 30*time.Second, cfg.Remote.Timeout)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  metrics_port: 9999
local:
  max_agents: 32
  gpu: true
balancer:
  local_capacity_threshold: 0.5
  enable_migration: true
remote:
  timeout: 5s
  insecure: true
redis:
  enabled: true
  addr: redis.internal:6379
log:
  level: debug
  development: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.MetricsPort)
	assert.Equal(t, 32, cfg.Local.MaxAgents)
	assert.True(t, cfg.Local.GPU)
	assert.Equal(t, 0.5, cfg.Balancer.LocalCapacityThreshold)
	assert.True(t, cfg.Balancer.EnableMigration)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
	assert.True(t, cfg.Remote.Insecure)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)

	// Untouched sections keep their defaults.
	assert.True(t, cfg.Balancer.PreferLocal)
	assert.Equal(t, 5*time.Minute, cfg.Balancer.MigrationCooldown)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  metrics_port: 9999
`)
	t.Setenv("GODEL_METRICS_PORT", "7070")
	t.Setenv("GODEL_LOCAL_MAX_AGENTS", "64")
	t.Setenv("GODEL_LOCAL_GPU", "true")
	t.Setenv("GODEL_REDIS_ADDR", "env-redis:6379")
	t.Setenv("GODEL_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.MetricsPort)
	assert.Equal(t, 64, cfg.Local.MaxAgents)
	assert.True(t, cfg.Local.GPU)
	assert.True(t, cfg.Redis.Enabled, "setting the redis addr enables the store")
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  metrics_port: -1\n"},
		{"bad threshold", "balancer:\n  local_capacity_threshold: 1.5\n"},
		{"bad log level", "log:\n  level: verbose\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.yaml)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
