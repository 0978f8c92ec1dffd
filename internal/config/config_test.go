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

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/statecore.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Database.BusyTimeout)
	assert.Equal(t, "tasks", cfg.Database.EntityTables["task"])
	assert.Equal(t, PublisherDispatcher, cfg.Events.Publisher)
	assert.Equal(t, 4, cfg.Events.Shards)
	assert.Equal(t, "statecore:events", cfg.Events.Redis.Stream)
	assert.Equal(t, 30*time.Second, cfg.Tools.RequestTimeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  path: /var/lib/statecore/state.db
  busy_timeout: 2s
events:
  publisher: both
  shards: 8
  redis:
    addr: redis:6379
machines:
  file: machines.yaml
`)
	t.Setenv("REDIS_PASSWORD", "hunter2")
	t.Setenv("STATECORE_LOGGER_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/var/lib/statecore/state.db", cfg.Database.Path)
	assert.Equal(t, 2*time.Second, cfg.Database.BusyTimeout)
	assert.Equal(t, PublisherBoth, cfg.Events.Publisher)
	assert.True(t, cfg.Events.UsesRedis())
	assert.True(t, cfg.Events.UsesDispatcher())
	assert.Equal(t, 8, cfg.Events.Shards)
	assert.Equal(t, "redis:6379", cfg.Events.Redis.Addr)
	assert.Equal(t, "hunter2", cfg.Events.Redis.Password)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "machines.yaml", cfg.Machines.File)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "db path", mutate: func(c *Config) { c.Database.Path = "" }, want: "database.path"},
		{name: "tables", mutate: func(c *Config) { c.Database.EntityTables = nil }, want: "entity_tables"},
		{name: "publisher", mutate: func(c *Config) { c.Events.Publisher = "kafka" }, want: "events.publisher"},
		{
			name: "redis addr",
			mutate: func(c *Config) {
				c.Events.Publisher = PublisherRedis
				c.Events.Redis.Addr = ""
			},
			want: "events.redis.addr",
		},
		{name: "shards", mutate: func(c *Config) { c.Events.Shards = 0 }, want: "events.shards"},
		{name: "queue", mutate: func(c *Config) { c.Events.QueueSize = -1 }, want: "events.queue_size"},
		{name: "metrics path", mutate: func(c *Config) { c.Metrics.Path = "metrics" }, want: "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestToContainerConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Machines.File = "machines.yaml"

	cc := cfg.ToContainerConfig()

	assert.Equal(t, cfg.Database.Path, cc.Database.Path)
	assert.Equal(t, cfg.Database.EntityTables, cc.Database.EntityTables)
	assert.Equal(t, cfg.Events.Shards, cc.Events.Shards)
	assert.Equal(t, cfg.Events.Redis.Stream, cc.Events.Redis.Stream)
	assert.Equal(t, "machines.yaml", cc.MachinesFile)
	assert.Equal(t, cfg.Metrics.Path, cc.Metrics.Path)
	assert.NoError(t, cc.Validate())
}
