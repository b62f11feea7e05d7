package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Bidding.LockTimeout)
	assert.Equal(t, 10, cfg.Bidding.DefaultMaxExtensions)
	assert.Equal(t, "auction.events", cfg.RabbitMQ.Exchange)
	assert.NotEmpty(t, cfg.InstanceID)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
log_level: debug
bidding:
  lock_timeout: 500ms
  recent_bids: 50
gateway:
  rate_limit: 2.5
  allowed_origins:
    - https://estates.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("BID_BIDDING__RECENT_BIDS", "30")
	t.Setenv("BID_DATABASE__URL", "postgres://u:p@localhost:5432/bids")
	t.Setenv("BID_INSTANCE_ID", "api-1")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 500*time.Millisecond, cfg.Bidding.LockTimeout)
	assert.Equal(t, 30, cfg.Bidding.RecentBids, "env overrides file")
	assert.Equal(t, 2.5, cfg.Gateway.RateLimit)
	assert.Equal(t, []string{"https://estates.example.com"}, cfg.Gateway.AllowedOrigins)
	assert.Equal(t, "postgres://u:p@localhost:5432/bids", cfg.Database.URL)
	assert.Equal(t, "api-1", cfg.InstanceID)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "verbose" }},
		{name: "zero lock timeout", mutate: func(c *Config) { c.Bidding.LockTimeout = 0 }},
		{name: "ping period not below pong wait", mutate: func(c *Config) { c.Gateway.PingPeriod = c.Gateway.PongWait }},
		{name: "negative max extensions", mutate: func(c *Config) { c.Bidding.DefaultMaxExtensions = -1 }},
		{name: "missing exchange", mutate: func(c *Config) { c.RabbitMQ.Exchange = "" }},
	}

	require.NoError(t, Defaults().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "warn"
	assert.Equal(t, "WARN", cfg.SlogLevel().String())
}
