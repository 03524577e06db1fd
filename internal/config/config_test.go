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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.Source)
	assert.Equal(t, "19950101000000", cfg.Timestamp)
	assert.Equal(t, "localhost", cfg.Proxy.Host)
	assert.Equal(t, 8080, cfg.Proxy.Port)
	assert.Equal(t, 10*time.Second, cfg.Proxy.ReadyTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.Proxy.ReadyInterval())
	assert.Equal(t, "collections/mementos", cfg.Collections.Root)
	assert.Equal(t, 15000, cfg.Capture.WaitMillis)
	assert.Equal(t, int64(800), cfg.Capture.Width)
	assert.Equal(t, int64(800), cfg.Capture.Height)
	assert.Equal(t, int64(0), cfg.Capture.Padding)
	assert.Equal(t, 60*time.Second, cfg.Capture.NavTimeout())
	assert.Equal(t, 60*time.Second, cfg.Remote.Timeout())
	assert.Equal(t, int64(32<<20), cfg.Remote.MaxBodyBytes())
	assert.True(t, cfg.Logging.Development)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	payload := []byte(`
source: ia
timestamp: "20100601"
proxy:
  port: 9090
capture:
  width: 1280
  height: 1024
remote:
  qps: 2.5
logging:
  development: false
`)
	require.NoError(t, os.WriteFile(path, payload, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ia", cfg.Source)
	assert.Equal(t, "20100601", cfg.Timestamp)
	assert.Equal(t, 9090, cfg.Proxy.Port)
	assert.Equal(t, int64(1280), cfg.Capture.Width)
	assert.Equal(t, 2.5, cfg.Remote.QPS)
	assert.False(t, cfg.Logging.Development)

	// Unset keys keep their defaults.
	assert.Equal(t, "localhost", cfg.Proxy.Host)
	assert.Equal(t, 15000, cfg.Capture.WaitMillis)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SLIVER_SOURCE", "ia_cdx")
	t.Setenv("SLIVER_PROXY_PORT", "8123")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ia_cdx", cfg.Source)
	assert.Equal(t, 8123, cfg.Proxy.Port)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown source", func(c *Config) { c.Source = "wayback-machine" }},
		{"bad timestamp", func(c *Config) { c.Timestamp = "2010-06-01" }},
		{"negative port", func(c *Config) { c.Proxy.Port = -1 }},
		{"zero ready timeout", func(c *Config) { c.Proxy.ReadyTimeoutSec = 0 }},
		{"zero viewport", func(c *Config) { c.Capture.Width = 0 }},
		{"negative padding", func(c *Config) { c.Capture.Padding = -1 }},
		{"negative qps", func(c *Config) { c.Remote.QPS = -1 }},
		{"zero remote timeout", func(c *Config) { c.Remote.TimeoutSeconds = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	// Source aliases validate too.
	cfg := base
	cfg.Source = "cc-2025-05"
	assert.NoError(t, cfg.Validate())
}
