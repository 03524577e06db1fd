// Package config loads and validates tool configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sliver-archive/sliver/internal/cdx"
	"github.com/sliver-archive/sliver/internal/collections"
	"github.com/sliver-archive/sliver/internal/sources"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Source      string            `mapstructure:"source"`
	Timestamp   string            `mapstructure:"timestamp"`
	Proxy       ProxyConfig       `mapstructure:"proxy"`
	Collections CollectionsConfig `mapstructure:"collections"`
	Capture     CaptureConfig     `mapstructure:"capture"`
	Remote      RemoteConfig      `mapstructure:"remote"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ProxyConfig controls the recording proxy listener and its readiness
// probe.
type ProxyConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ReadyTimeoutSec int    `mapstructure:"ready_timeout_seconds"`
	ReadyIntervalMs int    `mapstructure:"ready_interval_ms"`
}

// ReadyTimeout is the hard deadline for the proxy readiness probe.
func (p ProxyConfig) ReadyTimeout() time.Duration {
	return time.Duration(p.ReadyTimeoutSec) * time.Second
}

// ReadyInterval is the poll interval of the proxy readiness probe.
func (p ProxyConfig) ReadyInterval() time.Duration {
	return time.Duration(p.ReadyIntervalMs) * time.Millisecond
}

// CollectionsConfig sets where recorded captures and screenshots live.
type CollectionsConfig struct {
	Root string `mapstructure:"root"`
}

// CaptureConfig governs screenshot jobs and the headless browser.
type CaptureConfig struct {
	WaitMillis    int    `mapstructure:"wait_ms"`
	Width         int64  `mapstructure:"width"`
	Height        int64  `mapstructure:"height"`
	Padding       int64  `mapstructure:"padding"`
	Concurrency   int    `mapstructure:"concurrency"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	UserAgent     string `mapstructure:"user_agent"`
}

// NavTimeout is the per-page navigation budget, excluding the settle
// wait.
func (c CaptureConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// RemoteConfig controls outbound requests to archives and the live web.
type RemoteConfig struct {
	QPS            float64 `mapstructure:"qps"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxBodyMB      int64   `mapstructure:"max_body_mb"`
}

// Timeout is the outbound HTTP client timeout.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// MaxBodyBytes is the recording size cap in bytes.
func (r RemoteConfig) MaxBodyBytes() int64 {
	return r.MaxBodyMB << 20
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. With an empty path the
// usual locations are searched and a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SLIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sliver/")
		v.AddConfigPath("$HOME/.sliver")
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source", "live")
	v.SetDefault("timestamp", "19950101000000")
	v.SetDefault("proxy.host", "localhost")
	v.SetDefault("proxy.port", 8080)
	v.SetDefault("proxy.ready_timeout_seconds", 10)
	v.SetDefault("proxy.ready_interval_ms", 100)
	v.SetDefault("collections.root", collections.DefaultRoot)
	v.SetDefault("capture.wait_ms", 15000)
	v.SetDefault("capture.width", 800)
	v.SetDefault("capture.height", 800)
	v.SetDefault("capture.padding", 0)
	v.SetDefault("capture.concurrency", 1)
	v.SetDefault("capture.nav_timeout_seconds", 60)
	v.SetDefault("capture.user_agent", "")
	v.SetDefault("remote.qps", 0)
	v.SetDefault("remote.timeout_seconds", 60)
	v.SetDefault("remote.max_body_mb", 32)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := sources.ByID(c.Source); err != nil {
		return fmt.Errorf("source: %w (known: %s)", err, strings.Join(sources.IDs(), ", "))
	}
	if _, err := cdx.ParseTimestamp(c.Timestamp); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if c.Proxy.Port < 0 {
		return fmt.Errorf("proxy.port must be >= 0")
	}
	if c.Proxy.ReadyTimeoutSec <= 0 {
		return fmt.Errorf("proxy.ready_timeout_seconds must be > 0")
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture.width and capture.height must be > 0")
	}
	if c.Capture.Padding < 0 {
		return fmt.Errorf("capture.padding must be >= 0")
	}
	if c.Capture.Concurrency < 0 {
		return fmt.Errorf("capture.concurrency must be >= 0")
	}
	if c.Remote.QPS < 0 {
		return fmt.Errorf("remote.qps must be >= 0")
	}
	if c.Remote.TimeoutSeconds <= 0 {
		return fmt.Errorf("remote.timeout_seconds must be > 0")
	}
	return nil
}
