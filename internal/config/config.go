// Package config materializes viper settings into typed engine options.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	// HTTPPort is the dashboard/API listen port.
	HTTPPort string
	// RegistryPath is the alias registry JSON file.
	RegistryPath string
	// RulesPath is an optional external classifier rule table (YAML).
	RulesPath string

	// WatchMode is "poll" or "notify".
	WatchMode string
	// PollInterval and StabilityThreshold trade responsiveness against
	// load on a shared network mount.
	PollInterval       time.Duration
	StabilityThreshold time.Duration
	DebounceQuiet      time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration

	// WorkerLimit bounds concurrent alias scans; AliasTimeout bounds one.
	WorkerLimit  int
	AliasTimeout time.Duration

	CacheTTL time.Duration
}

// SetDefaults registers every knob with viper so flags, env vars, and the
// config file all resolve through one place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8750")
	v.SetDefault("registry.path", ".logmesh-aliases.json")
	v.SetDefault("classifier.rules", "")

	v.SetDefault("watch.mode", "poll")
	v.SetDefault("watch.poll_interval", "2s")
	v.SetDefault("watch.stability_threshold", "2s")
	v.SetDefault("watch.debounce_quiet", "3s")
	v.SetDefault("watch.max_retries", 3)
	v.SetDefault("watch.retry_backoff", "5s")

	v.SetDefault("aggregate.worker_limit", 4)
	v.SetDefault("aggregate.alias_timeout", "15s")
	v.SetDefault("aggregate.cache_ttl", "60s")
}

// Load reads the typed configuration out of viper.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		HTTPPort:           v.GetString("http.port"),
		RegistryPath:       v.GetString("registry.path"),
		RulesPath:          v.GetString("classifier.rules"),
		WatchMode:          v.GetString("watch.mode"),
		PollInterval:       v.GetDuration("watch.poll_interval"),
		StabilityThreshold: v.GetDuration("watch.stability_threshold"),
		DebounceQuiet:      v.GetDuration("watch.debounce_quiet"),
		MaxRetries:         v.GetInt("watch.max_retries"),
		RetryBackoff:       v.GetDuration("watch.retry_backoff"),
		WorkerLimit:        v.GetInt("aggregate.worker_limit"),
		AliasTimeout:       v.GetDuration("aggregate.alias_timeout"),
		CacheTTL:           v.GetDuration("aggregate.cache_ttl"),
	}
	if cfg.WatchMode != "poll" && cfg.WatchMode != "notify" {
		return cfg, fmt.Errorf("watch.mode must be poll or notify, got %q", cfg.WatchMode)
	}
	if cfg.PollInterval <= 0 {
		return cfg, fmt.Errorf("watch.poll_interval must be positive")
	}
	return cfg, nil
}
