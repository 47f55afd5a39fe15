package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable enumerated in spec §6. The load order follows
// the teacher's: defaults, then an optional YAML file, then environment
// overrides — each layer only ever overlays, never resets, the previous one.
type Config struct {
	FreshnessWindowSeconds int   `yaml:"freshness_window_seconds"`
	BackoffBaseMS          int   `yaml:"backoff_base_ms"`
	BackoffCapMS           int   `yaml:"backoff_cap_ms"`
	MaxBodyBytes           int64 `yaml:"max_body_bytes"`
	MaxLookupIterations    int   `yaml:"max_lookup_iterations"`

	// PlaceholderTTLMS is a redesign addition (spec §9): a short TTL on
	// placeholder records so a crashed fetcher does not durably block a
	// URL. Defaults to 5x BackoffCapMS.
	PlaceholderTTLMS int `yaml:"placeholder_ttl_ms"`

	CacheEndpoint string `yaml:"cache_endpoint"`
	OriginPort    int    `yaml:"origin_port"`
	OriginHost    string `yaml:"origin_host"`

	ListenAddr string `yaml:"listen_addr"`
}

func Load() (Config, error) {
	cfg := Config{
		FreshnessWindowSeconds: 60,
		BackoffBaseMS:          50,
		BackoffCapMS:           2000,
		MaxBodyBytes:           1048576,
		MaxLookupIterations:    5,
		CacheEndpoint:          "127.0.0.1:11211",
		OriginPort:             8081,
		ListenAddr:             ":8080",
	}

	path := os.Getenv("WEBCACHE_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	if b, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := os.Getenv("CACHE_ENDPOINT"); v != "" {
		cfg.CacheEndpoint = v
	}
	if v := os.Getenv("ORIGIN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OriginPort = n
		}
	}
	if v := os.Getenv("ORIGIN_HOST"); v != "" {
		cfg.OriginHost = v
	}
	if v := os.Getenv("FRESHNESS_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FreshnessWindowSeconds = n
		}
	}
	if v := os.Getenv("BACKOFF_BASE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BackoffBaseMS = n
		}
	}
	if v := os.Getenv("BACKOFF_CAP_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BackoffCapMS = n
		}
	}
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("MAX_LOOKUP_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxLookupIterations = n
		}
	}
	if v := os.Getenv("PLACEHOLDER_TTL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PlaceholderTTLMS = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}

	if cfg.PlaceholderTTLMS <= 0 {
		cfg.PlaceholderTTLMS = 5 * cfg.BackoffCapMS
	}

	if cfg.CacheEndpoint == "" {
		return cfg, errors.New("cache_endpoint is required")
	}
	if cfg.OriginPort <= 0 {
		return cfg, errors.New("origin_port must be positive")
	}
	return cfg, nil
}

func (c Config) FreshnessWindow() time.Duration {
	return time.Duration(c.FreshnessWindowSeconds) * time.Second
}

func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

func (c Config) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMS) * time.Millisecond
}

func (c Config) PlaceholderTTL() time.Duration {
	return time.Duration(c.PlaceholderTTLMS) * time.Millisecond
}
