// Package config loads the YAML file describing which origins this
// server fronts and how their responses should be cached.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/freshcache/cachepolicy/internal/cacheserver/rules"
)

// Config is the top-level YAML document.
type Config struct {
	Origins []Origin `yaml:"origins"`
}

// Origin describes one upstream this server caches responses for.
type Origin struct {
	// Origin is the base URL to proxy to, e.g. "https://api.example.com".
	Origin string `yaml:"origin"`
	// Host overrides the Host header and TLS ServerName sent upstream,
	// useful when Origin is a bare IP address.
	Host string `yaml:"host"`
	// Storage selects a cachestore backend: "memory", "sqlite",
	// "redis", or "badger". Defaults to "memory".
	Storage string `yaml:"storage"`
	// StoragePath is the backend-specific location (a SQLite file, a
	// Badger directory, a Redis address); backend-specific defaults
	// apply when empty.
	StoragePath string `yaml:"storage_path"`
	// DisableUpdates turns off this origin's proactive refresh loop.
	DisableUpdates bool `yaml:"disable_updates"`
	// Rules are per-path Cache-Control overrides, applied to origin
	// responses that don't already specify caching directives (or
	// unconditionally, for rules with Override set).
	Rules rules.Rules `yaml:"rules"`
}

// Load reads and parses the YAML config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
