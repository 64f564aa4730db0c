package config

import (
	"time"

	"dario.cat/mergo"
)

// Defaults is the single source of truth for every Config field's
// fallback value, mirroring the values BindFlags registers as flag
// defaults.
func Defaults() *Config {
	return &Config{
		ComposeFile:         "./docker-compose.yml",
		Port:                3000,
		ListenAddr:          ":3000",
		RequestTimeout:      30 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		FailThreshold:       3,
		HealthCheckTimeout:  5 * time.Second,
		ShutdownGrace:       10 * time.Second,
		LogLevel:            "INFO",
	}
}

// EnsureDefaults fills every zero-valued field of c with the
// corresponding default, preserving any value the caller already set
// (e.g. from a partially-populated Config constructed directly by a
// test, rather than through the CLI's flag/env binding).
func EnsureDefaults(c *Config) {
	_ = mergo.Merge(c, Defaults())
}
