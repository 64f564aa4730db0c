// Package config is the proxy's single configuration model, built once
// at startup from environment variables and CLI flags (spec §6) and
// never mutated afterward.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the proxy's immutable runtime configuration.
type Config struct {
	// ComposeFile is the Docker Compose document discovery reads from.
	ComposeFile string
	// Port is the TCP port the MCP and management HTTP surface binds.
	Port int
	// ListenAddr is derived from Port; components bind to this directly.
	ListenAddr string
	// RequestTimeout bounds one end-to-end client request (spec §5).
	RequestTimeout time.Duration
	// HealthCheckInterval is how often a backend is re-probed.
	HealthCheckInterval time.Duration
	// FailThreshold is the consecutive-failure count that demotes a
	// backend from Healthy to Unhealthy.
	FailThreshold int
	// HealthCheckTimeout bounds a single probe.
	HealthCheckTimeout time.Duration
	// ShutdownGrace bounds how long Shutdown waits for in-flight requests
	// to drain before force-closing (spec §4.G).
	ShutdownGrace time.Duration
	// LogLevel controls pkg/logger's verbosity.
	LogLevel string
	// UnstructuredLogs switches pkg/logger to a human-readable text
	// handler instead of JSON.
	UnstructuredLogs bool
}

// Validate rejects a Config that would leave a component unable to
// start.
func (c *Config) Validate() error {
	if c.ComposeFile == "" {
		return fmt.Errorf("config: compose file path is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request timeout must be > 0")
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("config: health check interval must be > 0")
	}
	if c.FailThreshold < 1 {
		return fmt.Errorf("config: fail threshold must be >= 1")
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("config: health check timeout must be > 0")
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("config: shutdown grace must be > 0")
	}
	return nil
}

// BindFlags registers every Config field as a flag on flags and binds
// each to v, so that an explicit flag always wins over its environment
// variable, which in turn wins over the flag's own default. The CLI
// command tree calls this once per command against its own *pflag.FlagSet
// and *viper.Viper so flag parsing and environment binding share one
// source of truth.
//
// Environment variable names follow spec §6 exactly (PROXY_PORT,
// MCP_COMPOSE_FILE, LOG_LEVEL, PROXY_PROBE_INTERVAL_SECONDS,
// PROXY_FAIL_THRESHOLD) rather than a single auto-derived prefix, since
// those are the names external tooling (the installer, the GUI) already
// expects.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.Int("port", 3000, "Port the proxy's HTTP surface binds")
	flags.String("compose-file", "./docker-compose.yml", "Path to the Docker Compose file to discover backends from")
	flags.Duration("request-timeout", 30*time.Second, "Per-request deadline for client requests")
	flags.Int("probe-interval-seconds", 30, "Interval in seconds between backend health probes")
	flags.Int("fail-threshold", 3, "Consecutive probe failures before a backend is marked unhealthy")
	flags.Duration("health-check-timeout", 5*time.Second, "Timeout for a single backend health probe")
	flags.Duration("shutdown-grace", 10*time.Second, "Time to wait for in-flight requests to drain on shutdown")
	flags.String("log-level", "INFO", "Logging level: DEBUG, INFO, WARN, ERROR")
	flags.Bool("unstructured-logs", false, "Emit human-readable text logs instead of JSON")

	_ = v.BindPFlag("port", flags.Lookup("port"))
	_ = v.BindPFlag("compose-file", flags.Lookup("compose-file"))
	_ = v.BindPFlag("request-timeout", flags.Lookup("request-timeout"))
	_ = v.BindPFlag("probe-interval-seconds", flags.Lookup("probe-interval-seconds"))
	_ = v.BindPFlag("fail-threshold", flags.Lookup("fail-threshold"))
	_ = v.BindPFlag("health-check-timeout", flags.Lookup("health-check-timeout"))
	_ = v.BindPFlag("shutdown-grace", flags.Lookup("shutdown-grace"))
	_ = v.BindPFlag("log-level", flags.Lookup("log-level"))
	_ = v.BindPFlag("unstructured-logs", flags.Lookup("unstructured-logs"))

	_ = v.BindEnv("port", "PROXY_PORT")
	_ = v.BindEnv("compose-file", "MCP_COMPOSE_FILE")
	_ = v.BindEnv("probe-interval-seconds", "PROXY_PROBE_INTERVAL_SECONDS")
	_ = v.BindEnv("fail-threshold", "PROXY_FAIL_THRESHOLD")
	_ = v.BindEnv("log-level", "LOG_LEVEL")
}

// FromViper builds a Config from a *viper.Viper that has already had its
// flags bound and parsed (see BindFlags). This is the seam CLI commands
// and tests both go through.
func FromViper(v *viper.Viper) *Config {
	port := v.GetInt("port")
	return &Config{
		ComposeFile:         v.GetString("compose-file"),
		Port:                port,
		ListenAddr:          fmt.Sprintf(":%d", port),
		RequestTimeout:      v.GetDuration("request-timeout"),
		HealthCheckInterval: time.Duration(v.GetInt("probe-interval-seconds")) * time.Second,
		FailThreshold:       v.GetInt("fail-threshold"),
		HealthCheckTimeout:  v.GetDuration("health-check-timeout"),
		ShutdownGrace:       v.GetDuration("shutdown-grace"),
		LogLevel:            v.GetString("log-level"),
		UnstructuredLogs:    v.GetBool("unstructured-logs"),
	}
}
