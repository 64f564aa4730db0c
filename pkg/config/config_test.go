package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFlags_DefaultsFlowThroughToConfig(t *testing.T) {
	v := viper.New()
	flags := pflag.NewFlagSet("proxy", pflag.ContinueOnError)
	BindFlags(v, flags)
	require.NoError(t, flags.Parse(nil))

	cfg := FromViper(v)
	assert.Equal(t, "./docker-compose.yml", cfg.ComposeFile)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, ":3000", cfg.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, 3, cfg.FailThreshold)
	require.NoError(t, cfg.Validate())
}

func TestBindFlags_ExplicitFlagOverridesDefault(t *testing.T) {
	v := viper.New()
	flags := pflag.NewFlagSet("proxy", pflag.ContinueOnError)
	BindFlags(v, flags)
	require.NoError(t, flags.Parse([]string{"--compose-file=compose.custom.yml", "--fail-threshold=5", "--port=9090"}))

	cfg := FromViper(v)
	assert.Equal(t, "compose.custom.yml", cfg.ComposeFile)
	assert.Equal(t, 5, cfg.FailThreshold)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, ":9090", cfg.ListenAddr)
}

func TestBindFlags_EnvironmentOverridesDefault(t *testing.T) {
	t.Setenv("MCP_COMPOSE_FILE", "from-env.yml")
	t.Setenv("PROXY_PORT", "4000")
	t.Setenv("PROXY_PROBE_INTERVAL_SECONDS", "15")
	t.Setenv("PROXY_FAIL_THRESHOLD", "7")
	t.Setenv("LOG_LEVEL", "DEBUG")

	v := viper.New()
	flags := pflag.NewFlagSet("proxy", pflag.ContinueOnError)
	BindFlags(v, flags)
	require.NoError(t, flags.Parse(nil))

	cfg := FromViper(v)
	assert.Equal(t, "from-env.yml", cfg.ComposeFile)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, ":4000", cfg.ListenAddr)
	assert.Equal(t, 15*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, 7, cfg.FailThreshold)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestBindFlags_ExplicitFlagOverridesEnvironment(t *testing.T) {
	t.Setenv("PROXY_FAIL_THRESHOLD", "7")

	v := viper.New()
	flags := pflag.NewFlagSet("proxy", pflag.ContinueOnError)
	BindFlags(v, flags)
	require.NoError(t, flags.Parse([]string{"--fail-threshold=9"}))

	cfg := FromViper(v)
	assert.Equal(t, 9, cfg.FailThreshold, "an explicit flag wins over its environment variable")
}

func TestValidate_RejectsMissingRequiredFields(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate())
}

func TestEnsureDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{ComposeFile: "explicit.yml", FailThreshold: 7}
	EnsureDefaults(cfg)

	assert.Equal(t, "explicit.yml", cfg.ComposeFile, "explicit value must survive the merge")
	assert.Equal(t, 7, cfg.FailThreshold)
	assert.Equal(t, ":3000", cfg.ListenAddr, "zero-valued field is filled from defaults")
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGrace)
}
