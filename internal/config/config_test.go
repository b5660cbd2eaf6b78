package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsai/EDDI-integration-tests/internal/client"
	"github.com/labsai/EDDI-integration-tests/internal/conversation"
	"github.com/labsai/EDDI-integration-tests/internal/deploy"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eddi-conform.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, client.DefaultBaseURI, cfg.EDDI.BaseURI)
	assert.Equal(t, client.DefaultPort, cfg.EDDI.Port)
	assert.Equal(t, client.DefaultEnvironment, cfg.EDDI.Environment)
	assert.Equal(t, client.DefaultTimeout, cfg.EDDI.Timeout)
	assert.Equal(t, deploy.DefaultInterval, cfg.EDDI.Deploy.Interval)
	assert.Equal(t, DefaultDeployTimeout, cfg.EDDI.Deploy.Timeout)
	assert.Equal(t, conversation.DefaultSettleInterval, cfg.EDDI.Settle.Interval)
	assert.Equal(t, conversation.DefaultSettleTimeout, cfg.EDDI.Settle.Timeout)
	assert.Empty(t, cfg.EDDI.Database)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
eddi:
  baseURI: http://eddi.internal
  port: 8080
  environment: test
  timeout: 5s
  deploy:
    interval: 250ms
    timeout: 1m
  settle:
    timeout: 3s
  database: runs.db
`)

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "http://eddi.internal", cfg.EDDI.BaseURI)
	assert.Equal(t, 8080, cfg.EDDI.Port)
	assert.Equal(t, "test", cfg.EDDI.Environment)
	assert.Equal(t, 5*time.Second, cfg.EDDI.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.EDDI.Deploy.Interval)
	assert.Equal(t, time.Minute, cfg.EDDI.Deploy.Timeout)
	assert.Equal(t, conversation.DefaultSettleInterval, cfg.EDDI.Settle.Interval)
	assert.Equal(t, 3*time.Second, cfg.EDDI.Settle.Timeout)
	assert.Equal(t, "runs.db", cfg.EDDI.Database)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "eddi:\n  port: 8080\n")
	t.Setenv("EDDI_PORT", "9090")
	t.Setenv("EDDI_DEPLOY_TIMEOUT", "45s")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.EDDI.Port)
	assert.Equal(t, 45*time.Second, cfg.EDDI.Deploy.Timeout)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("EDDI_BASEURI", "http://from-env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("base-uri", "", "")
	require.NoError(t, flags.Parse([]string{"--base-uri", "https://from-flag"}))

	v := New()
	require.NoError(t, v.BindPFlag(KeyBaseURI, flags.Lookup("base-uri")))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "https://from-flag", cfg.EDDI.BaseURI)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_InvalidValues(t *testing.T) {
	path := writeConfig(t, `
eddi:
  baseURI: localhost
  port: 70000
  environment: production
  timeout: 0s
`)

	_, err := Load(New(), path)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "invalid config")
	assert.Contains(t, msg, `eddi.baseURI "localhost" must be an absolute URL`)
	assert.Contains(t, msg, "eddi.port 70000 out of range")
	assert.Contains(t, msg, `eddi.environment "production" must be one of`)
	assert.Contains(t, msg, "eddi.timeout must be positive")
}

func TestValidate_DeployIntervalWithinTimeout(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	cfg.EDDI.Deploy.Interval = time.Minute
	cfg.EDDI.Deploy.Timeout = time.Second
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eddi.deploy.interval 1m0s exceeds eddi.deploy.timeout 1s")
}

func TestConfig_ClientConfig(t *testing.T) {
	cfg := &Config{EDDI: EDDIConfig{
		BaseURI:     "http://eddi",
		Port:        -1,
		Environment: "restricted",
		Timeout:     time.Second,
	}}

	cc := cfg.ClientConfig(nil)
	assert.Equal(t, "http://eddi", cc.BaseURI)
	assert.Equal(t, -1, cc.Port)
	assert.Equal(t, "restricted", cc.Environment)
	assert.Equal(t, time.Second, cc.Timeout)

	c, err := client.New(cc)
	require.NoError(t, err)
	assert.Equal(t, "http://eddi", c.BaseURL())
	assert.Len(t, cfg.DeployOptions(), 2)
	assert.Len(t, cfg.ConversationOptions(), 1)
}
