// Package config loads the connection and timing settings of a conformance
// run from defaults, an optional YAML file, EDDI_* environment variables
// and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/labsai/EDDI-integration-tests/internal/client"
	"github.com/labsai/EDDI-integration-tests/internal/conversation"
	"github.com/labsai/EDDI-integration-tests/internal/deploy"
)

// Keys understood by Load. Environment variables use the upper-cased key
// with dots replaced by underscores, e.g. EDDI_BASEURI.
const (
	KeyBaseURI        = "eddi.baseURI"
	KeyPort           = "eddi.port"
	KeyEnvironment    = "eddi.environment"
	KeyTimeout        = "eddi.timeout"
	KeyDeployInterval = "eddi.deploy.interval"
	KeyDeployTimeout  = "eddi.deploy.timeout"
	KeySettleInterval = "eddi.settle.interval"
	KeySettleTimeout  = "eddi.settle.timeout"
	KeyDatabase       = "eddi.database"
)

// DefaultConfigName is the file searched for in the working directory when
// no config file is given.
const DefaultConfigName = "eddi-conform"

// DefaultDeployTimeout bounds deployment polling unless configured.
const DefaultDeployTimeout = 2 * time.Minute

// Environments accepted by the service.
var Environments = []string{"unrestricted", "restricted", "test"}

// Config is the full configuration of a run.
type Config struct {
	EDDI EDDIConfig `mapstructure:"eddi"`
}

// EDDIConfig describes the service under test and how patiently to treat it.
type EDDIConfig struct {
	BaseURI     string        `mapstructure:"baseURI"`
	Port        int           `mapstructure:"port"`
	Environment string        `mapstructure:"environment"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Deploy      DeployConfig  `mapstructure:"deploy"`
	Settle      SettleConfig  `mapstructure:"settle"`

	// Database is the run log path. Empty keeps the log in memory.
	Database string `mapstructure:"database"`
}

// DeployConfig bounds deployment polling.
type DeployConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SettleConfig bounds waiting for a conversation log to settle.
type SettleConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// New returns a viper instance with defaults and environment binding set.
// Callers bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyBaseURI, client.DefaultBaseURI)
	v.SetDefault(KeyPort, client.DefaultPort)
	v.SetDefault(KeyEnvironment, client.DefaultEnvironment)
	v.SetDefault(KeyTimeout, client.DefaultTimeout.String())
	v.SetDefault(KeyDeployInterval, deploy.DefaultInterval.String())
	v.SetDefault(KeyDeployTimeout, DefaultDeployTimeout.String())
	v.SetDefault(KeySettleInterval, conversation.DefaultSettleInterval.String())
	v.SetDefault(KeySettleTimeout, conversation.DefaultSettleTimeout.String())
	v.SetDefault(KeyDatabase, "")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path into v, or eddi-conform.yaml from the
// working directory when path is empty, and decodes the result. A missing
// default file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	e := c.EDDI
	var errs []error
	if u, err := url.Parse(e.BaseURI); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("%s %q must be an absolute URL", KeyBaseURI, e.BaseURI))
	}
	if e.Port < -1 || e.Port > 65535 {
		errs = append(errs, fmt.Errorf("%s %d out of range", KeyPort, e.Port))
	}
	if !validEnvironment(e.Environment) {
		errs = append(errs, fmt.Errorf("%s %q must be one of %v", KeyEnvironment, e.Environment, Environments))
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{KeyTimeout, e.Timeout},
		{KeyDeployInterval, e.Deploy.Interval},
		{KeyDeployTimeout, e.Deploy.Timeout},
		{KeySettleInterval, e.Settle.Interval},
		{KeySettleTimeout, e.Settle.Timeout},
	} {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.key, d.val))
		}
	}
	if e.Deploy.Interval > e.Deploy.Timeout && e.Deploy.Timeout > 0 {
		errs = append(errs, fmt.Errorf("%s %s exceeds %s %s", KeyDeployInterval, e.Deploy.Interval, KeyDeployTimeout, e.Deploy.Timeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func validEnvironment(env string) bool {
	for _, e := range Environments {
		if e == env {
			return true
		}
	}
	return false
}

// ClientConfig returns the client settings for the configured service.
func (c *Config) ClientConfig(logger *slog.Logger) client.Config {
	return client.Config{
		BaseURI:     c.EDDI.BaseURI,
		Port:        c.EDDI.Port,
		Environment: c.EDDI.Environment,
		Timeout:     c.EDDI.Timeout,
		Logger:      logger,
	}
}

// DeployOptions returns the poller options for the configured bounds.
func (c *Config) DeployOptions() []deploy.Option {
	return []deploy.Option{
		deploy.WithInterval(c.EDDI.Deploy.Interval),
		deploy.WithTimeout(c.EDDI.Deploy.Timeout),
	}
}

// ConversationOptions returns the conversation driver options for the
// configured bounds.
func (c *Config) ConversationOptions() []conversation.Option {
	return []conversation.Option{
		conversation.WithSettle(c.EDDI.Settle.Interval, c.EDDI.Settle.Timeout),
	}
}
