// Package config loads the engine-tuning knobs for the transfer engine:
// gateway endpoint/auth and scheduler pool size. Everything else (CLI
// front-ends, history files) is explicitly out of scope.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the engine's static configuration, loadable from a file,
// environment variables (KAMAKI_* prefix), or defaults.
//
// Precedence, highest to lowest: environment variables, configuration
// file, defaults.
type Config struct {
	// Gateway configures the HTTP client bound to the object store.
	Gateway GatewayConfig `mapstructure:"gateway" yaml:"gateway"`

	// Scheduler configures the bounded worker pool shared by transfers.
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`

	// Logging controls log output behavior, carried even though the
	// engine itself has no CLI front-end — logging setup is ambient,
	// not a feature, and stays in scope.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// GatewayConfig configures httpgw.Client.
type GatewayConfig struct {
	BaseURL   string        `mapstructure:"base_url" validate:"required,url" yaml:"base_url"`
	Token     string        `mapstructure:"token" validate:"required" yaml:"token"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"required,gt=0" yaml:"timeout"`
}

// SchedulerConfig configures scheduler.Scheduler.
type SchedulerConfig struct {
	PoolSize int `mapstructure:"pool_size" validate:"required,gt=0" yaml:"pool_size"`
}

// LoggingConfig controls logging behavior, mirroring dittofs's own
// logging config shape.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Timeout: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			PoolSize: 5,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// Load reads configuration from configPath (if non-empty) merged with
// KAMAKI_*-prefixed environment variables, falling back to Default for
// anything unset, then validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("KAMAKI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("gateway.timeout", def.Gateway.Timeout)
	v.SetDefault("scheduler.pool_size", def.Scheduler.PoolSize)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

var validate = validator.New()

// Validate checks cfg's struct tags via go-playground/validator, the
// same library dittofs pins for its own config validation.
func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}
