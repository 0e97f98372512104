// Package config loads the settings of the procq command from flags,
// environment variables (PROCQ_ prefix) and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/ib-77/procq/internal/logging"
)

const envPrefix = "PROCQ"

// Config holds all command configuration.
type Config struct {
	Log  LogConfig  `mapstructure:"log" validate:"required"`
	Run  RunConfig  `mapstructure:"run" validate:"required"`
	HTTP HTTPConfig `mapstructure:"http"`
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"required,oneof=console json"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

// RunConfig drives the demo workload.
type RunConfig struct {
	Queue           string        `mapstructure:"queue" validate:"required"`
	Producers       int           `mapstructure:"producers" validate:"gte=1,lte=1024"`
	Items           int           `mapstructure:"items" validate:"gte=0"`
	Callbacks       int           `mapstructure:"callbacks" validate:"gte=0,lte=10"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// HTTPConfig enables the metrics/stats endpoint when Addr is set.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// Logging converts the log section for the logging package.
func (c LogConfig) Logging() logging.Config {
	return logging.Config{
		Level:      c.Level,
		Format:     c.Format,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	def := logging.DefaultConfig()
	v.SetDefault("log.level", def.Level)
	v.SetDefault("log.format", def.Format)
	v.SetDefault("log.max_size_mb", def.MaxSizeMB)
	v.SetDefault("log.max_backups", def.MaxBackups)
	v.SetDefault("log.max_age_days", def.MaxAgeDays)

	v.SetDefault("run.queue", "demo")
	v.SetDefault("run.producers", 4)
	v.SetDefault("run.items", 1000)
	v.SetDefault("run.callbacks", 3)
	v.SetDefault("run.shutdown_timeout", 10*time.Second)

	v.SetDefault("http.addr", "")
}

// Load reads configuration from v, which may already carry bound flags.
// When file is not empty it is read as the config file; a missing file is an
// error, an unset one is not.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
	}
	return fmt.Errorf("config: invalid: %w", err)
}
