// Package config loads the client's configuration the way the
// ambient stack loads it: layered defaults, an optional config file,
// then environment variables, each overriding the last. No field is
// read from command-line flags; the only flag involved is --config,
// which main passes in as the config file path.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete, resolved configuration for one client run.
type Config struct {
	Endpoint  string        `mapstructure:"endpoint"`
	APIKey    string        `mapstructure:"apikey"`
	Cores     int           `mapstructure:"cores"`
	MaxBackoff time.Duration `mapstructure:"max_backoff"`

	UserBacklog   *time.Duration `mapstructure:"user_backlog"`
	SystemBacklog *time.Duration `mapstructure:"system_backlog"`

	StatsFile string `mapstructure:"stats_file"`
	Verbosity string `mapstructure:"verbosity"`

	EnginePath        string `mapstructure:"engine_path"`
	VariantEnginePath string `mapstructure:"variant_engine_path"`

	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
}

// ResolvedCores returns Cores, or runtime.NumCPU()-1 clamped to >= 1
// when Cores is 0 ("auto").
func (c Config) ResolvedCores() int {
	if c.Cores > 0 {
		return c.Cores
	}
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// Load builds a viper reader with fishnet's defaults, an optional
// config file, and FISHNET_-prefixed environment overrides, then
// decodes it into a Config.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("cores", 0)
	v.SetDefault("max_backoff", 30*time.Second)
	v.SetDefault("stats_file", defaultStatsFile())
	v.SetDefault("verbosity", "info")
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_addr", ":9090")

	v.SetEnvPrefix("fishnet")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees keys viper already knows, so keys without a
	// default are bound explicitly for their environment variables to apply.
	for _, key := range []string{"endpoint", "apikey", "user_backlog", "system_backlog", "engine_path", "variant_engine_path"} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("fishnet")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields required for a successful startup.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("apikey is required")
	}
	if c.EnginePath == "" {
		return fmt.Errorf("engine_path is required")
	}
	return nil
}

func defaultStatsFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".fishnet", "fishnet.json")
}
