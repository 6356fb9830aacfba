// Package config loads the metamark CLI configuration from metamark.yml or
// metamark.yaml, with environment variable overrides.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config represents the metamark configuration.
type Config struct {
	SchemaDir string         `mapstructure:"schema_dir"`
	LogLevel  string         `mapstructure:"log_level"`
	Database  DatabaseConfig `mapstructure:"database"`
	Output    OutputConfig   `mapstructure:"output"`
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// OutputConfig represents generated-SQL output configuration.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load loads the configuration, falling back to defaults when no config file
// is present.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("schema_dir", "schema")
	v.SetDefault("log_level", "info")
	v.SetDefault("database.path", "metamark.db")
	v.SetDefault("output.dir", "")

	v.SetConfigName("metamark")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("METAMARK")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

// DatabasePath returns the database path, with the METAMARK_DB environment
// variable overriding the configured value.
func (c *Config) DatabasePath() string {
	if path := os.Getenv("METAMARK_DB"); path != "" {
		return path
	}
	return c.Database.Path
}
