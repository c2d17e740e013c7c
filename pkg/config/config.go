package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Configuration holds the client settings, read from meshdeck.yaml or the
// MESHDECK_* environment.
type Configuration struct {
	// DatabasePath is the cache database file.
	DatabasePath string `mapstructure:"database_path"`
	// DefaultHost and DefaultPort are dialed on startup when set.
	DefaultHost string `mapstructure:"default_host"`
	DefaultPort int    `mapstructure:"default_port"`
	// HistoryLimit is how many messages per channel are loaded from the
	// cache.
	HistoryLimit int `mapstructure:"history_limit"`
	// RefreshInterval is how often the node list is refreshed while
	// connected.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	// ConnectTimeout bounds the connect handshake. Zero disables the
	// timeout, matching the client library's own behavior.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// SurfaceCommandErrors shows send/write failures in the UI instead
	// of only logging them.
	SurfaceCommandErrors bool `mapstructure:"surface_command_errors"`
}

// Load reads the configuration. path may be empty, in which case the usual
// locations are searched and defaults apply when no file exists.
func Load(path string) (*Configuration, error) {
	v := viper.New()
	v.SetDefault("database_path", "meshdeck.db")
	v.SetDefault("default_port", 4403)
	v.SetDefault("history_limit", 200)
	v.SetDefault("refresh_interval", 30*time.Second)
	v.SetDefault("connect_timeout", 0)
	v.SetDefault("surface_command_errors", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("meshdeck")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/meshdeck")
	}
	v.SetEnvPrefix("MESHDECK")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}
