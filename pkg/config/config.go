// Package config loads service configuration from environment variables and
// an optional config.yaml, with development-friendly defaults.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTP  HTTPConfig
	DB    DBConfig
	Cache CacheConfig
	Log   LogConfig
}

type HTTPConfig struct {
	Addr string
}

type DBConfig struct {
	Path string
}

type CacheConfig struct {
	TTL             time.Duration
	RefreshDebounce time.Duration
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// Load reads configuration. Environment variables use the LENDBOOK_ prefix
// with underscores, e.g. LENDBOOK_HTTP_ADDR, LENDBOOK_DB_PATH.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("db.path", "lendbook.db")
	v.SetDefault("cache.ttl", "60s")
	v.SetDefault("cache.refresh_debounce", "250ms")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetEnvPrefix("LENDBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// The config file is optional; only a malformed one is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return &Config{
		HTTP: HTTPConfig{
			Addr: v.GetString("http.addr"),
		},
		DB: DBConfig{
			Path: v.GetString("db.path"),
		},
		Cache: CacheConfig{
			TTL:             v.GetDuration("cache.ttl"),
			RefreshDebounce: v.GetDuration("cache.refresh_debounce"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}, nil
}
