// Package config holds the server configuration: the access token, the wake
// lock flag, the listening port and the paths used by the cache and the engine
// database. Values are read through viper and persisted as YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
)

// AppName is used for config, data and cache directory names.
const AppName = "tts-server"

// DefaultPort is the port the service listens on unless configured otherwise.
const DefaultPort = 1233

// Common config errors
var (
	// ErrInvalidPort indicates the port is outside 1-65535
	ErrInvalidPort = errors.New("port must be between 1 and 65535")

	// ErrInvalidCacheSize indicates the cache size is out of range
	ErrInvalidCacheSize = errors.New("cache max_size_mb must be between 1 and 10000")

	// ErrInvalidRate indicates a negative request rate
	ErrInvalidRate = errors.New("request rates must not be negative")
)

// ServerConfig is a snapshot of the service configuration.
type ServerConfig struct {
	Port              int    `mapstructure:"port"`
	Token             string `mapstructure:"token"`
	WakeLock          bool   `mapstructure:"wake_lock"`
	DefaultEngine     string `mapstructure:"default_engine"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	// EngineRequestsPerMinute limits requests sent to engines across all
	// callers, previews included.
	EngineRequestsPerMinute int         `mapstructure:"engine_requests_per_minute"`
	DataDir                 string      `mapstructure:"data_dir"`
	Cache                   CacheConfig `mapstructure:"cache"`
}

// CacheConfig controls the synthesized audio cache.
type CacheConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Dir       string `mapstructure:"dir"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MemoryMB  int    `mapstructure:"memory_mb"`
	TTLDays   int    `mapstructure:"ttl_days"`
}

// Validate checks the values a user can get wrong in the YAML file.
func (c ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w, got %d", ErrInvalidPort, c.Port)
	}
	if c.Cache.Enabled && (c.Cache.MaxSizeMB < 1 || c.Cache.MaxSizeMB > 10000) {
		return fmt.Errorf("%w, got %d", ErrInvalidCacheSize, c.Cache.MaxSizeMB)
	}
	if c.RequestsPerMinute < 0 {
		return fmt.Errorf("%w, requests_per_minute is %d", ErrInvalidRate, c.RequestsPerMinute)
	}
	if c.EngineRequestsPerMinute < 0 {
		return fmt.Errorf("%w, engine_requests_per_minute is %d", ErrInvalidRate, c.EngineRequestsPerMinute)
	}
	return nil
}

// URL is the address of the local web control panel.
func (c ServerConfig) URL() string {
	return fmt.Sprintf("http://localhost:%d", c.Port)
}

// ConfigDirs returns the directories searched for the config file, most
// specific first. TTS_SERVER_CONFIG_HOME and XDG_CONFIG_HOME take precedence.
func ConfigDirs() ([]string, error) {
	scope := gap.NewScope(gap.User, AppName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		return nil, fmt.Errorf("could not find configuration directory: %w", err)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, AppName)}, dirs...)
	}
	if c := os.Getenv("TTS_SERVER_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}
	return dirs, nil
}

// DefaultDataDir is where the engine database lives.
func DefaultDataDir() (string, error) {
	dirs, err := gap.NewScope(gap.User, AppName).DataDirs()
	if err != nil || len(dirs) == 0 {
		return "", fmt.Errorf("could not find data directory: %w", err)
	}
	return dirs[0], nil
}

// DefaultCacheDir is where synthesized audio is cached on disk.
func DefaultCacheDir() (string, error) {
	dir, err := gap.NewScope(gap.User, AppName).CacheDir()
	if err != nil {
		return "", fmt.Errorf("could not find cache directory: %w", err)
	}
	return filepath.Join(dir, "audio"), nil
}

// ExpandPath expands a leading ~ and environment variables.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	expanded, err := homedir.Expand(os.ExpandEnv(path))
	if err != nil {
		return path
	}
	return expanded
}
