package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// DefaultConfig is written when no config file exists yet.
const DefaultConfig = `# port the TTS service listens on
port: 1233
# access token for the HTTP API; empty disables authentication
token: ""
# keep the machine awake while the service runs (applied on next start)
wake_lock: false
# engine used by /api/tts when none is named in the request
default_engine: ""
# /api/tts requests allowed per minute (0 = unlimited)
requests_per_minute: 60
# requests the engine client sends upstream per minute (0 = unlimited)
engine_requests_per_minute: 0
# directory for the engine database (default: user data dir)
data_dir: ""

# synthesized audio cache
cache:
  enabled: true
  # default: user cache dir
  dir: ""
  max_size_mb: 200
  memory_mb: 32
  ttl_days: 7
`

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", DefaultPort)
	v.SetDefault("token", "")
	v.SetDefault("wake_lock", false)
	v.SetDefault("default_engine", "")
	v.SetDefault("requests_per_minute", 60)
	v.SetDefault("engine_requests_per_minute", 0)
	v.SetDefault("data_dir", "")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.max_size_mb", 200)
	v.SetDefault("cache.memory_mb", 32)
	v.SetDefault("cache.ttl_days", 7)
}

// Store is the process-wide view of the server configuration. Writes go
// straight to the config file; a running service keeps the snapshot it took
// when it started.
type Store struct {
	mu    sync.RWMutex
	v     *viper.Viper
	path  string
	setup func(*viper.Viper)
}

// NewStore wraps an already configured viper instance. path is where writes
// are persisted; it may be empty for an in-memory store.
func NewStore(v *viper.Viper, path string) *Store {
	SetDefaults(v)
	return &Store{v: v, path: path}
}

// Open loads the config file at path, creating it with DefaultConfig when it
// does not exist. setup, if given, is applied to every viper instance the
// store uses, e.g. to bind command line flags.
func Open(path string, setup func(*viper.Viper)) (*Store, error) {
	if err := EnsureFile(path); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if setup != nil {
		setup(v)
	}
	s := NewStore(v, path)
	s.setup = setup
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}
	return s, nil
}

// EnsureFile creates the config file and its directory when missing.
func EnsureFile(configFile string) error {
	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(DefaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}

// Path returns the file the store persists to.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns the current configuration with paths expanded and
// defaults filled in.
func (s *Store) Snapshot() (ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cfg ServerConfig
	if err := s.v.Unmarshal(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.DataDir = ExpandPath(cfg.DataDir)
	if cfg.DataDir == "" {
		if dir, err := DefaultDataDir(); err == nil {
			cfg.DataDir = dir
		}
	}
	cfg.Cache.Dir = ExpandPath(cfg.Cache.Dir)
	if cfg.Cache.Dir == "" {
		if dir, err := DefaultCacheDir(); err == nil {
			cfg.Cache.Dir = dir
		}
	}
	return cfg, cfg.Validate()
}

// Token returns the configured access token.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetString("token")
}

// SetToken stores a new access token. An empty token disables auth.
func (s *Store) SetToken(token string) error {
	return s.set("token", token)
}

// WakeLock reports whether the service should hold a wake lock.
func (s *Store) WakeLock() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetBool("wake_lock")
}

// SetWakeLock stores the wake lock flag.
func (s *Store) SetWakeLock(enabled bool) error {
	return s.set("wake_lock", enabled)
}

// Port returns the configured listening port.
func (s *Store) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetInt("port")
}

// DefaultEngine returns the engine name used when a request names none.
func (s *Store) DefaultEngine() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetString("default_engine")
}

// SetDefaultEngine stores the default engine name.
func (s *Store) SetDefaultEngine(name string) error {
	return s.set("default_engine", name)
}

// Reload re-reads the config file, picking up external edits.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.v.ReadInConfig(); err != nil {
		return fmt.Errorf("unable to reload config: %w", err)
	}
	log.Debug("Configuration reloaded", "path", s.path)
	return nil
}

func (s *Store) set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		s.v.Set(key, value)
		return nil
	}
	// Only the key is rewritten; defaults and flag overrides stay out of the
	// file.
	if err := writeKey(s.path, key, value); err != nil {
		return err
	}

	// Re-read into a fresh instance so nothing set in memory masks later
	// edits of the file.
	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("yaml")
	SetDefaults(v)
	if s.setup != nil {
		s.setup(v)
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("unable to read config file: %w", err)
	}
	s.v = v

	log.Debug("Configuration updated", "key", key)
	return nil
}
