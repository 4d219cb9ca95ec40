// Package config loads consolectl settings.
//
// Sources are layered, later ones winning: built-in defaults, the YAML
// config file, .env and .env.local in the working directory, CONSOLE_*
// environment variables, and finally command-line flags (applied by the
// caller). A missing config file or .env file is not an error.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultBaseURL       = "http://localhost:8000"
	DefaultTimeout       = 30 * time.Second
	DefaultWatchInterval = 2 * time.Second
	DefaultCacheTTL      = 30 * time.Second
	DefaultLogLevel      = "info"
	DefaultLoginPath     = "/login"
	DefaultLandingPath   = "/policies"

	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "CONSOLE_"
)

// storeFile is the credential database inside the state directory.
const storeFile = "session.db"

// Config is the complete consolectl configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Watch   WatchConfig   `yaml:"watch"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig locates the backend.
type ServerConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig controls where the credential is kept and the views the
// session guard redirects to.
type SessionConfig struct {
	// StateDir holds the credential database. Empty keeps the credential
	// in memory only.
	StateDir string `yaml:"state_dir"`
	// Secret derives the at-rest encryption key. When empty a key file is
	// generated inside StateDir.
	Secret      string `yaml:"secret"`
	LoginPath   string `yaml:"login_path"`
	LandingPath string `yaml:"landing_path"`
}

// StorePath returns the credential database path, or "" when the
// credential is not persisted.
func (s SessionConfig) StorePath() string {
	if s.StateDir == "" {
		return ""
	}
	return filepath.Join(s.StateDir, storeFile)
}

// WatchConfig controls job polling.
type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// CacheConfig controls the configuration read cache. A negative TTL
// disables caching.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// LogConfig sets the log level: debug, info, warn or error.
type LogConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig exposes Prometheus metrics while watching. Empty Addr
// disables the endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL: DefaultBaseURL,
			Timeout: DefaultTimeout,
		},
		Session: SessionConfig{
			StateDir:    defaultStateDir(),
			LoginPath:   DefaultLoginPath,
			LandingPath: DefaultLandingPath,
		},
		Watch: WatchConfig{Interval: DefaultWatchInterval},
		Cache: CacheConfig{TTL: DefaultCacheTTL},
		Log:   LogConfig{Level: DefaultLogLevel},
	}
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "consolectl")
}

// DefaultPath returns the config file read when --config is not given.
func DefaultPath() string {
	dir := defaultStateDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Load builds the configuration from defaults, the YAML file at path, .env
// files and the environment. When explicit is false a missing file at path
// is ignored.
func Load(path string, explicit bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) || explicit {
				return nil, err
			}
		}
	}

	if err := LoadDotEnv(".env", ".env.local"); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays the YAML document at path. Keys absent from the file
// keep their current value.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads each existing file into the process environment without
// overriding variables that are already set.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays CONSOLE_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalid, EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("BASE_URL", &c.Server.BaseURL)
	str("STATE_DIR", &c.Session.StateDir)
	str("SECRET", &c.Session.Secret)
	str("LOGIN_PATH", &c.Session.LoginPath)
	str("LANDING_PATH", &c.Session.LandingPath)
	str("LOG_LEVEL", &c.Log.Level)
	str("METRICS_ADDR", &c.Metrics.Addr)

	return errors.Join(
		dur("TIMEOUT", &c.Server.Timeout),
		dur("WATCH_INTERVAL", &c.Watch.Interval),
		dur("CACHE_TTL", &c.Cache.TTL),
	)
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	u, err := url.Parse(c.Server.BaseURL)
	switch {
	case err != nil:
		invalid("server.base_url: %v", err)
	case u.Scheme != "http" && u.Scheme != "https", u.Host == "":
		invalid("server.base_url %q must be an absolute http(s) URL", c.Server.BaseURL)
	}
	if c.Server.Timeout <= 0 {
		invalid("server.timeout must be positive")
	}
	if c.Watch.Interval <= 0 {
		invalid("watch.interval must be positive")
	}
	if !strings.HasPrefix(c.Session.LoginPath, "/") {
		invalid("session.login_path %q must start with /", c.Session.LoginPath)
	}
	if !strings.HasPrefix(c.Session.LandingPath, "/") {
		invalid("session.landing_path %q must start with /", c.Session.LandingPath)
	}
	if !logLevels[strings.ToLower(c.Log.Level)] {
		invalid("log.level %q (want debug, info, warn or error)", c.Log.Level)
	}
	return errors.Join(errs...)
}
