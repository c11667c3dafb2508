// Package config loads the markmux configuration.
//
// Configuration is TOML with environment-variable overrides on top. A
// missing config file is not an error: defaults apply.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"markmux/internal/document"
	"markmux/internal/vfs"
)

// envPrefix namespaces the override variables.
const envPrefix = "MARKMUX_"

// ErrInvalidConfig indicates the configuration failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// ParseError wraps a TOML parse failure with its source path.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Config is the full markmux configuration.
type Config struct {
	// DefaultMode is the presentation mode newly opened documents get.
	DefaultMode string `toml:"default_mode"`

	// Listen, when set, serves remote surfaces over websocket on this
	// address.
	Listen string `toml:"listen"`

	// ModePolicyScript is an optional Lua hook run on every mode switch.
	ModePolicyScript string `toml:"mode_policy_script"`

	Watcher WatcherConfig `toml:"watcher"`
	Session SessionConfig `toml:"session"`
	Limits  LimitsConfig  `toml:"limits"`
}

// WatcherConfig tunes external change detection.
type WatcherConfig struct {
	// DebounceMS coalesces bursts of file events; 0 disables debouncing.
	DebounceMS int `toml:"debounce_ms"`
}

// SessionConfig tunes surface persistence.
type SessionConfig struct {
	// Path is the SQLite database holding surface snapshots. Empty
	// disables persistence.
	Path string `toml:"path"`
}

// LimitsConfig bounds resource usage.
type LimitsConfig struct {
	// MaxFileSize rejects files larger than this many bytes; 0 means
	// unlimited.
	MaxFileSize int64 `toml:"max_file_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DefaultMode: string(document.ModeEdit),
		Watcher:     WatcherConfig{DebounceMS: 100},
		Session:     SessionConfig{Path: ""},
		Limits:      LimitsConfig{MaxFileSize: 10 << 20},
	}
}

// Load reads the configuration file at path, applying defaults and then
// environment overrides. A missing file yields the defaults.
func Load(path string) (Config, error) {
	return LoadWithFS(vfs.NewOSFS(), path)
}

// LoadWithFS is Load on an explicit file system, for testing.
func LoadWithFS(fsys vfs.FS, path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := fsys.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Config{}, &ParseError{Path: path, Err: err}
			}
		case errors.Is(err, fs.ErrNotExist):
			// Defaults apply.
		default:
			return Config{}, &ParseError{Path: path, Err: err}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv layers MARKMUX_* variables over the file values.
func (c *Config) applyEnv() {
	if v := os.Getenv(envPrefix + "DEFAULT_MODE"); v != "" {
		c.DefaultMode = v
	}
	if v := os.Getenv(envPrefix + "LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(envPrefix + "MODE_POLICY_SCRIPT"); v != "" {
		c.ModePolicyScript = v
	}
	if v := os.Getenv(envPrefix + "SESSION_PATH"); v != "" {
		c.Session.Path = v
	}
	if v := os.Getenv(envPrefix + "DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Watcher.DebounceMS = n
		}
	}
	if v := os.Getenv(envPrefix + "MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Limits.MaxFileSize = n
		}
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if !document.Mode(c.DefaultMode).Valid() {
		return fmt.Errorf("%w: unknown default_mode %q", ErrInvalidConfig, c.DefaultMode)
	}
	if c.Watcher.DebounceMS < 0 {
		return fmt.Errorf("%w: watcher.debounce_ms must not be negative", ErrInvalidConfig)
	}
	if c.Limits.MaxFileSize < 0 {
		return fmt.Errorf("%w: limits.max_file_size must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Mode returns the default mode as a typed value.
func (c Config) Mode() document.Mode {
	return document.Mode(c.DefaultMode)
}

// DebounceDelay returns the watcher debounce as a duration.
func (c Config) DebounceDelay() time.Duration {
	return time.Duration(c.Watcher.DebounceMS) * time.Millisecond
}
