// Package config provides configuration loading for settingsd.
// Values come from a TOML file, overridden by SETTINGSD_* environment
// variables; invalid values are normalized to defaults with a warning.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all settingsd configuration.
type Config struct {
	// ListenAddr is the authority's WebSocket listen address.
	ListenAddr string `toml:"listen_addr"`

	// StorePath is the SQLite database file backing the persistent store.
	StorePath string `toml:"store_path"`

	// QuotaBytes bounds the total size of all persisted records.
	QuotaBytes int `toml:"quota_bytes"`

	// MaxValueBytes bounds a single persisted record.
	MaxValueBytes int `toml:"max_value_bytes"`

	// DebounceWindowMS is the flush debounce window in milliseconds.
	DebounceWindowMS int `toml:"debounce_window_ms"`

	// MaxAttempts bounds retry attempts per store operation.
	MaxAttempts int `toml:"max_attempts"`

	// BackoffBaseMS is the first retry delay in milliseconds.
	BackoffBaseMS int `toml:"backoff_base_ms"`

	// BackoffMaxMS caps the backoff growth in milliseconds.
	BackoffMaxMS int `toml:"backoff_max_ms"`

	// PollIntervalMS is the store change-log polling cadence in milliseconds.
	PollIntervalMS int `toml:"poll_interval_ms"`

	// SchemaPath overrides the embedded default schema when set.
	SchemaPath string `toml:"schema_path"`

	LoggingEnabled  bool   `toml:"logging_enabled"`
	LoggingLevel    string `toml:"logging_level"`
	LoggingDir      string `toml:"logging_dir"`
	LoggingMaxFiles int    `toml:"logging_max_files"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:       "127.0.0.1:8791",
		StorePath:        defaultStorePath(),
		QuotaBytes:       102400,
		MaxValueBytes:    8192,
		DebounceWindowMS: 400,
		MaxAttempts:      3,
		BackoffBaseMS:    50,
		BackoffMaxMS:     2000,
		PollIntervalMS:   200,
		LoggingEnabled:   true,
		LoggingLevel:     "info",
		LoggingMaxFiles:  10,
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.toml")
}

func configDir() string {
	xdg := os.Getenv("XDG_CONFIG_HOME")
	if xdg == "" {
		home, _ := os.UserHomeDir()
		xdg = filepath.Join(home, ".config")
	}
	return filepath.Join(xdg, "settingsd")
}

func defaultStorePath() string {
	xdg := os.Getenv("XDG_STATE_HOME")
	if xdg == "" {
		home, _ := os.UserHomeDir()
		xdg = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(xdg, "settingsd", "settings.db")
}

// Load reads the config file at path (DefaultPath when empty), applies
// environment overrides and normalizes invalid values. A missing file is not
// an error; defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// applyEnv overrides config fields from SETTINGSD_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SETTINGSD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SETTINGSD_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("SETTINGSD_SCHEMA_PATH"); v != "" {
		cfg.SchemaPath = v
	}
	if v := os.Getenv("SETTINGSD_QUOTA_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QuotaBytes = n
		}
	}
	if v := os.Getenv("SETTINGSD_DEBOUNCE_WINDOW_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DebounceWindowMS = n
		}
	}
	if v := os.Getenv("SETTINGSD_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxAttempts = n
		}
	}
	if v := os.Getenv("SETTINGSD_LOGGING_LEVEL"); v != "" {
		cfg.LoggingLevel = v
	}
	if v := os.Getenv("SETTINGSD_LOGGING_DIR"); v != "" {
		cfg.LoggingDir = v
	}
	if v := os.Getenv("SETTINGSD_LOGGING_ENABLED"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			cfg.LoggingEnabled = true
		case "0", "false", "no", "off":
			cfg.LoggingEnabled = false
		}
	}
}

// normalize resets out-of-range values to defaults with a warning.
func normalize(cfg *Config) {
	def := Default()
	positiveInt(&cfg.QuotaBytes, def.QuotaBytes, "quota_bytes")
	positiveInt(&cfg.MaxValueBytes, def.MaxValueBytes, "max_value_bytes")
	positiveInt(&cfg.DebounceWindowMS, def.DebounceWindowMS, "debounce_window_ms")
	positiveInt(&cfg.MaxAttempts, def.MaxAttempts, "max_attempts")
	positiveInt(&cfg.BackoffBaseMS, def.BackoffBaseMS, "backoff_base_ms")
	positiveInt(&cfg.BackoffMaxMS, def.BackoffMaxMS, "backoff_max_ms")
	positiveInt(&cfg.PollIntervalMS, def.PollIntervalMS, "poll_interval_ms")
	positiveInt(&cfg.LoggingMaxFiles, def.LoggingMaxFiles, "logging_max_files")
	enumValue(&cfg.LoggingLevel, def.LoggingLevel, "logging_level",
		"debug", "info", "warn", "error")
}

func positiveInt(field *int, defaultValue int, key string) {
	if *field <= 0 {
		fmt.Fprintf(os.Stderr, "invalid %s value %d: must be a positive integer, using default: %d\n",
			key, *field, defaultValue)
		*field = defaultValue
	}
}

func enumValue(field *string, defaultValue, key string, allowed ...string) {
	value := strings.ToLower(*field)
	for _, a := range allowed {
		if value == a {
			*field = value
			return
		}
	}
	fmt.Fprintf(os.Stderr, "invalid %s value '%s': must be one of: %s; using default: %s\n",
		key, *field, strings.Join(allowed, ", "), defaultValue)
	*field = defaultValue
}

// DebounceWindow returns the debounce window as a duration.
func (c Config) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceWindowMS) * time.Millisecond
}

// BackoffBase returns the first retry delay as a duration.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// BackoffMax returns the backoff cap as a duration.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

// PollInterval returns the change-log polling cadence as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}
