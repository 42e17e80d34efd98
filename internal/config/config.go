// Package config implements configuration loading (C12, SPEC_FULL.md
// §4.12): a TOML file plus environment variable overrides, decoded into a
// schema-versioned struct with `toml` tags and `omitempty` sections via
// github.com/pelletier/go-toml/v2.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"statum.dev/statum/internal/errs"
)

const currentSchemaVersion = 1

// Config is the engine's top-level configuration: where the store lives,
// how much build parallelism to use, and CLI presentation defaults.
type Config struct {
	SchemaVersion int      `toml:"schema_version"`
	StoreRoot     string   `toml:"store_root"`
	Workers       int      `toml:"workers,omitempty"`
	NoColor       bool     `toml:"no_color,omitempty"`
	DefaultTags   []string `toml:"default_tags,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		SchemaVersion: currentSchemaVersion,
		StoreRoot:     defaultStoreRoot(),
	}
}

func defaultStoreRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".statum"
	}
	return home + "/.statum"
}

// Load reads a TOML config file at path (returning defaults, not an error,
// if it doesn't exist) and then applies STATUM_STORE / STATUM_WORKERS /
// STATUM_NO_COLOR environment overrides, mirroring settings.go's
// file-then-env precedence. Any failure here is a user error (exit code 3
// per spec.md §6/§7): a malformed file or an unparsable env override.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, errs.New(errs.ConfigInvalid, "", "", fmt.Errorf("config: parse %s: %w", path, err))
		}
	case os.IsNotExist(err):
		// No file: defaults + env overrides only.
	default:
		return nil, errs.New(errs.ConfigInvalid, "", "", fmt.Errorf("config: read %s: %w", path, err))
	}

	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = currentSchemaVersion
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("STATUM_STORE")); v != "" {
		cfg.StoreRoot = v
	}
	if v := strings.TrimSpace(os.Getenv("STATUM_WORKERS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return errs.New(errs.ConfigInvalid, "", "", fmt.Errorf("config: STATUM_WORKERS=%q must be a non-negative integer", v))
		}
		cfg.Workers = n
	}
	if v := strings.TrimSpace(os.Getenv("STATUM_NO_COLOR")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errs.New(errs.ConfigInvalid, "", "", fmt.Errorf("config: STATUM_NO_COLOR=%q must be a boolean", v))
		}
		cfg.NoColor = b
	}
	return nil
}
