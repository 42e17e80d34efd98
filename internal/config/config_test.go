package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"STATUM_STORE", "STATUM_WORKERS", "STATUM_NO_COLOR"} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreRoot == "" {
		t.Fatalf("expected a default store root")
	}
	if cfg.Workers != 0 || cfg.NoColor {
		t.Fatalf("expected zero-value overrides, got %+v", cfg)
	}
}

func TestLoadParsesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "store_root = \"/srv/statum\"\nworkers = 4\nno_color = true\ndefault_tags = [\"prod\", \"us-east\"]\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreRoot != "/srv/statum" || cfg.Workers != 4 || !cfg.NoColor {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.DefaultTags) != 2 || cfg.DefaultTags[0] != "prod" {
		t.Fatalf("unexpected default tags: %v", cfg.DefaultTags)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("not = [valid toml"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for malformed TOML")
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "store_root = \"/srv/statum\"\nworkers = 4\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	os.Setenv("STATUM_STORE", "/override/store")
	os.Setenv("STATUM_WORKERS", "9")
	os.Setenv("STATUM_NO_COLOR", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreRoot != "/override/store" || cfg.Workers != 9 || !cfg.NoColor {
		t.Fatalf("env overrides did not apply: %+v", cfg)
	}
}

func TestEnvOverrideRejectsInvalidWorkers(t *testing.T) {
	clearEnv(t)
	os.Setenv("STATUM_WORKERS", "not-a-number")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected an error for a non-numeric STATUM_WORKERS")
	}
}

func TestDefaultHasCurrentSchemaVersion(t *testing.T) {
	cfg := Default()
	if cfg.SchemaVersion != currentSchemaVersion {
		t.Fatalf("expected schema version %d, got %d", currentSchemaVersion, cfg.SchemaVersion)
	}
}
