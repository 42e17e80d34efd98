package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"statum.dev/statum/internal/apply"
	"statum.dev/statum/internal/config"
	"statum.dev/statum/internal/declfile"
	"statum.dev/statum/internal/errs"
	"statum.dev/statum/internal/eval"
	"statum.dev/statum/internal/gc"
	"statum.dev/statum/internal/logging"
	"statum.dev/statum/internal/rollback"
	"statum.dev/statum/internal/snapshot"
	"statum.dev/statum/internal/store"
)

// env bundles every collaborator a command needs. It is built fresh per
// invocation from config.Load's result rather than standing up a
// long-lived daemon.
type env struct {
	cfg       *config.Config
	store     *store.Store
	snapshots *snapshot.Store
	orch      *apply.Orchestrator
	gc        *gc.Collector
	log       *logrus.Logger
}

func newEnv() (*env, int) {
	cfg, err := config.Load(configPath())
	if err != nil {
		printErr(err)
		return nil, exitCodeForErr(err)
	}

	s, err := store.Open(cfg.StoreRoot)
	if err != nil {
		printErr(err)
		return nil, exitCodeForErr(err)
	}

	snap := snapshot.Open(s)
	orch := apply.New(s, cfg.Workers, bindProviders())

	return &env{
		cfg:       cfg,
		store:     s,
		snapshots: snap,
		orch:      orch,
		gc:        gc.New(s, snap),
		log:       logging.New(cfg.NoColor),
	}, exitOK
}

func configPath() string {
	if v := os.Getenv("STATUM_CONFIG"); v != "" {
		return v
	}
	home, herr := os.UserHomeDir()
	if herr != nil || home == "" {
		return ".statum.toml"
	}
	return filepath.Join(home, ".statum.toml")
}

// bindProviders adapts declfile.DefaultBindProviders's registry to
// apply.ProviderCtor. The two are distinct named types over the same
// underlying func(string) eval.BindSpec signature (rollback.ProviderCtor
// is a third), so wiring them together is a conversion loop rather than a
// map assignment.
func bindProviders() map[string]apply.ProviderCtor {
	out := map[string]apply.ProviderCtor{}
	for name, ctor := range declfile.DefaultBindProviders() {
		ctor := ctor
		out[name] = func(id string) eval.BindSpec { return ctor(id) }
	}
	return out
}

func rollbackProviders() map[string]rollback.ProviderCtor {
	out := map[string]rollback.ProviderCtor{}
	for name, ctor := range declfile.DefaultBindProviders() {
		ctor := ctor
		out[name] = func(id string) eval.BindSpec { return ctor(id) }
	}
	return out
}

// exitCodeForErr derives a CLI exit code from err, using errs.ExitCode
// when err carries a *errs.Error (its own default branch already returns
// 1) and falling back to the same 1 for an error of any other type —
// spec.md's exit code table has no fifth code for an unclassified
// failure.
func exitCodeForErr(err error) int {
	var e *errs.Error
	if errors.As(err, &e) {
		return errs.ExitCode(e.Kind)
	}
	return exitApplyRolledBack
}
