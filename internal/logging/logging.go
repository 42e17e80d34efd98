// Package logging implements structured, per-step logging (C13,
// SPEC_FULL.md §4.13) on top of github.com/sirupsen/logrus: one
// WithFields{node, fingerprint} entry per plan step, so every action's
// output is self-describing. Failed actions' stderr tails are already
// captured by internal/sandbox and embedded in the returned error; this
// package is only responsible for emitting the log lines around that,
// not for re-capturing stderr itself.
//
// Grounded on pkg/log/log.go of the sibling pack repo
// jesseduffield-lazydocker, the only retrieved example that wraps logrus
// this way: NewLogger returning a *logrus.Entry pre-populated with
// fields, level chosen from an environment variable.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns the base logger: text formatting to stderr, level driven
// by LOG_LEVEL (falling back to info, or debug under STATUM_DEBUG),
// mirroring log.go's getLogLevel/newDevelopmentLogger split without
// lazydocker's file-backed debug log — this engine has no persistent
// app config directory to write one into.
func New(noColor bool) *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stderr
	log.SetFormatter(&logrus.TextFormatter{DisableColors: noColor, FullTimestamp: true})
	log.SetLevel(level())
	return log
}

func level() logrus.Level {
	str := os.Getenv("LOG_LEVEL")
	if str == "" {
		if os.Getenv("STATUM_DEBUG") != "" {
			return logrus.DebugLevel
		}
		return logrus.InfoLevel
	}
	lvl, err := logrus.ParseLevel(str)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// ForStep returns a logger entry pre-populated with the node id and
// fingerprint of the plan step it follows, so every line it emits is
// self-describing without the caller repeating those fields.
func ForStep(log *logrus.Logger, nodeID, fingerprint string) *logrus.Entry {
	return log.WithFields(logrus.Fields{"node": nodeID, "fingerprint": fingerprint})
}
