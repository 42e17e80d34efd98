package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestForStepIncludesNodeAndFingerprint(t *testing.T) {
	log := New(true)
	var buf bytes.Buffer
	log.Out = &buf
	log.SetFormatter(&logrus.TextFormatter{DisableColors: true})

	ForStep(log, "web", "abc123").Info("created")

	out := buf.String()
	if !strings.Contains(out, "node=web") || !strings.Contains(out, "fingerprint=abc123") {
		t.Fatalf("expected node/fingerprint fields in log line, got %q", out)
	}
}

func TestLevelDefaultsToInfo(t *testing.T) {
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("STATUM_DEBUG")
	if got := level(); got != logrus.InfoLevel {
		t.Fatalf("expected info level by default, got %v", got)
	}
}

func TestLevelHonorsDebugEnvVar(t *testing.T) {
	os.Unsetenv("LOG_LEVEL")
	os.Setenv("STATUM_DEBUG", "1")
	defer os.Unsetenv("STATUM_DEBUG")
	if got := level(); got != logrus.DebugLevel {
		t.Fatalf("expected debug level under STATUM_DEBUG, got %v", got)
	}
}

func TestLevelHonorsExplicitLogLevel(t *testing.T) {
	os.Setenv("LOG_LEVEL", "warn")
	defer os.Unsetenv("LOG_LEVEL")
	if got := level(); got != logrus.WarnLevel {
		t.Fatalf("expected warn level, got %v", got)
	}
}
