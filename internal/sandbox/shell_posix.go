//go:build !windows

package sandbox

import (
	"fmt"
	"os/exec"

	"statum.dev/statum/internal/eval"
)

func defaultPath() string {
	return "/usr/local/bin:/usr/bin:/bin"
}

func extForKind(kind eval.ScriptKind) string {
	if kind == eval.ScriptCmd {
		return ".bat" // unusable on POSIX; scriptCommand below rejects it anyway
	}
	return ".sh"
}

func scriptCommand(kind eval.ScriptKind, scriptPath string) (string, []string, error) {
	switch kind {
	case eval.ScriptShell:
		return "/bin/sh", []string{scriptPath}, nil
	case eval.ScriptBash:
		bashPath, err := exec.LookPath("bash")
		if err != nil {
			return "", nil, fmt.Errorf("sandbox: bash not found: %w", err)
		}
		return bashPath, []string{scriptPath}, nil
	case eval.ScriptCmd:
		return "", nil, fmt.Errorf("sandbox: script kind %q is not available on this host", kind)
	default:
		return "", nil, fmt.Errorf("sandbox: unknown script kind %q", kind)
	}
}
