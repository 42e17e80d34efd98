//go:build windows

package sandbox

import (
	"fmt"
	"os/exec"

	"statum.dev/statum/internal/eval"
)

func defaultPath() string {
	return `C:\Windows\System32;C:\Windows`
}

func extForKind(kind eval.ScriptKind) string {
	switch kind {
	case eval.ScriptCmd:
		return ".bat"
	case eval.ScriptBash:
		return ".sh"
	default:
		return ".ps1"
	}
}

func scriptCommand(kind eval.ScriptKind, scriptPath string) (string, []string, error) {
	switch kind {
	case eval.ScriptShell:
		return "powershell.exe", []string{"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-File", scriptPath}, nil
	case eval.ScriptCmd:
		return "cmd.exe", []string{"/c", scriptPath}, nil
	case eval.ScriptBash:
		bashPath, err := exec.LookPath("bash")
		if err != nil {
			return "", nil, fmt.Errorf("sandbox: bash not found: %w", err)
		}
		return bashPath, []string{scriptPath}, nil
	default:
		return "", nil, fmt.Errorf("sandbox: unknown script kind %q", kind)
	}
}
