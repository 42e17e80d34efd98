package sandbox

import (
	"fmt"
	"os"
)

// writeScriptFile writes body to a fresh temp file with the given
// extension and returns its path plus a cleanup func that removes it.
func writeScriptFile(name, body, ext string) (path string, cleanup func(), err error) {
	if name == "" {
		name = "statum-action"
	}
	f, err := os.CreateTemp("", name+"-*"+ext)
	if err != nil {
		return "", nil, fmt.Errorf("sandbox: create script file: %w", err)
	}
	path = f.Name()
	if _, err := f.WriteString(body); err != nil {
		f.Close()
		os.Remove(path)
		return "", nil, fmt.Errorf("sandbox: write script file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", nil, fmt.Errorf("sandbox: close script file: %w", err)
	}
	if err := os.Chmod(path, 0o700); err != nil {
		os.Remove(path)
		return "", nil, fmt.Errorf("sandbox: chmod script file: %w", err)
	}
	return path, func() { os.Remove(path) }, nil
}
