//go:build !windows

package store

import (
	"os"
	"path/filepath"
)

// markImmutable chmods a freshly committed object directory and its
// contents read-only, per spec.md §4.2.
func markImmutable(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return os.Chmod(path, 0o555)
		}
		return os.Chmod(path, 0o444)
	})
}
