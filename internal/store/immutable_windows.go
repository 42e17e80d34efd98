//go:build windows

package store

import (
	"os"
	"path/filepath"
)

// markImmutable writes a marker file to indicate the object directory is
// complete and must not be mutated, since Windows ACLs don't give us the
// same cheap read-only-directory guarantee POSIX chmod does.
func markImmutable(dir string) error {
	return os.WriteFile(filepath.Join(dir, ".immutable"), []byte{}, 0o444)
}
