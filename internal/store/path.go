package store

import (
	"fmt"
	"path/filepath"
	"strings"
)

// containedPath resolves rel against base and rejects it if it would
// escape base, which guards the build executor against a thunk declaring
// an output path that points outside its staging directory.
func containedPath(base, rel string) (string, error) {
	full := filepath.Join(base, rel)
	cleanBase := filepath.Clean(base) + string(filepath.Separator)
	if !strings.HasPrefix(full+string(filepath.Separator), cleanBase) && full != filepath.Clean(base) {
		return "", fmt.Errorf("path %q escapes staging directory", rel)
	}
	return full, nil
}
