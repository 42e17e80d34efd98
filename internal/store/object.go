package store

import (
	"fmt"
	"os"

	"statum.dev/statum/internal/fingerprint"
)

// ObjectComplete reports whether fp's store object exists and has been
// fully written (its .complete sentinel is present). A cache hit is exactly
// this condition.
func (s *Store) ObjectComplete(fp fingerprint.Digest) bool {
	_, err := os.Stat(s.CompleteSentinel(fp))
	return err == nil
}

// CommitObject promotes a completed staging directory to obj/<fp>/: it
// renames staging into place, writes the .complete sentinel, and marks the
// directory immutable (read-only on POSIX; a marker file on Windows, since
// Windows directory permissions don't give us the same guarantee).
//
// CommitObject must only be called while the caller holds fp's build lock.
func (s *Store) CommitObject(staging string, fp fingerprint.Digest) error {
	dest := s.ObjectDir(fp)
	if _, err := os.Stat(dest); err == nil {
		// Another builder already completed this fingerprint (lock
		// rendezvous); discard our staging copy and treat it as a hit.
		return s.DiscardStaging(staging)
	}
	if err := os.Rename(staging, dest); err != nil {
		return fmt.Errorf("store: promote staging to object dir: %w", err)
	}
	if err := os.WriteFile(s.CompleteSentinel(fp), []byte{}, 0o444); err != nil {
		return fmt.Errorf("store: write completion sentinel: %w", err)
	}
	if err := markImmutable(dest); err != nil {
		return fmt.Errorf("store: mark object immutable: %w", err)
	}
	return nil
}

// DiscardStaging removes a staging directory that did not produce a
// committed object, e.g. because the build failed or was superseded.
func (s *Store) DiscardStaging(staging string) error {
	return os.RemoveAll(staging)
}

// OutputPaths validates that every path in outputs resolves to a file that
// exists within staging, per the build executor's output-validation step.
// The returned paths stay relative to staging unchanged — staging is later
// promoted in place to become the object directory, so a path relative to
// one is relative to the other.
func OutputPaths(staging string, outputs map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(outputs))
	for name, rel := range outputs {
		full, err := containedPath(staging, rel)
		if err != nil {
			return nil, fmt.Errorf("store: output %q: %w", name, err)
		}
		if _, err := os.Stat(full); err != nil {
			return nil, fmt.Errorf("store: output %q does not exist in staging: %w", name, err)
		}
		resolved[name] = rel
	}
	return resolved, nil
}
