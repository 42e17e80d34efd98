package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"statum.dev/statum/internal/errs"
	"statum.dev/statum/internal/lock"
	"statum.dev/statum/internal/store"
)

// Store manages manifests, the snapshot index, and the current pointer.
// Writes to the index and current pointer are serialized by an exclusive
// store lock (spec.md §4.7); an in-process mutex serializes concurrent
// goroutines the same way a single owner goroutine would in the pulumi
// SnapshotManager's mutate() design, so two apply-adjacent calls within
// this process never interleave a read-modify-write on index.json.
type Store struct {
	s    *store.Store
	lock *lock.StoreLock
	mu   sync.Mutex
}

// Open returns a Store backed by s.
func Open(s *store.Store) *Store {
	return &Store{s: s, lock: lock.NewStoreLock(s.LockPath("store.lock"))}
}

// List returns the snapshot index in storage order (oldest first).
func (st *Store) List(ctx context.Context) ([]IndexEntry, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.lock.Shared(ctx); err != nil {
		return nil, err
	}
	defer st.lock.Unlock()

	idx, err := st.readIndex()
	if err != nil {
		return nil, err
	}
	return idx.Entries, nil
}

// Load reads and parses the manifest for id.
func (st *Store) Load(ctx context.Context, id string) (*Manifest, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.lock.Shared(ctx); err != nil {
		return nil, err
	}
	defer st.lock.Unlock()

	return st.readManifest(id)
}

func (st *Store) readManifest(id string) (*Manifest, error) {
	data, err := os.ReadFile(st.s.ManifestPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.SnapshotNotFound, "", "", fmt.Errorf("snapshot %q not found", id))
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.New(errs.StoreCorruption, "", "", fmt.Errorf("manifest %q: %w", id, err))
	}
	return &m, nil
}

// Write persists manifest as a new, immutable snapshot and appends it to
// the index. It does not advance the current pointer — callers do that
// explicitly via SetCurrent once every planned action has succeeded.
func (st *Store) Write(ctx context.Context, manifest *Manifest, configPath string, tags []string) (string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.lock.Exclusive(ctx); err != nil {
		return "", err
	}
	defer st.lock.Unlock()

	id := manifest.Digest().String()
	data, err := marshalIndent(manifest)
	if err != nil {
		return "", err
	}
	if err := store.WriteFileAtomic(st.s.ManifestPath(id), data, 0o444); err != nil {
		return "", fmt.Errorf("snapshot: write manifest: %w", err)
	}

	idx, err := st.readIndex()
	if err != nil {
		return "", err
	}
	if _, exists := idx.find(id); !exists {
		idx.append(IndexEntry{
			ID:         id,
			CreatedAt:  timeNow(),
			ConfigPath: configPath,
			BuildCount: len(manifest.Builds),
			BindCount:  len(manifest.Binds),
			Tags:       append([]string(nil), tags...),
		})
		if err := st.writeIndex(idx); err != nil {
			return "", err
		}
	}
	return id, nil
}

// Current returns the current snapshot id, or ok=false if no apply has
// ever succeeded.
func (st *Store) Current(ctx context.Context) (id string, ok bool, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.lock.Shared(ctx); err != nil {
		return "", false, err
	}
	defer st.lock.Unlock()

	return st.readCurrent()
}

func (st *Store) readCurrent() (string, bool, error) {
	data, err := os.ReadFile(st.s.CurrentPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	id := trimNewline(data)
	if id == "" {
		return "", false, nil
	}
	return id, true, nil
}

// SetCurrent atomically advances the current pointer to id. id must name a
// manifest already present in the store.
func (st *Store) SetCurrent(ctx context.Context, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.lock.Exclusive(ctx); err != nil {
		return err
	}
	defer st.lock.Unlock()

	if _, err := st.readManifest(id); err != nil {
		return err
	}
	return store.WriteFileAtomic(st.s.CurrentPath(), []byte(id+"\n"), 0o644)
}

// ClearCurrent removes the current pointer, as `destroy` does after
// reversing every bind.
func (st *Store) ClearCurrent(ctx context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.lock.Exclusive(ctx); err != nil {
		return err
	}
	defer st.lock.Unlock()

	err := os.Remove(st.s.CurrentPath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Delete removes a snapshot's manifest and index entry. Deleting the
// current snapshot is rejected.
func (st *Store) Delete(ctx context.Context, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.lock.Exclusive(ctx); err != nil {
		return err
	}
	defer st.lock.Unlock()

	current, ok, err := st.readCurrent()
	if err != nil {
		return err
	}
	if ok && current == id {
		return errs.New(errs.CannotDeleteCurrent, "", "", fmt.Errorf("snapshot %q is current", id))
	}

	idx, err := st.readIndex()
	if err != nil {
		return err
	}
	if !idx.remove(id) {
		return errs.New(errs.SnapshotNotFound, "", "", fmt.Errorf("snapshot %q not found", id))
	}
	if err := st.writeIndex(idx); err != nil {
		return err
	}
	return os.RemoveAll(st.s.SnapshotDir(id))
}

// UpdateTags replaces id's tag set.
func (st *Store) UpdateTags(ctx context.Context, id string, tags []string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.lock.Exclusive(ctx); err != nil {
		return err
	}
	defer st.lock.Unlock()

	idx, err := st.readIndex()
	if err != nil {
		return err
	}
	i, ok := idx.find(id)
	if !ok {
		return errs.New(errs.SnapshotNotFound, "", "", fmt.Errorf("snapshot %q not found", id))
	}
	idx.Entries[i].Tags = append([]string(nil), tags...)
	return st.writeIndex(idx)
}

func (st *Store) readIndex() (*Index, error) {
	data, err := os.ReadFile(st.s.IndexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &Index{}, nil
		}
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, errs.New(errs.StoreCorruption, "", "", fmt.Errorf("snapshot index: %w", err))
	}
	return &idx, nil
}

func (st *Store) writeIndex(idx *Index) error {
	data, err := marshalIndent(idx)
	if err != nil {
		return err
	}
	return store.WriteFileAtomic(st.s.IndexPath(), data, 0o644)
}

var timeNow = func() time.Time { return time.Now().UTC() }

func trimNewline(b []byte) string {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return string(b)
}
