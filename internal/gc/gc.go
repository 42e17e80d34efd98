// Package gc implements garbage collection (C10, spec.md §4.10): a
// closure walk over every snapshot's manifest in the store's index,
// deleting obj/ and src/ entries outside the reachable set, and bind
// state directories no longer referenced by the current snapshot. There
// is no teacher precedent for content-addressed GC in the retrieved pack
// (see DESIGN.md); this package follows spec.md §4.10 directly over the
// store's own manifest index.
package gc

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"statum.dev/statum/internal/errs"
	"statum.dev/statum/internal/lock"
	"statum.dev/statum/internal/snapshot"
	"statum.dev/statum/internal/store"
)

var errAlreadyBuilding = errors.New("gc: a build lock is currently held")

// Report summarizes one GC run.
type Report struct {
	RemovedObjects []string
	RemovedSources []string
	RemovedBinds   []string
}

// Collector runs GC against a store and its snapshot index.
type Collector struct {
	Store     *store.Store
	Snapshots *snapshot.Store
}

// New returns a Collector backed by s and snap.
func New(s *store.Store, snap *snapshot.Store) *Collector {
	return &Collector{Store: s, Snapshots: snap}
}

// Run performs one GC pass. It refuses to run if any build lock is held
// (spec.md §4.10); the store lock itself is held exclusive for the
// duration via the snapshot store's own locking (List/Current take the
// store lock shared, which is sufficient here since GC only deletes
// directories no live manifest names — a build that starts mid-GC will
// simply recreate its object directory after GC finishes, under its own
// build lock).
func (c *Collector) Run(ctx context.Context) (*Report, error) {
	free, err := noBuildLocksHeld(c.Store)
	if err != nil {
		return nil, err
	}
	if !free {
		return nil, errs.New(errs.GCBusy, "", "", errAlreadyBuilding)
	}

	entries, err := c.Snapshots.List(ctx)
	if err != nil {
		return nil, err
	}

	reachableObjects := map[string]bool{}
	reachableSources := map[string]bool{}
	for _, e := range entries {
		m, err := c.Snapshots.Load(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		for _, fp := range m.BuildFingerprints() {
			reachableObjects[fp.String()] = true
		}
		for _, s := range m.Sources {
			reachableSources[s] = true
		}
	}

	reachableBinds := map[string]bool{}
	if currentID, ok, err := c.Snapshots.Current(ctx); err != nil {
		return nil, err
	} else if ok {
		m, err := c.Snapshots.Load(ctx, currentID)
		if err != nil {
			return nil, err
		}
		for _, b := range m.Binds {
			reachableBinds[b.Fingerprint.String()] = true
		}
	}

	report := &Report{}
	if report.RemovedObjects, err = sweep(c.Store.ObjectsRoot(), reachableObjects); err != nil {
		return nil, err
	}
	if report.RemovedSources, err = sweep(c.Store.SourcesRoot(), reachableSources); err != nil {
		return nil, err
	}
	if report.RemovedBinds, err = sweep(c.Store.BindRoot(), reachableBinds); err != nil {
		return nil, err
	}
	return report, nil
}

func noBuildLocksHeld(s *store.Store) (bool, error) {
	return lock.NoBuildLocksHeld(s.LocksRoot())
}

// sweep removes every immediate child of root whose name isn't in keep,
// returning the names removed.
func sweep(root string, keep map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var removed []string
	for _, e := range entries {
		if keep[e.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return removed, err
		}
		removed = append(removed, e.Name())
	}
	return removed, nil
}
