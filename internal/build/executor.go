// Package build implements the build executor (C5, spec.md §4.5):
// realize(), the fingerprint-memoized, lock-guarded, sandboxed algorithm
// that turns a build node into a committed store object, dispatched over
// a bounded worker pool the way an errgroup-backed pipeline schedules
// independent package builds (other_examples' distri batch builder).
package build

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"statum.dev/statum/internal/errs"
	"statum.dev/statum/internal/eval"
	"statum.dev/statum/internal/fingerprint"
	"statum.dev/statum/internal/graph"
	"statum.dev/statum/internal/lock"
	"statum.dev/statum/internal/sandbox"
	"statum.dev/statum/internal/store"
)

// outputsManifestName is the metadata file written alongside a build's
// outputs inside its store object directory, so a cache hit can recover
// the outputs mapping without re-running create.
const outputsManifestName = ".outputs.json"

// Executor realizes build nodes against a store.
type Executor struct {
	Store   *store.Store
	Workers int
}

// NewExecutor returns an Executor bounded to workers concurrent
// realizations; workers <= 0 defaults to host parallelism (spec.md §5).
func NewExecutor(s *store.Store, workers int) *Executor {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Executor{Store: s, Workers: workers}
}

// Realize runs realize() for every build node in orderedNodes (as
// produced by graph.Order), honoring the ordering guarantee that a build
// begins only after every upstream build it depends on has produced
// outputs. It returns each realized build's outputs keyed by fingerprint.
func (x *Executor) Realize(ctx context.Context, g *graph.Graph, orderedNodes []*graph.Node, specs map[string]eval.BuildSpec) (map[fingerprint.Digest]eval.Outputs, error) {
	results := make(map[fingerprint.Digest]eval.Outputs)
	var mu sync.Mutex

	ready := make(map[int64]chan struct{})
	for _, n := range orderedNodes {
		if n.Kind == graph.Build {
			ready[n.ID()] = make(chan struct{})
		}
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(x.Workers)

	for _, n := range orderedNodes {
		if n.Kind != graph.Build {
			continue
		}
		n := n
		deps := g.DependenciesOf(n)

		grp.Go(func() error {
			for _, dep := range deps {
				ch, ok := ready[dep.ID()]
				if !ok {
					continue // dep is a bind or otherwise not a build gate
				}
				select {
				case <-ch:
				case <-gctx.Done():
					return gctx.Err()
				}
			}

			spec, ok := specs[n.DeclID]
			if !ok {
				return errs.Wrapf(errs.UnresolvedInput, n.DeclID, n.Fingerprint.String(), "build: no registered spec for %q", n.DeclID)
			}

			mu.Lock()
			snapshot := make(map[fingerprint.Digest]eval.Outputs, len(results))
			for k, v := range results {
				snapshot[k] = v
			}
			mu.Unlock()

			resolved, err := resolveInputs(spec.Inputs, snapshot)
			if err != nil {
				return err
			}

			outputs, err := x.realizeOne(gctx, n, spec, resolved)
			if err != nil {
				return err
			}

			mu.Lock()
			results[n.Fingerprint] = outputs
			mu.Unlock()
			close(ready[n.ID()])
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// realizeOne implements spec.md §4.5's nine-step algorithm for a single
// build node.
func (x *Executor) realizeOne(ctx context.Context, n *graph.Node, spec eval.BuildSpec, inputs eval.ResolvedInputs) (eval.Outputs, error) {
	fp := n.Fingerprint

	if x.Store.ObjectComplete(fp) {
		return x.cachedOutputs(fp)
	}

	bl := lock.NewBuildLock(x.Store.LockPath("build-"+fp.String()), fp)
	if err := bl.Acquire(ctx, 0); err != nil {
		return nil, err
	}
	defer bl.Release()

	// Rendezvous: another process may have completed this fingerprint
	// while we waited for the lock.
	if x.Store.ObjectComplete(fp) {
		return x.cachedOutputs(fp)
	}

	staging, err := x.Store.StagingDir(fp.Short())
	if err != nil {
		return nil, errs.New(errs.BuildFailed, n.DeclID, fp.String(), fmt.Errorf("build: allocate staging dir: %w", err))
	}

	actx := sandbox.NewBuildCtx(staging, n.DeclID, fp.Short())
	outputs, err := spec.Create(ctx, inputs, actx)
	if err != nil {
		_ = x.Store.DiscardStaging(staging)
		return nil, errs.New(errs.BuildFailed, n.DeclID, fp.String(), fmt.Errorf("build: create thunk: %w", err))
	}

	if _, err := store.OutputPaths(staging, outputs); err != nil {
		_ = x.Store.DiscardStaging(staging)
		return nil, errs.New(errs.BuildFailed, n.DeclID, fp.String(), fmt.Errorf("build: validate outputs: %w", err))
	}

	manifest, err := json.Marshal(outputs)
	if err != nil {
		_ = x.Store.DiscardStaging(staging)
		return nil, errs.New(errs.BuildFailed, n.DeclID, fp.String(), fmt.Errorf("build: encode outputs manifest: %w", err))
	}
	if err := os.WriteFile(filepath.Join(staging, outputsManifestName), manifest, 0o444); err != nil {
		_ = x.Store.DiscardStaging(staging)
		return nil, errs.New(errs.BuildFailed, n.DeclID, fp.String(), fmt.Errorf("build: write outputs manifest: %w", err))
	}

	if err := x.Store.CommitObject(staging, fp); err != nil {
		return nil, errs.New(errs.BuildFailed, n.DeclID, fp.String(), fmt.Errorf("build: commit object: %w", err))
	}

	return rebaseOutputs(outputs, x.Store.ObjectDir(fp)), nil
}

// cachedOutputs reads back the outputs manifest committed alongside an
// already-complete object directory — a cache hit never re-runs create.
func (x *Executor) cachedOutputs(fp fingerprint.Digest) (eval.Outputs, error) {
	objDir := x.Store.ObjectDir(fp)
	data, err := os.ReadFile(filepath.Join(objDir, outputsManifestName))
	if err != nil {
		return nil, errs.New(errs.StoreCorruption, "", fp.String(), fmt.Errorf("build: read outputs manifest: %w", err))
	}
	var outputs eval.Outputs
	if err := json.Unmarshal(data, &outputs); err != nil {
		return nil, errs.New(errs.StoreCorruption, "", fp.String(), fmt.Errorf("build: parse outputs manifest: %w", err))
	}
	return rebaseOutputs(outputs, objDir), nil
}

func rebaseOutputs(outputs eval.Outputs, objectDir string) eval.Outputs {
	out := make(eval.Outputs, len(outputs))
	for name, rel := range outputs {
		out[name] = objectDir + "/" + rel
	}
	return out
}
