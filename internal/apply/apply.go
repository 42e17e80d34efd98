// Package apply implements the orchestrator that ties evaluation (C3),
// planning (C4), the build executor (C5), the bind driver (C6), the
// snapshot store (C7), and the rollback coordinator (C8) into the single
// `apply` operation spec.md §2 ("Flow of one apply") describes end to
// end, plus the read-only `status`/`diff` operations that share its
// planning half. There is no single teacher file that wires a pipeline
// this shape; grounded on the flow spec.md §2 and §5 spell out directly,
// expressed with the same "small struct of collaborators, one exported
// entry point per verb" shape internal/rollback and internal/gc already
// use in this tree.
package apply

import (
	"context"
	"fmt"

	"statum.dev/statum/internal/bind"
	"statum.dev/statum/internal/build"
	"statum.dev/statum/internal/edge"
	"statum.dev/statum/internal/errs"
	"statum.dev/statum/internal/eval"
	"statum.dev/statum/internal/fingerprint"
	"statum.dev/statum/internal/graph"
	"statum.dev/statum/internal/plan"
	"statum.dev/statum/internal/rollback"
	"statum.dev/statum/internal/snapshot"
	"statum.dev/statum/internal/store"
)

// ProviderCtor reconstructs a bind provider's lifecycle spec from only its
// declared id, for a bind the current declaration no longer registers at
// all (spec.md §4.4 step 5b: "destroy removed binds").
type ProviderCtor func(bindID string) eval.BindSpec

// Orchestrator wires the store-backed collaborators an apply needs.
type Orchestrator struct {
	Store     *store.Store
	Snapshots *snapshot.Store
	Binds     *bind.Driver
	Builds    *build.Executor
	Rollback  *rollback.Coordinator

	// Providers resolves a bind's lifecycle spec by provider name when the
	// bind is no longer present in the new evaluation (a pure removal).
	// Keyed by eval.BindSpec.Provider, e.g. "file", "dockerservice".
	Providers map[string]ProviderCtor
}

// New wires an Orchestrator around s, bounding build parallelism to
// workers (0 = host parallelism, per build.NewExecutor).
func New(s *store.Store, workers int, providers map[string]ProviderCtor) *Orchestrator {
	snap := snapshot.Open(s)
	binds := bind.NewDriver(s)
	return &Orchestrator{
		Store:     s,
		Snapshots: snap,
		Binds:     binds,
		Builds:    build.NewExecutor(s, workers),
		Rollback:  rollback.New(binds, snap),
		Providers: providers,
	}
}

// Result reports the outcome of one Apply or Destroy.
type Result struct {
	Plan         *plan.Plan
	SnapshotID   string
	RolledBack   bool
	RollbackInfo *rollback.Result
}

// planState bundles the graph-order and prior-manifest context both
// Apply and Status/Diff derive from an evaluation, so neither duplicates
// the other's graph/diff computation.
type planState struct {
	ordered       []*graph.Node
	prior         *snapshot.Manifest
	priorID       string
	hasPrior      bool
	plan          *plan.Plan
	bindDiffByID  map[string]plan.BindDiff
}

func (o *Orchestrator) derivePlan(ctx context.Context, ev *eval.Evaluation) (*planState, error) {
	ordered, err := ev.Graph().Order()
	if err != nil {
		return nil, err
	}

	var prior *snapshot.Manifest
	priorID, hasPrior, err := o.Snapshots.Current(ctx)
	if err != nil {
		return nil, err
	}
	if hasPrior {
		prior, err = o.Snapshots.Load(ctx, priorID)
		if err != nil {
			return nil, err
		}
	}

	p := plan.Build(ordered, ev.HasUpdate(), prior)
	bindDiffByID := make(map[string]plan.BindDiff, len(p.Diff.Binds))
	for _, bd := range p.Diff.Binds {
		bindDiffByID[bd.ID] = bd
	}

	return &planState{
		ordered:      ordered,
		prior:        prior,
		priorID:      priorID,
		hasPrior:     hasPrior,
		plan:         p,
		bindDiffByID: bindDiffByID,
	}, nil
}

// Status returns the plan (diff + ordered actions) for ev against the
// current snapshot, without applying anything.
func (o *Orchestrator) Status(ctx context.Context, ev *eval.Evaluation) (*plan.Plan, error) {
	ps, err := o.derivePlan(ctx, ev)
	if err != nil {
		return nil, err
	}
	return ps.plan, nil
}

// Apply runs the full reconciliation: realize builds, walk the action
// list applying bind create/update/destroy in order, and on success
// write a new snapshot and advance the current pointer. On the first
// fatal bind-action failure it stops forward progress and hands
// everything committed so far to the rollback coordinator (spec.md §2,
// §4.8).
func (o *Orchestrator) Apply(ctx context.Context, ev *eval.Evaluation, configPath string, tags []string) (*Result, error) {
	ps, err := o.derivePlan(ctx, ev)
	if err != nil {
		return nil, err
	}

	buildSpecs := map[string]eval.BuildSpec{}
	for _, n := range ps.ordered {
		if n.Kind != graph.Build {
			continue
		}
		if spec, ok := ev.BuildSpec(n.DeclID); ok {
			buildSpecs[n.DeclID] = spec
		}
	}
	outputsByFP, err := o.Builds.Realize(ctx, ev.Graph(), ps.ordered, buildSpecs)
	if err != nil {
		return nil, err
	}

	bindOutputs := map[string]eval.Outputs{}
	for id, rec := range indexPriorBinds(ps.prior) {
		bindOutputs[id] = rec.Outputs
	}

	var committed []rollback.Committed
	applyErr := o.runActions(ctx, ev, ps, outputsByFP, bindOutputs, &committed)
	if applyErr != nil {
		res := &Result{Plan: ps.plan}
		rres, rerr := o.Rollback.Rollback(ctx, ps.priorID, ps.hasPrior, committed)
		if rerr != nil {
			return res, fmt.Errorf("apply failed: %w (rollback also failed to run: %v)", applyErr, rerr)
		}
		res.RollbackInfo = rres
		res.RolledBack = len(rres.Errors) == 0
		return res, applyErr
	}

	manifest, err := o.buildManifest(ev, ps, outputsByFP, bindOutputs)
	if err != nil {
		return nil, err
	}
	id, err := o.Snapshots.Write(ctx, manifest, configPath, tags)
	if err != nil {
		return nil, err
	}
	if err := o.Snapshots.SetCurrent(ctx, id); err != nil {
		return nil, err
	}
	return &Result{Plan: ps.plan, SnapshotID: id}, nil
}

// Destroy reverses every bind in the current snapshot (reverse manifest
// order, spec.md §4.4 step 5b) and clears the current pointer, without
// requiring a new declaration — equivalent to applying against an empty
// evaluation.
func (o *Orchestrator) Destroy(ctx context.Context, facts eval.HostFacts) (*Result, error) {
	res, err := o.Apply(ctx, eval.New(facts), "", nil)
	if err != nil {
		return res, err
	}
	if err := o.Snapshots.ClearCurrent(ctx); err != nil {
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) runActions(ctx context.Context, ev *eval.Evaluation, ps *planState, outputsByFP map[fingerprint.Digest]eval.Outputs, bindOutputs map[string]eval.Outputs, committed *[]rollback.Committed) error {
	for _, action := range ps.plan.Actions {
		if action.Kind == plan.ActionRealizeBuild {
			continue // already realized above
		}

		spec, ok := o.specFor(ev, ps.prior, action.BindID)
		if !ok {
			return errs.Wrapf(errs.UnresolvedInput, action.BindID, "", "apply: no bind spec available for %q", action.BindID)
		}
		priorRec, _ := priorBindRecord(ps.prior, action.BindID)

		switch action.Kind {
		case plan.ActionCreateBind:
			inputs, err := resolveBindInputs(ev, action.BindID, outputsByFP)
			if err != nil {
				return err
			}
			outputs, err := o.Binds.Create(ctx, action.BindID, action.BindFingerprint, spec, inputs)
			if err != nil {
				return err
			}
			bindOutputs[action.BindID] = outputs
			*committed = append(*committed, rollback.Committed{
				Action: action, Spec: spec, Inputs: inputs, Outputs: outputs,
			})

		case plan.ActionDestroyBind:
			st, found, err := o.Binds.LoadState(action.BindFingerprint)
			if err != nil {
				return err
			}
			if !found {
				continue // already absent; nothing to reverse either
			}
			if err := o.Binds.Destroy(ctx, action.BindID, action.BindFingerprint, spec, st.Outputs); err != nil {
				return err
			}
			delete(bindOutputs, action.BindID)
			// PriorInputs/HadPrior are deliberately left unset: only
			// InputDigest (a one-way hash) survives a bind's prior
			// fingerprint once superseded, so the resolved input values
			// that originally produced it cannot be replayed to recreate
			// it verbatim. Rolling this action back is reported as
			// unreversed rather than recreated with the wrong inputs.
			*committed = append(*committed, rollback.Committed{
				Action: action, Spec: spec, Outputs: st.Outputs,
			})

		case plan.ActionUpdateBind:
			bd := ps.bindDiffByID[action.BindID]
			oldFP := bd.PriorFingerprint
			oldState, found, err := o.Binds.LoadState(oldFP)
			if err != nil {
				return err
			}
			var oldOutputs eval.Outputs
			if found {
				oldOutputs = oldState.Outputs
			}
			inputs, err := resolveBindInputs(ev, action.BindID, outputsByFP)
			if err != nil {
				return err
			}
			outputs, err := o.Binds.Update(ctx, action.BindID, oldFP, action.BindFingerprint, spec, oldOutputs, inputs)
			if err != nil {
				return err
			}
			bindOutputs[action.BindID] = outputs
			// PriorInputs is deliberately left unset: the prior
			// declaration's resolved input values aren't retained once
			// superseded (only InputDigest, a one-way hash, survives in
			// the manifest), so a rollback of this action cannot replay
			// the old inputs and is reported as unreversed rather than
			// guessed at with the new ones.
			*committed = append(*committed, rollback.Committed{
				Action: action, Spec: spec, Inputs: inputs, Outputs: outputs,
				PriorFingerprint: priorRec.Fingerprint, PriorOutputs: priorRec.Outputs,
			})
		}
	}
	return nil
}

// specFor resolves the lifecycle spec for a bind id: the current
// evaluation's registration if it still declares that id, otherwise a
// reconstruction from the prior manifest's recorded provider name (a
// pure removal, spec.md §4.4 step 5b).
func (o *Orchestrator) specFor(ev *eval.Evaluation, prior *snapshot.Manifest, bindID string) (eval.BindSpec, bool) {
	if spec, ok := ev.BindSpec(bindID); ok {
		return spec, true
	}
	rec, ok := priorBindRecord(prior, bindID)
	if !ok || rec.Provider == "" {
		return eval.BindSpec{}, false
	}
	ctor, ok := o.Providers[rec.Provider]
	if !ok {
		return eval.BindSpec{}, false
	}
	return ctor(bindID), true
}

func resolveBindInputs(ev *eval.Evaluation, bindID string, outputsByFP map[fingerprint.Digest]eval.Outputs) (eval.ResolvedInputs, error) {
	spec, ok := ev.BindSpec(bindID)
	if !ok {
		return eval.ResolvedInputs{}, nil
	}
	return build.ResolveInputs(spec.Inputs, outputsByFP)
}

func indexPriorBinds(prior *snapshot.Manifest) map[string]snapshot.BindRecord {
	out := map[string]snapshot.BindRecord{}
	if prior == nil {
		return out
	}
	for _, rec := range prior.Binds {
		out[rec.ID] = rec
	}
	return out
}

func priorBindRecord(prior *snapshot.Manifest, bindID string) (snapshot.BindRecord, bool) {
	if prior == nil {
		return snapshot.BindRecord{}, false
	}
	return prior.BindByID(bindID)
}

// buildManifest assembles the manifest for a successful apply: every live
// build fingerprint, every live bind's final state, and the declared
// source hashes reachable from the graph (the GC roots spec.md §4.10
// names).
func (o *Orchestrator) buildManifest(ev *eval.Evaluation, ps *planState, outputsByFP map[fingerprint.Digest]eval.Outputs, bindOutputs map[string]eval.Outputs) (*snapshot.Manifest, error) {
	m := &snapshot.Manifest{}

	seenBuild := map[fingerprint.Digest]bool{}
	sourceSet := map[string]bool{}

	for _, n := range ps.ordered {
		switch n.Kind {
		case graph.Build:
			if seenBuild[n.Fingerprint] {
				continue
			}
			seenBuild[n.Fingerprint] = true
			m.Builds = append(m.Builds, snapshot.BuildRecord{Fingerprint: n.Fingerprint})
			if spec, ok := ev.BuildSpec(n.DeclID); ok {
				collectSources(spec.Inputs, sourceSet)
			}

		case graph.Bind:
			spec, ok := ev.BindSpec(n.DeclID)
			if !ok {
				continue
			}
			collectSources(spec.Inputs, sourceSet)

			bindInputs := spec.Inputs
			if bindInputs == nil {
				bindInputs = edge.NewInputs()
			}
			inputDigest, err := bindInputs.Digest()
			if err != nil {
				return nil, err
			}
			outputs := bindOutputs[n.DeclID]
			if outputs == nil {
				if rec, ok := priorBindRecord(ps.prior, n.DeclID); ok && rec.Fingerprint == n.Fingerprint {
					outputs = rec.Outputs
				}
			}
			m.Binds = append(m.Binds, snapshot.BindRecord{
				ID:          n.DeclID,
				Fingerprint: n.Fingerprint,
				Outputs:     outputs,
				InputDigest: inputDigest,
				Provider:    spec.Provider,
			})
		}
	}

	m.Sources = make([]string, 0, len(sourceSet))
	for s := range sourceSet {
		m.Sources = append(m.Sources, s)
	}
	return m, nil
}

func collectSources(inputs *edge.Inputs, into map[string]bool) {
	if inputs == nil {
		return
	}
	for _, name := range inputs.Names() {
		e, ok := inputs.Get(name)
		if !ok {
			continue
		}
		switch e.Kind {
		case edge.RemoteSource:
			if e.ContentHash != "" {
				into[e.ContentHash] = true
			}
		case edge.GitRef:
			if e.GitCommit != "" {
				into[e.GitCommit] = true
			}
		}
	}
}
