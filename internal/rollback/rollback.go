// Package rollback implements the rollback coordinator (C8, spec.md
// §4.8): on a failed apply, it drives reverse actions against every bind
// effect committed so far, restoring as much of the prior snapshot's state
// as it can. Grounded on the pulumi SnapshotManager comment block
// (serialize mutations, best-effort reversal, never drop the original
// error) and the kubectl-atomic-apply apply.go backup/rollback shape
// (record prior state before mutating, restore on failure).
package rollback

import (
	"context"
	"fmt"

	"statum.dev/statum/internal/bind"
	"statum.dev/statum/internal/eval"
	"statum.dev/statum/internal/fingerprint"
	"statum.dev/statum/internal/plan"
	"statum.dev/statum/internal/snapshot"
)

// ProviderCtor reconstructs a bind's lifecycle spec from only its declared
// id and the provider name a manifest recorded for it. Mirrors
// apply.ProviderCtor's signature exactly (this package cannot import
// apply, which already imports rollback), for the same reason apply
// needs one: the bind being reversed here may belong to a declaration
// RollbackTo never evaluates at all.
type ProviderCtor func(bindID string) eval.BindSpec

// Committed records one bind action that was actually applied to the host
// before the apply failed, plus the context rollback needs to reverse it.
type Committed struct {
	Action plan.Action

	// Spec is the bind's declared lifecycle.
	Spec eval.BindSpec

	// Inputs is what Create/Update was invoked with for this action.
	Inputs eval.ResolvedInputs

	// Outputs is what this action produced (the bind's live outputs after
	// it ran), needed to destroy a newly created bind or to hand a
	// just-updated bind's outputs to Update as its oldOutputs.
	Outputs eval.Outputs

	// PriorInputs/PriorOutputs/PriorFingerprint are the prior snapshot's
	// recorded state for this bind id, used to restore it. Zero-valued
	// when the bind did not exist in the prior snapshot (it was newly
	// created this apply, so reversing it is a plain Destroy instead).
	PriorInputs      eval.ResolvedInputs
	PriorOutputs     eval.Outputs
	PriorFingerprint fingerprint.Digest
	HadPrior         bool
}

// Result reports how much of the reversal succeeded.
type Result struct {
	// Unreversed lists committed actions that could not be reversed.
	Unreversed []plan.Action
	// Errors accumulates one error per failed reversal, in the order
	// they were attempted. Never replaces the original apply error —
	// callers report both.
	Errors []error
	// RestoredCurrent reports whether the current pointer was moved back
	// to the prior snapshot id (only true when every reversal succeeded).
	RestoredCurrent bool
}

func (r *Result) ok() bool { return len(r.Errors) == 0 }

// Coordinator drives reverse actions against a store's bind driver and
// snapshot index.
type Coordinator struct {
	Binds     *bind.Driver
	Snapshots *snapshot.Store
}

// New returns a Coordinator backed by binds and snapshots.
func New(binds *bind.Driver, snapshots *snapshot.Store) *Coordinator {
	return &Coordinator{Binds: binds, Snapshots: snapshots}
}

// Rollback executes the inverse of each committed action in reverse order
// (committed is expected in the order actions were actually applied,
// i.e. topological order — reversing it approximates reverse-topological
// order without recomputing the graph). It is best-effort: a failed
// reversal is recorded and execution continues so the host converges as
// close to the prior state as possible (spec.md §4.8 step 3). On full
// success it advances the current pointer back to priorSnapshotID (or
// clears it if there was no prior snapshot).
func (c *Coordinator) Rollback(ctx context.Context, priorSnapshotID string, hasPriorSnapshot bool, committed []Committed) (*Result, error) {
	res := &Result{}

	for i := len(committed) - 1; i >= 0; i-- {
		item := committed[i]
		if err := c.reverse(ctx, item); err != nil {
			res.Unreversed = append(res.Unreversed, item.Action)
			res.Errors = append(res.Errors, fmt.Errorf("rollback %s %s: %w", item.Action.Kind, item.Action.BindID, err))
		}
	}

	if !res.ok() {
		return res, nil
	}

	if hasPriorSnapshot {
		if err := c.Snapshots.SetCurrent(ctx, priorSnapshotID); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("rollback: restore current pointer to %s: %w", priorSnapshotID, err))
			return res, nil
		}
	} else if err := c.Snapshots.ClearCurrent(ctx); err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("rollback: clear current pointer: %w", err))
		return res, nil
	}
	res.RestoredCurrent = true
	return res, nil
}

// RollbackTo drives current back to the manifest recorded under
// targetID, for the `rollback [id]` CLI verb (spec.md §6) rather than the
// automatic reversal Apply triggers on its own failure. It diffs the
// target manifest against whatever is current and synthesizes a
// Committed entry per differing bind, then reuses reverse exactly as a
// failed-apply rollback would:
//
//   - a bind present now but absent from the target is reversed like a
//     newly created bind (Destroy) — its current Outputs are on hand, so
//     this always succeeds;
//   - a bind absent now but present in the target, or present under a
//     different fingerprint, would need to be recreated/updated with the
//     target's original resolved inputs — but a manifest only ever
//     retains InputDigest, a one-way hash, for a bind once superseded, so
//     it cannot be replayed. These are synthesized with HadPrior left
//     false and surface as unreversed, same as apply.go's documented
//     limitation, rather than recreated with guessed-at inputs.
//
// On full success the current pointer moves to targetID.
func (c *Coordinator) RollbackTo(ctx context.Context, targetID string, providers map[string]ProviderCtor) (*Result, error) {
	currentID, hasCurrent, err := c.Snapshots.Current(ctx)
	if err != nil {
		return nil, err
	}
	current := &snapshot.Manifest{}
	if hasCurrent {
		current, err = c.Snapshots.Load(ctx, currentID)
		if err != nil {
			return nil, err
		}
	}
	target, err := c.Snapshots.Load(ctx, targetID)
	if err != nil {
		return nil, err
	}

	diff := plan.DiffManifests(target, current)

	var committed []Committed
	for _, bd := range diff.Binds {
		switch bd.Kind {
		case plan.BindAdded:
			rec, _ := current.BindByID(bd.ID)
			spec, _ := specFromProvider(providers, rec.Provider, bd.ID)
			committed = append(committed, Committed{
				Action:  plan.Action{Kind: plan.ActionCreateBind, BindID: bd.ID, BindFingerprint: bd.Fingerprint},
				Spec:    spec,
				Outputs: rec.Outputs,
			})
		case plan.BindRemoved:
			rec, _ := target.BindByID(bd.ID)
			spec, _ := specFromProvider(providers, rec.Provider, bd.ID)
			committed = append(committed, Committed{
				Action: plan.Action{Kind: plan.ActionDestroyBind, BindID: bd.ID, BindFingerprint: bd.PriorFingerprint},
				Spec:   spec,
			})
		case plan.BindChanged:
			rec, _ := current.BindByID(bd.ID)
			spec, _ := specFromProvider(providers, rec.Provider, bd.ID)
			committed = append(committed, Committed{
				Action:  plan.Action{Kind: plan.ActionUpdateBind, BindID: bd.ID, BindFingerprint: bd.Fingerprint},
				Spec:    spec,
				Outputs: rec.Outputs,
			})
		}
	}

	if len(committed) == 0 {
		if err := c.Snapshots.SetCurrent(ctx, targetID); err != nil {
			return nil, err
		}
		return &Result{RestoredCurrent: true}, nil
	}

	return c.Rollback(ctx, targetID, true, committed)
}

// specFromProvider resolves bindID's lifecycle spec through providers, or
// returns a spec whose thunks all fail with a descriptive error if the
// provider name is missing or unregistered. reverse always calls a
// synthesized action's Create/Update/Destroy unconditionally for
// ActionCreateBind (HadPrior doesn't gate that branch), so this can never
// hand it a nil thunk to panic on.
func specFromProvider(providers map[string]ProviderCtor, provider, bindID string) (eval.BindSpec, bool) {
	ctor, ok := providers[provider]
	if provider == "" || !ok {
		errMsg := fmt.Errorf("rollback: no provider registered for bind %q (provider %q)", bindID, provider)
		return eval.BindSpec{
			ID: bindID,
			Create: func(context.Context, eval.ResolvedInputs, eval.ActionCtx) (eval.Outputs, error) {
				return nil, errMsg
			},
			Update: func(context.Context, eval.Outputs, eval.ResolvedInputs, eval.ActionCtx) (eval.Outputs, error) {
				return nil, errMsg
			},
			Destroy: func(context.Context, eval.Outputs, eval.ActionCtx) error { return errMsg },
		}, false
	}
	return ctor(bindID), true
}

func (c *Coordinator) reverse(ctx context.Context, item Committed) error {
	switch item.Action.Kind {
	case plan.ActionCreateBind:
		// Newly created this apply: reversing it means destroying it.
		// The underlying store object (if any build fed it) is never
		// deleted here — GC reclaims unrooted objects separately.
		return c.Binds.Destroy(ctx, item.Action.BindID, item.Action.BindFingerprint, item.Spec, item.Outputs)

	case plan.ActionDestroyBind:
		// Destroyed this apply: restore it using the prior snapshot's
		// recorded inputs, re-running Create so the host effect exists
		// again under its prior fingerprint.
		if !item.HadPrior {
			return fmt.Errorf("no prior state recorded for bind %q", item.Action.BindID)
		}
		_, err := c.Binds.Create(ctx, item.Action.BindID, item.PriorFingerprint, item.Spec, item.PriorInputs)
		return err

	case plan.ActionUpdateBind:
		// Updated this apply: restore the prior fingerprint/outputs by
		// running Update backwards, from the new live outputs to the
		// prior inputs.
		if !item.HadPrior {
			return fmt.Errorf("no prior state recorded for bind %q", item.Action.BindID)
		}
		_, err := c.Binds.Update(ctx, item.Action.BindID, item.Action.BindFingerprint, item.PriorFingerprint, item.Spec, item.Outputs, item.PriorInputs)
		return err

	default:
		return fmt.Errorf("rollback: action kind %v has no host effect to reverse", item.Action.Kind)
	}
}
