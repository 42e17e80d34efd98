// Package bind implements the bind lifecycle driver (C6, spec.md §4.6):
// create/update/destroy/check against a bind's declared thunks, with
// state persisted to bind/<fp>/state.json after each successful phase.
package bind

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"statum.dev/statum/internal/errs"
	"statum.dev/statum/internal/eval"
	"statum.dev/statum/internal/fingerprint"
	"statum.dev/statum/internal/sandbox"
	"statum.dev/statum/internal/store"
)

// State is one bind's persisted record: its declared id, the fingerprint
// its current outputs were produced under, and those outputs.
type State struct {
	ID          string             `json:"id"`
	Fingerprint fingerprint.Digest `json:"fingerprint"`
	Outputs     eval.Outputs       `json:"outputs"`
}

// Driver runs bind lifecycle phases against a store.
type Driver struct {
	Store *store.Store
}

// NewDriver returns a Driver backed by s.
func NewDriver(s *store.Store) *Driver {
	return &Driver{Store: s}
}

// LoadState reads the persisted state for fp, reporting ok=false if the
// bind has no recorded state (Absent).
func (d *Driver) LoadState(fp fingerprint.Digest) (*State, bool, error) {
	data, err := os.ReadFile(d.Store.BindStatePath(fp))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, false, errs.New(errs.StoreCorruption, st.ID, fp.String(), fmt.Errorf("bind: parse state: %w", err))
	}
	return &st, true, nil
}

func (d *Driver) saveState(bindID string, fp fingerprint.Digest, outputs eval.Outputs) error {
	st := State{ID: bindID, Fingerprint: fp, Outputs: outputs}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return store.WriteFileAtomic(d.Store.BindStatePath(fp), append(data, '\n'), 0o644)
}

func (d *Driver) clearState(fp fingerprint.Digest) error {
	err := os.RemoveAll(d.Store.BindStateDir(fp))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Create runs spec.Create and, on success, persists {fp, outputs}. If the
// thunk errors, no state is written — the bind remains Absent.
func (d *Driver) Create(ctx context.Context, bindID string, fp fingerprint.Digest, spec eval.BindSpec, inputs eval.ResolvedInputs) (eval.Outputs, error) {
	workDir, cleanup, err := bindWorkDir(bindID)
	if err != nil {
		return nil, errs.New(errs.BindCreateFailed, bindID, fp.String(), err)
	}
	defer cleanup()

	actx := sandbox.NewBindCtx(workDir, bindID, fp.Short())
	outputs, err := spec.Create(ctx, inputs, actx)
	if err != nil {
		return nil, errs.New(errs.BindCreateFailed, bindID, fp.String(), err)
	}
	if err := d.saveState(bindID, fp, outputs); err != nil {
		return nil, errs.New(errs.BindCreateFailed, bindID, fp.String(), fmt.Errorf("bind: persist state: %w", err))
	}
	return outputs, nil
}

// Update runs spec.Update against the bind's previously recorded outputs
// and persists the new fingerprint/outputs pair, removing the prior
// fingerprint's state file once the new one is safely written.
func (d *Driver) Update(ctx context.Context, bindID string, oldFP, newFP fingerprint.Digest, spec eval.BindSpec, oldOutputs eval.Outputs, inputs eval.ResolvedInputs) (eval.Outputs, error) {
	workDir, cleanup, err := bindWorkDir(bindID)
	if err != nil {
		return nil, errs.New(errs.BindUpdateFailed, bindID, newFP.String(), err)
	}
	defer cleanup()

	actx := sandbox.NewBindCtx(workDir, bindID, newFP.Short())
	outputs, err := spec.Update(ctx, oldOutputs, inputs, actx)
	if err != nil {
		return nil, errs.New(errs.BindUpdateFailed, bindID, newFP.String(), err)
	}
	if err := d.saveState(bindID, newFP, outputs); err != nil {
		return nil, errs.New(errs.BindUpdateFailed, bindID, newFP.String(), fmt.Errorf("bind: persist state: %w", err))
	}
	if oldFP != newFP {
		_ = d.clearState(oldFP)
	}
	return outputs, nil
}

// Destroy runs spec.Destroy and clears the bind's persisted state on
// success. Implementations are expected to be idempotent; the driver
// itself does not special-case an already-absent bind (callers that know
// a bind is Absent should skip calling Destroy entirely).
func (d *Driver) Destroy(ctx context.Context, bindID string, fp fingerprint.Digest, spec eval.BindSpec, outputs eval.Outputs) error {
	workDir, cleanup, err := bindWorkDir(bindID)
	if err != nil {
		return errs.New(errs.BindDestroyFailed, bindID, fp.String(), err)
	}
	defer cleanup()

	actx := sandbox.NewBindCtx(workDir, bindID, fp.Short())
	if err := spec.Destroy(ctx, outputs, actx); err != nil {
		return errs.New(errs.BindDestroyFailed, bindID, fp.String(), err)
	}
	return d.clearState(fp)
}

// Check reports drift for a bind that declares a check thunk. Binds
// without one report no drift; check never mutates host state and is
// never invoked by apply (spec.md §4.6).
func (d *Driver) Check(ctx context.Context, bindID string, fp fingerprint.Digest, spec eval.BindSpec, outputs eval.Outputs, inputs eval.ResolvedInputs) (drifted bool, message string, err error) {
	if spec.Check == nil {
		return false, "", nil
	}
	workDir, cleanup, err := bindWorkDir(bindID)
	if err != nil {
		return false, "", err
	}
	defer cleanup()

	actx := sandbox.NewBindCtx(workDir, bindID, fp.Short())
	return spec.Check(ctx, outputs, inputs, actx)
}

func bindWorkDir(bindID string) (dir string, cleanup func(), err error) {
	dir, err = os.MkdirTemp("", "statum-bind-"+sanitizeID(bindID)+"-*")
	if err != nil {
		return "", nil, fmt.Errorf("bind: allocate work dir: %w", err)
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

func sanitizeID(id string) string {
	out := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "bind"
	}
	return string(out)
}
