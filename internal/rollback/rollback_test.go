package rollback

import (
	"context"
	"fmt"
	"testing"

	"statum.dev/statum/internal/bind"
	"statum.dev/statum/internal/eval"
	"statum.dev/statum/internal/fingerprint"
	"statum.dev/statum/internal/plan"
	"statum.dev/statum/internal/snapshot"
	"statum.dev/statum/internal/store"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return New(bind.NewDriver(s), snapshot.Open(s)), s
}

func recordingSpec(t *testing.T, log *[]string) eval.BindSpec {
	return eval.BindSpec{
		ID: "svc",
		Create: func(ctx context.Context, inputs eval.ResolvedInputs, actx eval.ActionCtx) (eval.Outputs, error) {
			*log = append(*log, "create:"+inputs["marker"].Path)
			return eval.Outputs{"marker": inputs["marker"].Path}, nil
		},
		Update: func(ctx context.Context, oldOutputs eval.Outputs, inputs eval.ResolvedInputs, actx eval.ActionCtx) (eval.Outputs, error) {
			*log = append(*log, "update:"+inputs["marker"].Path)
			return eval.Outputs{"marker": inputs["marker"].Path}, nil
		},
		Destroy: func(ctx context.Context, outputs eval.Outputs, actx eval.ActionCtx) error {
			*log = append(*log, "destroy:"+outputs["marker"])
			return nil
		},
	}
}

func TestRollbackDestroysNewlyCreatedBinds(t *testing.T) {
	c, _ := newTestCoordinator(t)
	var log []string
	spec := recordingSpec(t, &log)

	outputs, err := c.Binds.Create(context.Background(), "svc", fingerprint.OfString("v1"), spec, eval.ResolvedInputs{"marker": {Path: "a"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	committed := []Committed{{
		Action:  plan.Action{Kind: plan.ActionCreateBind, BindID: "svc", BindFingerprint: fingerprint.OfString("v1")},
		Spec:    spec,
		Outputs: outputs,
	}}

	res, err := c.Rollback(context.Background(), "", false, committed)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if len(log) != 2 || log[0] != "create:a" || log[1] != "destroy:a" {
		t.Fatalf("unexpected call log: %v", log)
	}
	if !res.RestoredCurrent {
		t.Fatalf("expected current pointer to be cleared")
	}
}

func TestRollbackRestoresDestroyedBindFromPriorInputs(t *testing.T) {
	c, _ := newTestCoordinator(t)
	var log []string
	spec := recordingSpec(t, &log)

	committed := []Committed{{
		Action:           plan.Action{Kind: plan.ActionDestroyBind, BindID: "svc", BindFingerprint: fingerprint.OfString("v1")},
		Spec:             spec,
		HadPrior:         true,
		PriorInputs:      eval.ResolvedInputs{"marker": {Path: "prior"}},
		PriorFingerprint: fingerprint.OfString("v1"),
	}}

	res, err := c.Rollback(context.Background(), "", false, committed)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if len(log) != 1 || log[0] != "create:prior" {
		t.Fatalf("unexpected call log: %v", log)
	}

	state, ok, err := c.Binds.LoadState(fingerprint.OfString("v1"))
	if err != nil || !ok {
		t.Fatalf("expected restored state: ok=%v err=%v", ok, err)
	}
	if state.Outputs["marker"] != "prior" {
		t.Fatalf("unexpected restored outputs: %+v", state.Outputs)
	}
}

func TestRollbackRestoresUpdatedBindViaUpdate(t *testing.T) {
	c, _ := newTestCoordinator(t)
	var log []string
	spec := recordingSpec(t, &log)

	newFP := fingerprint.OfString("v2")
	newOutputs, err := c.Binds.Create(context.Background(), "svc", newFP, spec, eval.ResolvedInputs{"marker": {Path: "new"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	log = nil // the initial create above isn't part of what we're rolling back

	committed := []Committed{{
		Action:           plan.Action{Kind: plan.ActionUpdateBind, BindID: "svc", BindFingerprint: newFP},
		Spec:             spec,
		Outputs:          newOutputs,
		HadPrior:         true,
		PriorInputs:      eval.ResolvedInputs{"marker": {Path: "old"}},
		PriorFingerprint: fingerprint.OfString("v1"),
	}}

	res, err := c.Rollback(context.Background(), "", false, committed)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if len(log) != 1 || log[0] != "update:old" {
		t.Fatalf("unexpected call log: %v", log)
	}
}

func testProviders(t *testing.T, log *[]string) map[string]ProviderCtor {
	t.Helper()
	return map[string]ProviderCtor{
		"recording": func(bindID string) eval.BindSpec { return recordingSpec(t, log) },
	}
}

func TestRollbackToWithNoDiffOnlyMovesCurrent(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	target := &snapshot.Manifest{Binds: []snapshot.BindRecord{
		{ID: "svc", Fingerprint: fingerprint.OfString("v1"), Provider: "recording", Outputs: map[string]string{"marker": "a"}},
	}}
	targetID, err := c.Snapshots.Write(ctx, target, "cfg.toml", nil)
	if err != nil {
		t.Fatalf("Write target: %v", err)
	}
	if err := c.Snapshots.SetCurrent(ctx, targetID); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}

	var log []string
	res, err := c.RollbackTo(ctx, targetID, testProviders(t, &log))
	if err != nil {
		t.Fatalf("RollbackTo: %v", err)
	}
	if !res.RestoredCurrent || len(res.Errors) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(log) != 0 {
		t.Fatalf("expected no bind calls for an identical manifest, got %v", log)
	}
	currentID, ok, err := c.Snapshots.Current(ctx)
	if err != nil || !ok || currentID != targetID {
		t.Fatalf("expected current=%s, got %s ok=%v err=%v", targetID, currentID, ok, err)
	}
}

func TestRollbackToDestroysABindAddedSinceTarget(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	target := &snapshot.Manifest{}
	targetID, err := c.Snapshots.Write(ctx, target, "cfg.toml", nil)
	if err != nil {
		t.Fatalf("Write target: %v", err)
	}

	var log []string
	spec := recordingSpec(t, &log)
	outputs, err := c.Binds.Create(ctx, "svc", fingerprint.OfString("v1"), spec, eval.ResolvedInputs{"marker": {Path: "a"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	current := &snapshot.Manifest{Binds: []snapshot.BindRecord{
		{ID: "svc", Fingerprint: fingerprint.OfString("v1"), Provider: "recording", Outputs: outputs},
	}}
	currentID, err := c.Snapshots.Write(ctx, current, "cfg.toml", nil)
	if err != nil {
		t.Fatalf("Write current: %v", err)
	}
	if err := c.Snapshots.SetCurrent(ctx, currentID); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	log = nil // the setup Create above isn't part of what RollbackTo should drive

	res, err := c.RollbackTo(ctx, targetID, testProviders(t, &log))
	if err != nil {
		t.Fatalf("RollbackTo: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if !res.RestoredCurrent {
		t.Fatalf("expected current pointer restored")
	}
	if len(log) != 1 || log[0] != "destroy:a" {
		t.Fatalf("expected the bind to be destroyed, got %v", log)
	}
	currentID, ok, err := c.Snapshots.Current(ctx)
	if err != nil || !ok || currentID != targetID {
		t.Fatalf("expected current=%s, got %s ok=%v err=%v", targetID, currentID, ok, err)
	}
}

func TestRollbackToReportsBindRemovedSinceTargetAsUnreversed(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	// svc existed in target but was destroyed since; only its one-way
	// InputDigest survives, so RollbackTo cannot replay its creation.
	target := &snapshot.Manifest{Binds: []snapshot.BindRecord{
		{ID: "svc", Fingerprint: fingerprint.OfString("v1"), Provider: "recording", Outputs: map[string]string{"marker": "a"}},
	}}
	targetID, err := c.Snapshots.Write(ctx, target, "cfg.toml", nil)
	if err != nil {
		t.Fatalf("Write target: %v", err)
	}
	current := &snapshot.Manifest{}
	currentID, err := c.Snapshots.Write(ctx, current, "cfg.toml", nil)
	if err != nil {
		t.Fatalf("Write current: %v", err)
	}
	if err := c.Snapshots.SetCurrent(ctx, currentID); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}

	var log []string
	res, err := c.RollbackTo(ctx, targetID, testProviders(t, &log))
	if err != nil {
		t.Fatalf("RollbackTo: %v", err)
	}
	if len(res.Errors) != 1 || len(res.Unreversed) != 1 {
		t.Fatalf("expected exactly one unreversed action, got %+v", res)
	}
	if res.Unreversed[0].BindID != "svc" {
		t.Fatalf("expected svc to be the unreversed bind, got %+v", res.Unreversed)
	}
	if res.RestoredCurrent {
		t.Fatalf("current pointer should not move when a reversal failed")
	}
}

func TestRollbackAccumulatesErrorsAndKeepsGoing(t *testing.T) {
	c, _ := newTestCoordinator(t)
	var log []string
	spec := recordingSpec(t, &log)
	failing := spec
	failing.Destroy = func(ctx context.Context, outputs eval.Outputs, actx eval.ActionCtx) error {
		return fmt.Errorf("boom")
	}

	outputsA, err := c.Binds.Create(context.Background(), "a", fingerprint.OfString("a1"), spec, eval.ResolvedInputs{"marker": {Path: "a"}})
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	outputsB, err := c.Binds.Create(context.Background(), "b", fingerprint.OfString("b1"), spec, eval.ResolvedInputs{"marker": {Path: "b"}})
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}

	committed := []Committed{
		{Action: plan.Action{Kind: plan.ActionCreateBind, BindID: "a", BindFingerprint: fingerprint.OfString("a1")}, Spec: failing, Outputs: outputsA},
		{Action: plan.Action{Kind: plan.ActionCreateBind, BindID: "b", BindFingerprint: fingerprint.OfString("b1")}, Spec: spec, Outputs: outputsB},
	}

	res, err := c.Rollback(context.Background(), "", false, committed)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(res.Errors) != 1 || len(res.Unreversed) != 1 {
		t.Fatalf("expected exactly one unreversed action, got errors=%v unreversed=%v", res.Errors, res.Unreversed)
	}
	if res.Unreversed[0].BindID != "a" {
		t.Fatalf("expected bind a to be the unreversed one, got %+v", res.Unreversed)
	}
	if res.RestoredCurrent {
		t.Fatalf("current pointer should not move when a reversal failed")
	}
}
