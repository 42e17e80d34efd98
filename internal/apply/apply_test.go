package apply

import (
	"context"
	"errors"
	"testing"

	"statum.dev/statum/internal/edge"
	"statum.dev/statum/internal/eval"
	"statum.dev/statum/internal/store"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return New(s, 1, map[string]ProviderCtor{"fake": fakeProviderSpec}), s
}

func fakeProviderSpec(id string) eval.BindSpec {
	return eval.BindSpec{
		ID:       id,
		Create:   fakeCreate,
		Update:   fakeUpdate,
		Destroy:  fakeDestroy,
		Provider: "fake",
	}
}

func fakeCreate(ctx context.Context, inputs eval.ResolvedInputs, actx eval.ActionCtx) (eval.Outputs, error) {
	name := "unnamed"
	if in, ok := inputs["name"]; ok {
		if s, ok := in.Literal.(edge.StringValue); ok {
			name = string(s)
		}
	}
	return eval.Outputs{"name": name}, nil
}

func fakeUpdate(ctx context.Context, oldOutputs eval.Outputs, inputs eval.ResolvedInputs, actx eval.ActionCtx) (eval.Outputs, error) {
	return fakeCreate(ctx, inputs, actx)
}

func fakeDestroy(ctx context.Context, outputs eval.Outputs, actx eval.ActionCtx) error {
	return nil
}

func failingCreate(ctx context.Context, inputs eval.ResolvedInputs, actx eval.ActionCtx) (eval.Outputs, error) {
	return nil, errors.New("boom")
}

func namedBindInputs(name string) *edge.Inputs {
	in := edge.NewInputs()
	in.Set("name", edge.OfLiteral(edge.StringValue(name)))
	return in
}

func evalWithBind(id, name string) *eval.Evaluation {
	ev := eval.New(eval.HostFacts{OS: "linux"})
	spec := fakeProviderSpec(id)
	spec.Inputs = namedBindInputs(name)
	if _, err := ev.RegisterBind(spec); err != nil {
		panic(err)
	}
	return ev
}

func TestApplyFirstRunCreatesAndSnapshots(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ev := evalWithBind("greeting", "hello")

	res, err := o.Apply(context.Background(), ev, "config.toml", nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.SnapshotID == "" {
		t.Fatalf("expected a snapshot id on success")
	}
	if len(res.Plan.Actions) != 1 {
		t.Fatalf("expected exactly one action, got %+v", res.Plan.Actions)
	}

	manifest, err := o.Snapshots.Load(context.Background(), res.SnapshotID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rec, ok := manifest.BindByID("greeting")
	if !ok {
		t.Fatalf("expected bind %q in manifest", "greeting")
	}
	if rec.Outputs["name"] != "hello" {
		t.Fatalf("expected outputs[name]=hello, got %+v", rec.Outputs)
	}
	if rec.Provider != "fake" {
		t.Fatalf("expected provider %q recorded, got %q", "fake", rec.Provider)
	}
}

func TestApplySecondRunUpdatesChangedBind(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := o.Apply(ctx, evalWithBind("greeting", "hello"), "config.toml", nil); err != nil {
		t.Fatalf("first Apply: %v", err)
	}

	res, err := o.Apply(ctx, evalWithBind("greeting", "goodbye"), "config.toml", nil)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	manifest, err := o.Snapshots.Load(ctx, res.SnapshotID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rec, ok := manifest.BindByID("greeting")
	if !ok {
		t.Fatalf("expected bind %q to still be present", "greeting")
	}
	if rec.Outputs["name"] != "goodbye" {
		t.Fatalf("expected updated output, got %+v", rec.Outputs)
	}
}

func TestApplyRemovedBindIsDestroyedViaProviderReconstruction(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := o.Apply(ctx, evalWithBind("greeting", "hello"), "config.toml", nil); err != nil {
		t.Fatalf("first Apply: %v", err)
	}

	emptyEv := eval.New(eval.HostFacts{OS: "linux"})
	res, err := o.Apply(ctx, emptyEv, "config.toml", nil)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	manifest, err := o.Snapshots.Load(ctx, res.SnapshotID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := manifest.BindByID("greeting"); ok {
		t.Fatalf("expected bind %q to be gone from the new manifest", "greeting")
	}
}

func TestApplyFailureTriggersRollback(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := o.Apply(ctx, evalWithBind("greeting", "hello"), "config.toml", nil); err != nil {
		t.Fatalf("first Apply: %v", err)
	}

	ev := eval.New(eval.HostFacts{OS: "linux"})
	okSpec := fakeProviderSpec("greeting")
	okSpec.Inputs = namedBindInputs("hello") // unchanged, won't be touched
	if _, err := ev.RegisterBind(okSpec); err != nil {
		t.Fatalf("RegisterBind ok: %v", err)
	}
	failSpec := eval.BindSpec{
		ID:       "breaks",
		Inputs:   edge.NewInputs(),
		Create:   failingCreate,
		Provider: "fake",
	}
	if _, err := ev.RegisterBind(failSpec); err != nil {
		t.Fatalf("RegisterBind fail: %v", err)
	}

	res, err := o.Apply(ctx, ev, "config.toml", nil)
	if err == nil {
		t.Fatalf("expected Apply to report the create failure")
	}
	if res == nil {
		t.Fatalf("expected a Result even on failure")
	}
	if res.RollbackInfo == nil {
		t.Fatalf("expected rollback info to be populated")
	}

	current, ok, err := o.Snapshots.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !ok {
		t.Fatalf("expected current pointer to still point at the first snapshot")
	}
	manifest, err := o.Snapshots.Load(ctx, current)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := manifest.BindByID("breaks"); ok {
		t.Fatalf("expected the failed bind to not be part of current state")
	}
}

func TestStatusDoesNotMutateState(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	p, err := o.Status(ctx, evalWithBind("greeting", "hello"))
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(p.Actions) != 1 {
		t.Fatalf("expected one planned action, got %+v", p.Actions)
	}
	if _, ok, _ := o.Snapshots.Current(ctx); ok {
		t.Fatalf("expected Status to leave the current pointer untouched")
	}
}

func TestDestroyReversesEveryBind(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := o.Apply(ctx, evalWithBind("greeting", "hello"), "config.toml", nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	res, err := o.Destroy(ctx, eval.HostFacts{OS: "linux"})
	if err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	manifest, err := o.Snapshots.Load(ctx, res.SnapshotID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(manifest.Binds) != 0 {
		t.Fatalf("expected destroy to leave no binds, got %+v", manifest.Binds)
	}
}
