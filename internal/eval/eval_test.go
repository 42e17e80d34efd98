package eval

import (
	"context"
	"testing"

	"statum.dev/statum/internal/edge"
	"statum.dev/statum/internal/fingerprint"
)

func noopCreate(ctx context.Context, inputs ResolvedInputs, actx ActionCtx) (Outputs, error) {
	return Outputs{}, nil
}

func noopUpdate(ctx context.Context, oldOutputs Outputs, inputs ResolvedInputs, actx ActionCtx) (Outputs, error) {
	return oldOutputs, nil
}

func TestRegisterBuildIsFingerprintStableAcrossEquivalentInputs(t *testing.T) {
	newEval := func() *Evaluation { return New(HostFacts{OS: "linux"}) }

	build := func(e *Evaluation) BuildRef {
		in := edge.NewInputs()
		in.Set("version", edge.OfLiteral(edge.StringValue("1.0.0")))
		ref, err := e.RegisterBuild(BuildSpec{ID: "echo", Inputs: in, Create: noopCreate})
		if err != nil {
			t.Fatalf("RegisterBuild: %v", err)
		}
		return ref
	}

	a := build(newEval())
	b := build(newEval())
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("expected identical fingerprints for equivalent declarations")
	}
}

func TestRegisterBuildWithDifferentThunkDigestChangesFingerprint(t *testing.T) {
	e := newEvalHelper(t)
	in := edge.NewInputs()

	a, err := e.RegisterBuild(BuildSpec{ID: "a", Inputs: in, Create: noopCreate, ThunkDigest: fp("v1")})
	if err != nil {
		t.Fatalf("RegisterBuild a: %v", err)
	}
	b, err := e.RegisterBuild(BuildSpec{ID: "b", Inputs: in, Create: noopCreate, ThunkDigest: fp("v2")})
	if err != nil {
		t.Fatalf("RegisterBuild b: %v", err)
	}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("expected different fingerprints for different thunk digests")
	}
}

func TestRegisterBindWiresDependencyOnUpstreamBuild(t *testing.T) {
	e := newEvalHelper(t)

	buildRef, err := e.RegisterBuild(BuildSpec{ID: "echo", Inputs: edge.NewInputs(), Create: noopCreate})
	if err != nil {
		t.Fatalf("RegisterBuild: %v", err)
	}

	in := edge.NewInputs()
	in.Set("build", buildRef.Edge())
	_, err = e.RegisterBind(BindSpec{ID: "file", Inputs: in, Create: noopCreate})
	if err != nil {
		t.Fatalf("RegisterBind: %v", err)
	}

	order, err := e.Graph().Order()
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	pos := map[string]int{}
	for i, n := range order {
		pos[n.Kind.String()+":"+n.DeclID] = i
	}
	if !(pos["build:echo"] < pos["bind:file"]) {
		t.Fatalf("expected build to precede bind in order: %+v", pos)
	}
}

func TestRegisterBindRejectsEmptyID(t *testing.T) {
	e := newEvalHelper(t)
	_, err := e.RegisterBind(BindSpec{ID: "", Inputs: edge.NewInputs(), Create: noopCreate})
	if err == nil {
		t.Fatalf("expected error for empty bind id")
	}
}

func TestHasUpdateReflectsDeclaredThunks(t *testing.T) {
	e := newEvalHelper(t)
	if _, err := e.RegisterBind(BindSpec{ID: "with-update", Inputs: edge.NewInputs(), Create: noopCreate, Update: noopUpdate}); err != nil {
		t.Fatalf("RegisterBind: %v", err)
	}
	if _, err := e.RegisterBind(BindSpec{ID: "without-update", Inputs: edge.NewInputs(), Create: noopCreate}); err != nil {
		t.Fatalf("RegisterBind: %v", err)
	}
	hasUpdate := e.HasUpdate()
	if !hasUpdate["with-update"] || hasUpdate["without-update"] {
		t.Fatalf("unexpected HasUpdate result: %+v", hasUpdate)
	}
}

func newEvalHelper(t *testing.T) *Evaluation {
	t.Helper()
	return New(HostFacts{OS: "linux", Platform: "linux/amd64"})
}

func fp(s string) fingerprint.Digest { return fingerprint.OfString(s) }
