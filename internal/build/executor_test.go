package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"statum.dev/statum/internal/edge"
	"statum.dev/statum/internal/eval"
	"statum.dev/statum/internal/fingerprint"
	"statum.dev/statum/internal/graph"
	"statum.dev/statum/internal/store"
)

func newTestExecutor(t *testing.T) (*Executor, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return NewExecutor(s, 4), s
}

func writeFileThunk(content string) eval.CreateThunk {
	return func(ctx context.Context, inputs eval.ResolvedInputs, actx eval.ActionCtx) (eval.Outputs, error) {
		path := filepath.Join(actx.Out(), "hello.txt")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, err
		}
		return eval.Outputs{"hello": "hello.txt"}, nil
	}
}

func TestRealizeRunsCreateOnce(t *testing.T) {
	x, _ := newTestExecutor(t)

	var calls int32
	thunk := func(ctx context.Context, inputs eval.ResolvedInputs, actx eval.ActionCtx) (eval.Outputs, error) {
		atomic.AddInt32(&calls, 1)
		return writeFileThunk("hello")(ctx, inputs, actx)
	}

	g := graph.New()
	in := edge.NewInputs()
	fp := fingerprint.OfString("echo-1.0.0")
	g.AddNode(graph.Build, "echo", fp)
	ordered, err := g.Order()
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	specs := map[string]eval.BuildSpec{"echo": {ID: "echo", Inputs: in, Create: thunk}}

	results, err := x.Realize(context.Background(), g, ordered, specs)
	if err != nil {
		t.Fatalf("Realize: %v", err)
	}
	outputs, ok := results[fp]
	if !ok {
		t.Fatalf("missing outputs for fingerprint")
	}
	data, err := os.ReadFile(outputs["hello"])
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}

	results2, err := x.Realize(context.Background(), g, ordered, specs)
	if err != nil {
		t.Fatalf("second Realize: %v", err)
	}
	if _, ok := results2[fp]; !ok {
		t.Fatalf("missing outputs on cache hit")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("create thunk ran %d times, want 1 (cache hit expected)", calls)
	}
}

func TestRealizeFailsBuildOnThunkError(t *testing.T) {
	x, _ := newTestExecutor(t)

	failing := func(ctx context.Context, inputs eval.ResolvedInputs, actx eval.ActionCtx) (eval.Outputs, error) {
		return nil, errBoom
	}

	g := graph.New()
	fp := fingerprint.OfString("failing-build")
	g.AddNode(graph.Build, "broken", fp)
	ordered, _ := g.Order()
	specs := map[string]eval.BuildSpec{"broken": {ID: "broken", Inputs: edge.NewInputs(), Create: failing}}

	_, err := x.Realize(context.Background(), g, ordered, specs)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "build_failed") {
		t.Fatalf("expected build_failed error, got %v", err)
	}
}

func TestRealizeWiresUpstreamOutputsAsInputs(t *testing.T) {
	x, _ := newTestExecutor(t)

	g := graph.New()
	upstreamFP := fingerprint.OfString("upstream")
	downstreamFP := fingerprint.OfString("downstream")
	upstream := g.AddNode(graph.Build, "upstream", upstreamFP)
	downstream := g.AddNode(graph.Build, "downstream", downstreamFP)
	g.AddDependency(downstream, upstream)

	ordered, err := g.Order()
	if err != nil {
		t.Fatalf("Order: %v", err)
	}

	var seenPath string
	downstreamInputs := edge.NewInputs()
	downstreamInputs.Set("upstream", edge.OfBuild(upstreamFP))

	specs := map[string]eval.BuildSpec{
		"upstream":   {ID: "upstream", Inputs: edge.NewInputs(), Create: writeFileThunk("upstream-content")},
		"downstream": {ID: "downstream", Inputs: downstreamInputs, Create: func(ctx context.Context, inputs eval.ResolvedInputs, actx eval.ActionCtx) (eval.Outputs, error) {
			in, ok := inputs["upstream"]
			if !ok {
				t.Fatalf("expected upstream input to be resolved")
			}
			seenPath = in.Outputs["hello"]
			return eval.Outputs{}, nil
		}},
	}

	if _, err := x.Realize(context.Background(), g, ordered, specs); err != nil {
		t.Fatalf("Realize: %v", err)
	}
	if seenPath == "" {
		t.Fatalf("expected downstream thunk to observe upstream's output path")
	}
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
