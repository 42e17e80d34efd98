// Package eval implements the evaluation bridge (C3, spec.md §4.3): the
// two capability operations an external script evaluator calls to
// register build and bind nodes, and the host facts / env capability set
// it may consult while doing so. The core never calls into the evaluator;
// the evaluator only calls in through this package.
package eval

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"statum.dev/statum/internal/edge"
	"statum.dev/statum/internal/errs"
	"statum.dev/statum/internal/fingerprint"
	"statum.dev/statum/internal/graph"
)

// ScriptKind selects the interpreter ActionCtx.Script invokes, per
// spec.md §4.9 and §9 ("Cross-platform shell diversity").
type ScriptKind string

const (
	ScriptShell ScriptKind = "shell"
	ScriptCmd   ScriptKind = "cmd"
	ScriptBash  ScriptKind = "bash"
)

// ExecSpec is one ActionCtx.Exec call's parameters. Env is the complete
// environment the child receives beyond PATH: empty by default on POSIX,
// and on Windows only joined with inherited system variables when
// InheritEnv is set (spec.md §4.3/§4.9: the core does not forward host
// env to sandboxed children unless explicitly requested).
type ExecSpec struct {
	Bin        string
	Args       []string
	Env        map[string]string
	Cwd        string
	Timeout    time.Duration
	InheritEnv bool
}

// ScriptSpec is one ActionCtx.Script call's parameters.
type ScriptSpec struct {
	Kind       ScriptKind
	Body       string
	Name       string
	Env        map[string]string
	Cwd        string
	Timeout    time.Duration
	InheritEnv bool
}

// ActionCtx is the capability surface a thunk may use to affect the host.
// internal/sandbox provides the implementation; this package only depends
// on the interface so thunks can be captured before a sandbox exists.
type ActionCtx interface {
	Exec(ctx context.Context, spec ExecSpec) (stdout string, err error)
	Script(ctx context.Context, spec ScriptSpec) (stdout string, err error)
	// Out is the staging directory for a build thunk; empty for bind
	// thunks, which get a process-private temp directory instead (the
	// sandbox implementation manages that directory's lifetime).
	Out() string
}

// ResolvedInput is the concrete value a thunk receives for one declared
// input name, after the coordinator resolves its edge against live store
// state. Exactly one field is populated, matching the edge's Kind.
type ResolvedInput struct {
	Literal edge.Value
	Path    string
	Outputs map[string]string // upstream build's outputs, for BuildRef edges
	Source  string            // declared URL of a RemoteSource, or repository URL of a GitRef; not fetched
}

// ResolvedInputs is the mapping passed to a thunk, keyed by declared input
// name.
type ResolvedInputs map[string]ResolvedInput

// Outputs is the mapping a create/update thunk returns: name -> path
// (build) or name -> arbitrary string payload (bind).
type Outputs map[string]string

// CreateThunk establishes a build's outputs or a bind's effect.
type CreateThunk func(ctx context.Context, inputs ResolvedInputs, actx ActionCtx) (Outputs, error)

// UpdateThunk replaces a bind's effect in place, given its previously
// recorded outputs.
type UpdateThunk func(ctx context.Context, oldOutputs Outputs, inputs ResolvedInputs, actx ActionCtx) (Outputs, error)

// DestroyThunk reverses a bind's effect. Implementations must be
// idempotent: redriving against already-absent state is a no-op.
type DestroyThunk func(ctx context.Context, outputs Outputs, actx ActionCtx) error

// CheckThunk reports drift between recorded outputs and observed host
// state. It must not mutate the host.
type CheckThunk func(ctx context.Context, outputs Outputs, inputs ResolvedInputs, actx ActionCtx) (drifted bool, message string, err error)

// BuildSpec is the registration payload for register_build.
type BuildSpec struct {
	// ID is a human hint; it need not be unique across builds (identity
	// is the fingerprint), but evaluators conventionally make it unique
	// for readable diagnostics.
	ID     string
	Inputs *edge.Inputs
	Create CreateThunk
	// ThunkDigest is the digest over the create thunk's source bytes, as
	// captured by the evaluator at declaration time (spec.md §4.1).
	ThunkDigest fingerprint.Digest
}

// BindSpec is the registration payload for register_bind.
type BindSpec struct {
	ID          string
	Inputs      *edge.Inputs
	Create      CreateThunk
	Update      UpdateThunk
	Destroy     DestroyThunk
	Check       CheckThunk
	ThunkDigest fingerprint.Digest

	// Provider names the bind provider package that produced this spec
	// (e.g. "file", "dockerservice"). The snapshot manifest records it
	// against the bind's id so a later apply can reconstruct the same
	// BindSpec to destroy a bind the new declaration no longer registers
	// at all, without keeping the evaluator that declared it alive.
	Provider string
}

// BuildRef is the handle register_build returns, usable as an input edge
// in later registrations.
type BuildRef struct {
	declID      string
	fingerprint fingerprint.Digest
}

func (r BuildRef) DeclID() string                  { return r.declID }
func (r BuildRef) Fingerprint() fingerprint.Digest  { return r.fingerprint }
func (r BuildRef) Edge() edge.Edge                  { return edge.OfBuild(r.fingerprint) }

// BindRef is the handle register_bind returns. Binds are not normally
// wired as other nodes' inputs (their "outputs" are host effects, not
// artifacts) but the handle is exposed for evaluators that want to
// sequence a bind after another bind completes by declaring a pseudo
// input edge.
type BindRef struct {
	declID      string
	fingerprint fingerprint.Digest
}

func (r BindRef) DeclID() string                 { return r.declID }
func (r BindRef) Fingerprint() fingerprint.Digest { return r.fingerprint }
func (r BindRef) Edge() edge.Edge                 { return edge.OfBuild(r.fingerprint) }

// HostFacts are the read-only facts spec.md §4.3 and §9 ("Global sys
// capability") require the bridge to expose, threaded explicitly rather
// than read from process-wide mutable state.
type HostFacts struct {
	OS         string
	Platform   string
	IsElevated bool
	EnvLookup  func(key string) (string, bool)
}

// PathJoin and PathBasename round out the explicit "sys" capability set
// spec.md §9 calls for: path.join and path.basename, available to
// evaluators without reaching into the standard library's os-specific
// behavior directly.
func PathJoin(elem ...string) string {
	return filepath.Join(elem...)
}

func PathBasename(path string) string {
	return filepath.Base(path)
}

type buildEntry struct {
	node *graph.Node
	spec BuildSpec
}

type bindEntry struct {
	node *graph.Node
	spec BindSpec
}

// Evaluation accumulates the graph of build and bind nodes an evaluator
// registers for one declaration. It is not safe for concurrent use from
// multiple goroutines without external synchronization, matching the
// evaluator's own single-threaded execution model (spec.md §5:
// "Evaluation (C3) runs synchronously before planning").
type Evaluation struct {
	mu     sync.Mutex
	g      *graph.Graph
	byFP   map[fingerprint.Digest]*graph.Node
	builds map[string]*buildEntry
	binds  map[string]*bindEntry
	Facts  HostFacts
}

// New starts an empty evaluation with the given host facts.
func New(facts HostFacts) *Evaluation {
	return &Evaluation{
		g:      graph.New(),
		byFP:   make(map[fingerprint.Digest]*graph.Node),
		builds: make(map[string]*buildEntry),
		binds:  make(map[string]*bindEntry),
		Facts:  facts,
	}
}

// RegisterBuild fingerprints spec and adds it to the graph, wiring a
// dependency edge for every input that references an upstream build or
// bind.
func (e *Evaluation) RegisterBuild(spec BuildSpec) (BuildRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fp, err := e.fingerprintNode(graph.Build, spec.ID, spec.Inputs, spec.ThunkDigest)
	if err != nil {
		return BuildRef{}, err
	}
	node := e.g.AddNode(graph.Build, spec.ID, fp)
	e.wireDependencies(node, spec.Inputs)
	e.byFP[fp] = node
	e.builds[spec.ID] = &buildEntry{node: node, spec: spec}
	return BuildRef{declID: spec.ID, fingerprint: fp}, nil
}

// RegisterBind fingerprints spec and adds it to the graph the same way.
func (e *Evaluation) RegisterBind(spec BindSpec) (BindRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if spec.ID == "" {
		return BindRef{}, errs.New(errs.UnresolvedInput, "", "", fmt.Errorf("eval: bind registration requires a non-empty id"))
	}
	fp, err := e.fingerprintNode(graph.Bind, spec.ID, spec.Inputs, spec.ThunkDigest)
	if err != nil {
		return BindRef{}, err
	}
	node := e.g.AddNode(graph.Bind, spec.ID, fp)
	e.wireDependencies(node, spec.Inputs)
	e.byFP[fp] = node
	e.binds[spec.ID] = &bindEntry{node: node, spec: spec}
	return BindRef{declID: spec.ID, fingerprint: fp}, nil
}

func (e *Evaluation) fingerprintNode(kind graph.Kind, id string, inputs *edge.Inputs, thunkDigest fingerprint.Digest) (fingerprint.Digest, error) {
	if inputs == nil {
		inputs = edge.NewInputs()
	}
	inputsDigest, err := inputs.Digest()
	if err != nil {
		return fingerprint.Digest{}, errs.New(errs.UnresolvedInput, id, "", err)
	}
	b := fingerprint.New().
		String(string(kind)).
		String(id).
		Digest(inputsDigest).
		Digest(thunkDigest)
	return b.Sum(), nil
}

// wireDependencies adds a graph edge from every upstream node an input
// references to node, so the planner orders node after its dependencies.
func (e *Evaluation) wireDependencies(node *graph.Node, inputs *edge.Inputs) {
	if inputs == nil {
		return
	}
	for _, name := range inputs.Names() {
		in, ok := inputs.Get(name)
		if !ok || in.Kind != edge.BuildRef {
			continue
		}
		if dep, ok := e.byFP[in.UpstreamFingerprint]; ok {
			e.g.AddDependency(node, dep)
		}
	}
}

// Graph returns the accumulated dependency graph, ready for graph.Order.
func (e *Evaluation) Graph() *graph.Graph {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g
}

// HasUpdate reports, per the plan package's contract, which registered
// binds declared an update thunk.
func (e *Evaluation) HasUpdate() map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]bool, len(e.binds))
	for id, entry := range e.binds {
		out[id] = entry.spec.Update != nil
	}
	return out
}

// BuildSpec returns the registered build spec for id.
func (e *Evaluation) BuildSpec(id string) (BuildSpec, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.builds[id]
	if !ok {
		return BuildSpec{}, false
	}
	return entry.spec, true
}

// BindSpec returns the registered bind spec for id.
func (e *Evaluation) BindSpec(id string) (BindSpec, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.binds[id]
	if !ok {
		return BindSpec{}, false
	}
	return entry.spec, true
}
