// Package declfile loads a declaration file into an *eval.Evaluation.
// spec.md treats the script interpreter that evaluates a user's
// declaration as an external collaborator ("we specify only the value
// shape it must produce") — this package is not that interpreter. It
// decodes a static TOML value shape straight into register_build/
// register_bind calls: no control flow, no user-defined logic, just the
// same mapping-of-named-inputs-to-edges shape internal/eval already
// accepts, read with github.com/pelletier/go-toml/v2 the way
// internal/config reads the engine's own settings file.
package declfile

import (
	"fmt"
	"os"
	"runtime"

	"github.com/pelletier/go-toml/v2"

	"statum.dev/statum/agents/shared_ref/docker"
	"statum.dev/statum/internal/bind/providers/dockerservice"
	"statum.dev/statum/internal/bind/providers/file"
	"statum.dev/statum/internal/build/providers/content"
	"statum.dev/statum/internal/edge"
	"statum.dev/statum/internal/errs"
	"statum.dev/statum/internal/eval"
)

// Input is one named input's declared value. Exactly one field should be
// set; String/Int/Bool map to a Literal edge, Path to a Path edge,
// BuildRef to a BuildRef edge resolved against a build declared earlier
// in the same file.
type Input struct {
	String   *string `toml:"string,omitempty"`
	Int      *int64  `toml:"int,omitempty"`
	Bool     *bool   `toml:"bool,omitempty"`
	Path     string  `toml:"path,omitempty"`
	BuildRef string  `toml:"build_ref,omitempty"`
}

// Node is one build or bind entry. Provider is meaningful only for
// binds; Kind only for builds (the only registered kind is "content",
// internal/build/providers/content).
type Node struct {
	ID       string           `toml:"id"`
	Provider string           `toml:"provider,omitempty"`
	Kind     string           `toml:"kind,omitempty"`
	Inputs   map[string]Input `toml:"inputs,omitempty"`
}

// Declaration is the top-level file shape: an array of builds evaluated
// before an array of binds, so a bind's build_ref input can always
// resolve against an already-registered build.
type Declaration struct {
	Builds []Node `toml:"build"`
	Binds  []Node `toml:"bind"`
}

// BindProviderCtor mirrors the shape bind providers expose, for binds
// that need something beyond a bare id (dockerservice needs a Dialer).
type BindProviderCtor func(id string) eval.BindSpec

// DefaultBindProviders is the provider registry Load uses unless the
// caller supplies its own, covering both providers C15 ships.
func DefaultBindProviders() map[string]BindProviderCtor {
	return map[string]BindProviderCtor{
		"file": file.Spec,
		"dockerservice": func(id string) eval.BindSpec {
			return dockerservice.Spec(id, docker.NewClient)
		},
	}
}

// BuildProviderCtor mirrors BindProviderCtor for builds.
type BuildProviderCtor func(id string) eval.BuildSpec

// DefaultBuildProviders registers the one build kind this repo ships
// without a script interpreter.
func DefaultBuildProviders() map[string]BuildProviderCtor {
	return map[string]BuildProviderCtor{
		"content": content.Spec,
	}
}

// Load reads path and registers every build then every bind it declares
// against a fresh evaluation, using facts as the host facts binds/builds
// observe through ActionCtx's capability set.
func Load(path string, facts eval.HostFacts, bindProviders map[string]BindProviderCtor, buildProviders map[string]BuildProviderCtor) (*eval.Evaluation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.ConfigInvalid, "", "", fmt.Errorf("declfile: read %s: %w", path, err))
	}
	var decl Declaration
	if err := toml.Unmarshal(data, &decl); err != nil {
		return nil, errs.New(errs.ConfigInvalid, "", "", fmt.Errorf("declfile: parse %s: %w", path, err))
	}

	ev := eval.New(facts)
	buildRefs := map[string]eval.BuildRef{}

	for _, n := range decl.Builds {
		ctor, ok := buildProviders[n.Kind]
		if !ok {
			return nil, errs.New(errs.ConfigInvalid, n.ID, "", fmt.Errorf("declfile: unknown build kind %q", n.Kind))
		}
		spec := ctor(n.ID)
		spec.Inputs, err = toEdgeInputs(n.Inputs, buildRefs)
		if err != nil {
			return nil, errs.New(errs.ConfigInvalid, n.ID, "", err)
		}
		ref, err := ev.RegisterBuild(spec)
		if err != nil {
			return nil, err
		}
		buildRefs[n.ID] = ref
	}

	for _, n := range decl.Binds {
		ctor, ok := bindProviders[n.Provider]
		if !ok {
			return nil, errs.New(errs.ConfigInvalid, n.ID, "", fmt.Errorf("declfile: unknown bind provider %q", n.Provider))
		}
		spec := ctor(n.ID)
		spec.Inputs, err = toEdgeInputs(n.Inputs, buildRefs)
		if err != nil {
			return nil, errs.New(errs.ConfigInvalid, n.ID, "", err)
		}
		if _, err := ev.RegisterBind(spec); err != nil {
			return nil, err
		}
	}

	return ev, nil
}

func toEdgeInputs(decls map[string]Input, buildRefs map[string]eval.BuildRef) (*edge.Inputs, error) {
	in := edge.NewInputs()
	for name, d := range decls {
		e, err := toEdge(name, d, buildRefs)
		if err != nil {
			return nil, err
		}
		in.Set(name, e)
	}
	return in, nil
}

func toEdge(name string, d Input, buildRefs map[string]eval.BuildRef) (edge.Edge, error) {
	switch {
	case d.String != nil:
		return edge.OfLiteral(edge.StringValue(*d.String)), nil
	case d.Int != nil:
		return edge.OfLiteral(edge.IntValue(*d.Int)), nil
	case d.Bool != nil:
		return edge.OfLiteral(edge.BoolValue(*d.Bool)), nil
	case d.Path != "":
		return edge.OfPath(d.Path), nil
	case d.BuildRef != "":
		ref, ok := buildRefs[d.BuildRef]
		if !ok {
			return edge.Edge{}, fmt.Errorf("declfile: input %q references unknown build %q", name, d.BuildRef)
		}
		return ref.Edge(), nil
	default:
		return edge.Edge{}, fmt.Errorf("declfile: input %q declares no value", name)
	}
}

// HostFacts derives the host facts capability set from the running
// process, the same way cmd/statum wires real apply/destroy/status
// calls (tests construct eval.HostFacts by hand instead).
func HostFacts() eval.HostFacts {
	return eval.HostFacts{
		OS:         runtime.GOOS,
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
		IsElevated: os.Geteuid() == 0,
		EnvLookup: func(key string) (string, bool) {
			return os.LookupEnv(key)
		},
	}
}
