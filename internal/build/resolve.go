package build

import (
	"fmt"

	"statum.dev/statum/internal/edge"
	"statum.dev/statum/internal/errs"
	"statum.dev/statum/internal/eval"
	"statum.dev/statum/internal/fingerprint"
)

// resolveInputs turns a node's declared input edges into the concrete
// values a thunk receives. Build-ref edges resolve against outputsByFP,
// which the caller guarantees already holds every upstream build's
// outputs (the execution order enforces this). Remote-source and git
// edges are not fetched here — fetch/extract capabilities are external
// collaborators per spec.md §1 — the thunk receives the declared URL
// (for a git edge, the repository URL; the commit is not passed) and
// invokes its own fetch capability through ActionCtx.
// ResolveInputs is the exported entry point apply (C-apply) uses to
// resolve a bind's declared inputs against the build outputs map Realize
// produced, the same resolution realizeOne applies internally to build
// inputs.
func ResolveInputs(inputs *edge.Inputs, outputsByFP map[fingerprint.Digest]eval.Outputs) (eval.ResolvedInputs, error) {
	return resolveInputs(inputs, outputsByFP)
}

func resolveInputs(inputs *edge.Inputs, outputsByFP map[fingerprint.Digest]eval.Outputs) (eval.ResolvedInputs, error) {
	if inputs == nil {
		return eval.ResolvedInputs{}, nil
	}
	out := make(eval.ResolvedInputs, inputs.Len())
	for _, name := range inputs.Names() {
		e, _ := inputs.Get(name)
		switch e.Kind {
		case edge.Literal:
			out[name] = eval.ResolvedInput{Literal: e.Literal}
		case edge.Path:
			out[name] = eval.ResolvedInput{Path: e.PathValue}
		case edge.BuildRef:
			outputs, ok := outputsByFP[e.UpstreamFingerprint]
			if !ok {
				return nil, errs.New(errs.UnresolvedInput, "", e.UpstreamFingerprint.String(),
					fmt.Errorf("build: input %q references an unrealized build", name))
			}
			out[name] = eval.ResolvedInput{Outputs: outputs}
		case edge.RemoteSource:
			out[name] = eval.ResolvedInput{Source: e.URL}
		case edge.GitRef:
			out[name] = eval.ResolvedInput{Source: e.GitURL}
		default:
			return nil, errs.New(errs.UnresolvedInput, "", "", fmt.Errorf("build: input %q has unknown edge kind", name))
		}
	}
	return out, nil
}
