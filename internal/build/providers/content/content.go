// Package content implements the simplest build kind: create writes one
// input's literal content to a file inside the build's staging directory
// and returns its relative path as a single named output. It exists so
// internal/declfile has a build kind it can wire up without a script
// interpreter (spec.md's non-goal) — the same "write literal content to a
// path" shape internal/bind/providers/file already covers for binds.
package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"statum.dev/statum/internal/edge"
	"statum.dev/statum/internal/eval"
)

const (
	inputFilename = "filename"
	inputContent  = "content"
	inputOutput   = "output" // output name to register; defaults to "out"

	defaultOutputName = "out"
)

// Spec returns the build spec for a content build named id.
func Spec(id string) eval.BuildSpec {
	return eval.BuildSpec{ID: id, Create: create}
}

func create(ctx context.Context, inputs eval.ResolvedInputs, actx eval.ActionCtx) (eval.Outputs, error) {
	filename, ok := stringInput(inputs, inputFilename)
	if !ok {
		return nil, fmt.Errorf("content: missing required %q input", inputFilename)
	}
	content, ok := stringInput(inputs, inputContent)
	if !ok {
		return nil, fmt.Errorf("content: missing required %q input", inputContent)
	}
	outputName := defaultOutputName
	if v, ok := stringInput(inputs, inputOutput); ok {
		outputName = v
	}

	path := filepath.Join(actx.Out(), filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("content: write %s: %w", path, err)
	}
	return eval.Outputs{outputName: filename}, nil
}

func stringInput(inputs eval.ResolvedInputs, name string) (string, bool) {
	in, ok := inputs[name]
	if !ok || in.Literal == nil {
		return "", false
	}
	s, ok := in.Literal.(edge.StringValue)
	return string(s), ok
}
