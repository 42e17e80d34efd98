// Package file implements the file/symlink bind provider (C15, SPEC_FULL.md
// §4.15): create writes a file's content or a symlink's target to a path,
// destroy removes it idempotently, check stats the path and compares
// content digests. It covers scenarios S1, S3 and S6 end to end.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"statum.dev/statum/internal/edge"
	"statum.dev/statum/internal/eval"
	"statum.dev/statum/internal/fingerprint"
	"statum.dev/statum/internal/store"
)

const (
	defaultMode = 0o644

	inputPath    = "path"
	inputContent = "content"
	inputSymlink = "symlink_target"

	outputPath   = "path"
	outputDigest = "digest"
	outputKind   = "kind"

	kindFile    = "file"
	kindSymlink = "symlink"
)

// Spec returns the bind spec for a file/symlink bind named id. Callers
// declare either a "content" input (plain file) or a "symlink_target"
// input (symlink); exactly one is expected to be set at resolution time.
func Spec(id string) eval.BindSpec {
	return eval.BindSpec{
		ID:       id,
		Create:   create,
		Update:   update,
		Destroy:  destroy,
		Check:    check,
		Provider: "file",
	}
}

func create(ctx context.Context, inputs eval.ResolvedInputs, actx eval.ActionCtx) (eval.Outputs, error) {
	path, ok := stringInput(inputs, inputPath)
	if !ok {
		return nil, fmt.Errorf("file: missing required %q input", inputPath)
	}
	if target, ok := stringInput(inputs, inputSymlink); ok {
		return createSymlink(path, target)
	}
	content, ok := stringInput(inputs, inputContent)
	if !ok {
		return nil, fmt.Errorf("file: requires either %q or %q input", inputContent, inputSymlink)
	}
	return createFile(path, content)
}

func createFile(path, content string) (eval.Outputs, error) {
	if err := store.WriteFileAtomic(path, []byte(content), defaultMode); err != nil {
		return nil, fmt.Errorf("file: write %s: %w", path, err)
	}
	return eval.Outputs{
		outputPath:   path,
		outputKind:   kindFile,
		outputDigest: fingerprint.OfString(content).String(),
	}, nil
}

func createSymlink(path, target string) (eval.Outputs, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file: create parent dir for %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("file: remove existing entry at %s: %w", path, err)
	}
	if err := os.Symlink(target, path); err != nil {
		return nil, fmt.Errorf("file: symlink %s -> %s: %w", path, target, err)
	}
	return eval.Outputs{
		outputPath:   path,
		outputKind:   kindSymlink,
		outputDigest: fingerprint.OfString(target).String(),
	}, nil
}

// update replaces the bind's content/target in place by re-running create
// with the new inputs. When the declared path differs from the one
// recorded in the prior outputs, the entry at the old path is removed
// first, so a path change leaves nothing behind at the old location.
func update(ctx context.Context, oldOutputs eval.Outputs, inputs eval.ResolvedInputs, actx eval.ActionCtx) (eval.Outputs, error) {
	if newPath, ok := stringInput(inputs, inputPath); ok && oldOutputs[outputPath] != "" && oldOutputs[outputPath] != newPath {
		if err := destroy(ctx, oldOutputs, actx); err != nil {
			return nil, err
		}
	}
	return create(ctx, inputs, actx)
}

// destroy removes the path, tolerating it already being absent.
func destroy(ctx context.Context, outputs eval.Outputs, actx eval.ActionCtx) error {
	path := outputs[outputPath]
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("file: remove %s: %w", path, err)
	}
	return nil
}

// check reports drift when the path is missing, has changed kind (file vs
// symlink), or its content/target digest no longer matches what create (or
// the last update) recorded.
func check(ctx context.Context, outputs eval.Outputs, inputs eval.ResolvedInputs, actx eval.ActionCtx) (bool, string, error) {
	path := outputs[outputPath]
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, fmt.Sprintf("%s is absent", path), nil
		}
		return false, "", fmt.Errorf("file: stat %s: %w", path, err)
	}

	if outputs[outputKind] == kindSymlink {
		if info.Mode()&os.ModeSymlink == 0 {
			return true, fmt.Sprintf("%s is no longer a symlink", path), nil
		}
		target, err := os.Readlink(path)
		if err != nil {
			return false, "", fmt.Errorf("file: readlink %s: %w", path, err)
		}
		if fingerprint.OfString(target).String() != outputs[outputDigest] {
			return true, fmt.Sprintf("%s now points at %s", path, target), nil
		}
		return false, "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, "", fmt.Errorf("file: read %s: %w", path, err)
	}
	if fingerprint.OfString(string(data)).String() != outputs[outputDigest] {
		return true, fmt.Sprintf("%s content has drifted", path), nil
	}
	return false, "", nil
}

func stringInput(inputs eval.ResolvedInputs, name string) (string, bool) {
	in, ok := inputs[name]
	if !ok {
		return "", false
	}
	if in.Literal != nil {
		if s, ok := in.Literal.(edge.StringValue); ok {
			return string(s), true
		}
	}
	if in.Path != "" {
		data, err := os.ReadFile(in.Path)
		if err == nil {
			return string(data), true
		}
	}
	return "", false
}
