// Package sandbox implements eval.ActionCtx (C9, spec.md §4.9): spawning
// child processes with a constrained environment and PATH, capturing
// their output, and surfacing exit status as exec_failed/exec_timeout.
//
// Scoping is environment/PATH only, never kernel isolation (chroot,
// namespaces, cgroups) — the same boundary zb's runSandboxed draws before
// it goes on to build a mount-namespace chroot; this package stops at the
// process-environment layer because that is all spec.md's non-goals call
// for.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"statum.dev/statum/internal/errs"
	"statum.dev/statum/internal/eval"
)

const (
	stderrTailSize = 4 * 1024
	killGrace      = 5 * time.Second
)

// Ctx is one action's sandbox handle: its working directory and, for
// builds, its staging output directory.
type Ctx struct {
	WorkDir     string
	NodeID      string
	Fingerprint string

	stagingOut string
}

// NewBuildCtx returns a Ctx whose Out() is the build's staging directory
// and whose default cwd is that same directory.
func NewBuildCtx(stagingDir, nodeID, fingerprint string) *Ctx {
	return &Ctx{WorkDir: stagingDir, stagingOut: stagingDir, NodeID: nodeID, Fingerprint: fingerprint}
}

// NewBindCtx returns a Ctx for a bind phase: a process-private temp
// directory as cwd, no staging output.
func NewBindCtx(workDir, nodeID, fingerprint string) *Ctx {
	return &Ctx{WorkDir: workDir, NodeID: nodeID, Fingerprint: fingerprint}
}

// Out implements eval.ActionCtx.
func (c *Ctx) Out() string { return c.stagingOut }

// Exec implements eval.ActionCtx.
func (c *Ctx) Exec(ctx context.Context, spec eval.ExecSpec) (string, error) {
	return c.run(ctx, spec.Bin, spec.Args, spec.Env, spec.Cwd, spec.Timeout, spec.InheritEnv)
}

// Script implements eval.ActionCtx: it writes spec.Body to a temp file
// and invokes the interpreter spec.Kind selects for the host OS.
func (c *Ctx) Script(ctx context.Context, spec eval.ScriptSpec) (string, error) {
	scriptPath, cleanup, err := writeScriptFile(spec.Name, spec.Body, extForKind(spec.Kind))
	if err != nil {
		return "", errs.New(errs.ExecFailed, c.NodeID, c.Fingerprint, fmt.Errorf("sandbox: write script: %w", err))
	}
	defer cleanup()

	bin, args, err := scriptCommand(spec.Kind, scriptPath)
	if err != nil {
		return "", errs.New(errs.ExecFailed, c.NodeID, c.Fingerprint, err)
	}
	return c.run(ctx, bin, args, spec.Env, spec.Cwd, spec.Timeout, spec.InheritEnv)
}

func (c *Ctx) run(ctx context.Context, bin string, args []string, env map[string]string, cwd string, timeout time.Duration, inheritEnv bool) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = buildEnv(env, inheritEnv)
	cmd.Dir = cwd
	if cmd.Dir == "" {
		cmd.Dir = c.WorkDir
	}
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = killGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", errs.New(errs.ExecTimeout, c.NodeID, c.Fingerprint,
			fmt.Errorf("exec %s: timed out after %s", bin, timeout))
	}
	if runErr != nil {
		return "", errs.New(errs.ExecFailed, c.NodeID, c.Fingerprint,
			fmt.Errorf("exec %s: %w (stderr tail: %q)", bin, runErr, tail(stderr.Bytes(), stderrTailSize)))
	}
	return stdout.String(), nil
}

func buildEnv(env map[string]string, inheritEnv bool) []string {
	merged := make(map[string]string, len(env)+1)
	if inheritEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := splitEnv(kv); ok {
				merged[k] = v
			}
		}
	}
	for k, v := range env {
		merged[k] = v
	}
	if _, ok := merged["PATH"]; !ok {
		merged["PATH"] = defaultPath()
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

func splitEnv(kv string) (key, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
