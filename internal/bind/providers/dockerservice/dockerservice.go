// Package dockerservice implements the "services" bind kind (C15,
// SPEC_FULL.md §4.15): a named container as a stateful host effect,
// adapting agents/shared_ref/docker's Client (CreateContainer /
// StartContainer / RemoveContainer / ContainerByName) into the bind
// lifecycle. create ensures a container exists and is running from
// declared image/env/mount inputs; update recreates it when its
// fingerprint changes; destroy removes it; check reports drift when the
// container is absent or stopped.
package dockerservice

import (
	"context"
	"fmt"
	"sort"

	dockerapi "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"

	"statum.dev/statum/agents/shared_ref/docker"
	"statum.dev/statum/internal/edge"
	"statum.dev/statum/internal/eval"
)

const (
	inputImage   = "image"
	inputName    = "name"
	inputEnv     = "env"
	inputCommand = "command"
	inputMounts  = "mounts" // host path -> container path

	outputContainerID = "container_id"
	outputName         = "name"
	outputImage        = "image"
)

// Dialer opens a docker client. Production code and this package's tests
// both pass docker.NewClient.
type Dialer func() (*docker.Client, error)

// Spec returns the bind spec for a container bind named id, dialing the
// docker daemon with dial (pass docker.NewClient in production).
func Spec(id string, dial Dialer) eval.BindSpec {
	p := &provider{dial: dial}
	return eval.BindSpec{
		ID:       id,
		Create:   p.create,
		Update:   p.update,
		Destroy:  p.destroy,
		Check:    p.check,
		Provider: "dockerservice",
	}
}

type provider struct {
	dial Dialer
}

func (p *provider) create(ctx context.Context, inputs eval.ResolvedInputs, actx eval.ActionCtx) (eval.Outputs, error) {
	cli, err := p.dial()
	if err != nil {
		return nil, fmt.Errorf("dockerservice: connect: %w", err)
	}
	defer cli.Close()

	name, ok := stringInput(inputs, inputName)
	if !ok {
		return nil, fmt.Errorf("dockerservice: missing required %q input", inputName)
	}
	image, ok := stringInput(inputs, inputImage)
	if !ok {
		return nil, fmt.Errorf("dockerservice: missing required %q input", inputImage)
	}

	if id, info, err := cli.ContainerByName(ctx, name); err != nil {
		return nil, fmt.Errorf("dockerservice: inspect %s: %w", name, err)
	} else if id != "" {
		if info != nil && info.State != nil && !info.State.Running {
			if err := cli.StartContainer(ctx, id); err != nil {
				return nil, fmt.Errorf("dockerservice: start existing container %s: %w", name, err)
			}
		}
		return eval.Outputs{outputContainerID: id, outputName: name, outputImage: image}, nil
	}

	cfg := &dockerapi.Config{
		Image: image,
		Env:   envInput(inputs, inputEnv),
		Cmd:   sequenceInput(inputs, inputCommand),
	}
	hostCfg := &dockerapi.HostConfig{
		Mounts: mountsInput(inputs, inputMounts),
	}
	netCfg := &network.NetworkingConfig{}

	id, err := cli.CreateContainer(ctx, cfg, hostCfg, netCfg, name)
	if err != nil {
		return nil, fmt.Errorf("dockerservice: create %s: %w", name, err)
	}
	if err := cli.StartContainer(ctx, id); err != nil {
		return nil, fmt.Errorf("dockerservice: start %s: %w", name, err)
	}
	return eval.Outputs{outputContainerID: id, outputName: name, outputImage: image}, nil
}

// update recreates the container: a bind fingerprint change means the
// declared image/env/mounts changed, so the old container cannot simply be
// restarted — it is removed and a fresh one is created in its place.
func (p *provider) update(ctx context.Context, oldOutputs eval.Outputs, inputs eval.ResolvedInputs, actx eval.ActionCtx) (eval.Outputs, error) {
	cli, err := p.dial()
	if err != nil {
		return nil, fmt.Errorf("dockerservice: connect: %w", err)
	}
	defer cli.Close()

	if id := oldOutputs[outputContainerID]; id != "" {
		if err := cli.RemoveContainer(ctx, id, true); err != nil {
			return nil, fmt.Errorf("dockerservice: remove prior container %s: %w", id, err)
		}
	}
	return p.create(ctx, inputs, actx)
}

func (p *provider) destroy(ctx context.Context, outputs eval.Outputs, actx eval.ActionCtx) error {
	cli, err := p.dial()
	if err != nil {
		return fmt.Errorf("dockerservice: connect: %w", err)
	}
	defer cli.Close()

	id := outputs[outputContainerID]
	if id == "" {
		return nil
	}
	if err := cli.RemoveContainer(ctx, id, true); err != nil {
		return fmt.Errorf("dockerservice: remove %s: %w", id, err)
	}
	return nil
}

func (p *provider) check(ctx context.Context, outputs eval.Outputs, inputs eval.ResolvedInputs, actx eval.ActionCtx) (bool, string, error) {
	cli, err := p.dial()
	if err != nil {
		return false, "", fmt.Errorf("dockerservice: connect: %w", err)
	}
	defer cli.Close()

	name := outputs[outputName]
	id, info, err := cli.ContainerByName(ctx, name)
	if err != nil {
		return false, "", fmt.Errorf("dockerservice: inspect %s: %w", name, err)
	}
	if id == "" {
		return true, fmt.Sprintf("container %s is absent", name), nil
	}
	if info == nil || info.State == nil || !info.State.Running {
		return true, fmt.Sprintf("container %s is stopped", name), nil
	}
	return false, "", nil
}

func stringInput(inputs eval.ResolvedInputs, name string) (string, bool) {
	in, ok := inputs[name]
	if !ok || in.Literal == nil {
		return "", false
	}
	s, ok := in.Literal.(edge.StringValue)
	return string(s), ok
}

// envInput flattens a mapping input into KEY=VALUE pairs, sorted by key for
// fingerprint-stable create calls.
func envInput(inputs eval.ResolvedInputs, name string) []string {
	in, ok := inputs[name]
	if !ok || in.Literal == nil {
		return nil
	}
	m, ok := in.Literal.(edge.MappingValue)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if s, ok := m[k].(edge.StringValue); ok {
			out = append(out, k+"="+string(s))
		}
	}
	return out
}

func sequenceInput(inputs eval.ResolvedInputs, name string) []string {
	in, ok := inputs[name]
	if !ok || in.Literal == nil {
		return nil
	}
	seq, ok := in.Literal.(edge.SequenceValue)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(seq))
	for _, v := range seq {
		if s, ok := v.(edge.StringValue); ok {
			out = append(out, string(s))
		}
	}
	return out
}

// mountsInput reads a mapping of host path -> container path into bind
// mounts, sorted by host path for fingerprint-stable create calls.
func mountsInput(inputs eval.ResolvedInputs, name string) []mount.Mount {
	in, ok := inputs[name]
	if !ok || in.Literal == nil {
		return nil
	}
	m, ok := in.Literal.(edge.MappingValue)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]mount.Mount, 0, len(keys))
	for _, host := range keys {
		if target, ok := m[host].(edge.StringValue); ok {
			out = append(out, mount.Mount{Type: mount.TypeBind, Source: host, Target: string(target)})
		}
	}
	return out
}
