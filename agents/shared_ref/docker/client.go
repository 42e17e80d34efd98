// Package docker wraps the subset of the Docker Engine API the
// "services" bind provider (internal/bind/providers/dockerservice) needs
// to drive one named container through create/start/inspect/remove: just
// enough of the SDK to treat a container as a stateful bind effect, not a
// general-purpose Docker client.
package docker

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

// Client is a thin handle on the Docker Engine API, dialed once per bind
// action and closed by the caller (internal/bind/providers/dockerservice
// never holds one across calls, since the daemon may not be running
// between applies).
type Client struct {
	api *client.Client
}

// NewClient dials the daemon from the environment (DOCKER_HOST, or the
// default socket). When DOCKER_HOST is unset and the default socket is
// unreachable, it falls back to the socket AutoDockerHost detects; when
// DOCKER_HOST is set, a failed ping is returned as is. The fallback exists
// because the
// bind driver must work on a Colima-only macOS host with no
// DOCKER_HOST set.
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	if err := pingClient(cli); err == nil {
		return &Client{api: cli}, nil
	} else if os.Getenv("DOCKER_HOST") != "" {
		_ = cli.Close()
		return nil, err
	}
	_ = cli.Close()
	if host, ok := AutoDockerHost(); ok {
		alt, altErr := client.NewClientWithOpts(client.WithHost(host), client.WithAPIVersionNegotiation())
		if altErr != nil {
			return nil, err
		}
		if pingErr := pingClient(alt); pingErr == nil {
			return &Client{api: alt}, nil
		}
		_ = alt.Close()
	}
	return nil, err
}

func pingClient(cli *client.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := cli.Ping(ctx)
	return err
}

// Close releases the daemon connection. Safe to call on a nil Client.
func (c *Client) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.Close()
}

// ContainerByName looks up a container by its exact name, returning a
// zero id (no error) when none exists — the "Absent" case
// dockerservice's create/check need to distinguish from a real daemon
// error.
func (c *Client) ContainerByName(ctx context.Context, name string) (string, *types.ContainerJSON, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil, errors.New("container name required")
	}
	info, err := c.api.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", nil, nil
		}
		return "", nil, err
	}
	return info.ID, &info, nil
}

// CreateContainer creates a container from cfg/hostCfg/netCfg without
// starting it; dockerservice always follows this with StartContainer.
func (c *Client) CreateContainer(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, name string) (string, error) {
	resp, err := c.api.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	if strings.TrimSpace(containerID) == "" {
		return errors.New("container id required")
	}
	return c.api.ContainerStart(ctx, containerID, container.StartOptions{})
}

// RemoveContainer force-removes a container and its anonymous volumes,
// the "destroy" half of the bind lifecycle.
func (c *Client) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	if strings.TrimSpace(containerID) == "" {
		return errors.New("container id required")
	}
	return c.api.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         force,
		RemoveVolumes: true,
	})
}
