// Package docker provides a Docker-backed implementation of the hub's
// workload runtime abstraction.
package docker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/logger"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/runtime"
)

// Labels applied to every hub-managed container.
const (
	labelManaged = "mcp-hub"
	labelName    = "mcp-hub-name"
)

// stopTimeoutSeconds is how long Docker waits before killing a container.
const stopTimeoutSeconds = 10

// Client is a Docker runtime client implementing runtime.Deployer.
type Client struct {
	client *dockerclient.Client
}

// NewClient creates a Docker client from the environment (DOCKER_HOST etc).
func NewClient() (*Client, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{client: cli}, nil
}

// Deploy implements runtime.Deployer.
func (c *Client) Deploy(ctx context.Context, spec *runtime.DeploySpec) (*runtime.Handle, error) {
	if spec.Image == "" {
		return nil, fmt.Errorf("docker runtime requires an image (server %s)", spec.Name)
	}

	cfg := &container.Config{
		Image: spec.Image,
		Cmd:   spec.Args,
		Env:   convertEnvVars(spec.Env),
		Labels: map[string]string{
			labelManaged: "true",
			labelName:    spec.Name,
		},
		AttachStdin:  spec.AttachStdio,
		AttachStdout: spec.AttachStdio,
		AttachStderr: spec.AttachStdio,
		OpenStdin:    spec.AttachStdio,
		Tty:          false,
	}

	hostCfg := &container.HostConfig{
		Binds: spec.Volumes,
	}
	if err := setupPortBindings(cfg, hostCfg, spec.PortBindings); err != nil {
		return nil, err
	}

	created, err := c.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName(spec.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to create container for %s: %w", spec.Name, err)
	}

	handle := &runtime.Handle{
		ID:        created.ID,
		Name:      spec.Name,
		StartedAt: time.Now(),
	}

	// For pipe backends, attach before starting so no early output is lost.
	if spec.AttachStdio {
		resp, err := c.client.ContainerAttach(ctx, created.ID, container.AttachOptions{
			Stream: true,
			Stdin:  true,
			Stdout: true,
			Stderr: true,
		})
		if err != nil {
			c.removeContainer(ctx, created.ID)
			return nil, fmt.Errorf("%w: %s: %v", runtime.ErrAttachFailed, spec.Name, err)
		}
		handle.Stdin = resp.Conn
		handle.Stdout = &readCloserWrapper{reader: resp.Reader, closer: resp.Close}
	}

	if err := c.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		c.removeContainer(ctx, created.ID)
		return nil, fmt.Errorf("failed to start container for %s: %w", spec.Name, err)
	}

	logger.Debugf("Deployed container %s for server %s", created.ID[:12], spec.Name)
	return handle, nil
}

// Stop implements runtime.Deployer. Stopping an already-removed container
// is not an error.
func (c *Client) Stop(ctx context.Context, handle *runtime.Handle) error {
	timeout := stopTimeoutSeconds
	err := c.client.ContainerStop(ctx, handle.ID, container.StopOptions{Timeout: &timeout})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("failed to stop container for %s: %w", handle.Name, err)
	}
	c.removeContainer(ctx, handle.ID)
	return nil
}

// IsRunning implements runtime.Deployer.
func (c *Client) IsRunning(ctx context.Context, handle *runtime.Handle) (bool, error) {
	info, err := c.client.ContainerInspect(ctx, handle.ID)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect container for %s: %w", handle.Name, err)
	}
	return info.State != nil && info.State.Running, nil
}

func (c *Client) removeContainer(ctx context.Context, id string) {
	if err := c.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if !dockerclient.IsErrNotFound(err) {
			logger.Warnf("Failed to remove container %s: %v", id, err)
		}
	}
}

func containerName(serverName string) string {
	return "mcp-hub-" + serverName
}

func convertEnvVars(envVars map[string]string) []string {
	env := make([]string, 0, len(envVars))
	for key, value := range envVars {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	return env
}

func setupPortBindings(cfg *container.Config, hostCfg *container.HostConfig, bindings []runtime.PortBinding) error {
	if len(bindings) == 0 {
		return nil
	}

	cfg.ExposedPorts = make(nat.PortSet)
	hostCfg.PortBindings = make(nat.PortMap)
	for _, binding := range bindings {
		port, err := nat.NewPort("tcp", fmt.Sprintf("%d", binding.WorkloadPort))
		if err != nil {
			return fmt.Errorf("invalid port %d: %w", binding.WorkloadPort, err)
		}
		cfg.ExposedPorts[port] = struct{}{}
		hostCfg.PortBindings[port] = []nat.PortBinding{{
			HostIP:   "127.0.0.1",
			HostPort: fmt.Sprintf("%d", binding.HostPort),
		}}
	}
	return nil
}

// readCloserWrapper ties the attach response lifetime to the reader handed
// to the transport layer.
type readCloserWrapper struct {
	reader io.Reader
	closer func()
}

func (r *readCloserWrapper) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

func (r *readCloserWrapper) Close() error {
	if r.closer != nil {
		r.closer()
	}
	return nil
}
