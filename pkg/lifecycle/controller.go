// Package lifecycle contains the controller that starts, stops, and health
// checks backend workloads through the runtime abstraction.
//
// The controller performs no start deduplication of its own; the connection
// manager's state guard is what makes start idempotent from the caller's
// perspective.
package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/config"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/errors"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/logger"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/runtime"
)

const (
	// defaultHealthTimeout bounds the readiness wait when the config does
	// not set one.
	defaultHealthTimeout = 30 * time.Second

	// healthProbeTimeout bounds one individual health probe.
	healthProbeTimeout = 5 * time.Second
)

// Controller manages the lifecycle of backend workloads.
type Controller interface {
	// Start launches the workload described by the config. For http/sse
	// backends it also waits for the health check to pass. The returned
	// errors carry the launch/health_check_timeout taxonomy types.
	Start(ctx context.Context, cfg *config.ServerConfig, envVars map[string]string) (*runtime.Handle, error)

	// Stop stops the workload. Safe to call on an already-stopped handle.
	Stop(ctx context.Context, cfg *config.ServerConfig, handle *runtime.Handle) error

	// IsHealthy reports whether the workload is healthy: process alive for
	// pipe backends, health URL responding for http/sse.
	IsHealthy(ctx context.Context, cfg *config.ServerConfig, handle *runtime.Handle) (bool, error)

	// Monitor starts watching the workload for unexpected termination and
	// returns the channel the exit error is delivered on.
	Monitor(ctx context.Context, cfg *config.ServerConfig, handle *runtime.Handle) (<-chan error, func(), error)
}

type defaultController struct {
	containers runtime.Deployer
	processes  runtime.Deployer
	httpClient *http.Client
}

// NewController creates a controller that deploys image configs through the
// container deployer and command configs through the process deployer.
func NewController(containers, processes runtime.Deployer) Controller {
	return &defaultController{
		containers: containers,
		processes:  processes,
		httpClient: &http.Client{Timeout: healthProbeTimeout},
	}
}

func (c *defaultController) deployerFor(cfg *config.ServerConfig) runtime.Deployer {
	if cfg.Image != "" {
		return c.containers
	}
	return c.processes
}

// Start implements Controller.
func (c *defaultController) Start(
	ctx context.Context, cfg *config.ServerConfig, envVars map[string]string,
) (*runtime.Handle, error) {
	spec := deploySpec(cfg, envVars)

	deployer := c.deployerFor(cfg)
	if deployer == nil {
		// The controller can be built without a container runtime when
		// Docker is unreachable; image-backed configs then cannot start.
		return nil, errors.NewLaunchError(cfg.Name, "container runtime unavailable", nil)
	}
	handle, err := deployer.Deploy(ctx, spec)
	if err != nil {
		return nil, errors.NewLaunchError(cfg.Name, "workload failed to start", err)
	}

	if cfg.Transport != config.TransportTypeStdio {
		if err := c.waitReady(ctx, cfg); err != nil {
			// Tear down the partial start before reporting.
			if stopErr := deployer.Stop(ctx, handle); stopErr != nil {
				logger.Warnf("Failed to stop %s after failed health check: %v", cfg.Name, stopErr)
			}
			return nil, err
		}
	} else {
		// A process that dies immediately is a launch failure, not a crash.
		running, runErr := deployer.IsRunning(ctx, handle)
		if runErr != nil || !running {
			_ = deployer.Stop(ctx, handle)
			return nil, errors.NewLaunchError(cfg.Name, "workload exited immediately", runErr)
		}
	}

	logger.Infof("Started workload for server %s", cfg.Name)
	return handle, nil
}

// Stop implements Controller.
func (c *defaultController) Stop(ctx context.Context, cfg *config.ServerConfig, handle *runtime.Handle) error {
	if handle == nil {
		return nil
	}
	return c.deployerFor(cfg).Stop(ctx, handle)
}

// IsHealthy implements Controller.
func (c *defaultController) IsHealthy(ctx context.Context, cfg *config.ServerConfig, handle *runtime.Handle) (bool, error) {
	running, err := c.deployerFor(cfg).IsRunning(ctx, handle)
	if err != nil || !running {
		return false, err
	}
	if cfg.Transport == config.TransportTypeStdio {
		return true, nil
	}
	return c.probe(ctx, healthURL(cfg)) == nil, nil
}

// Monitor implements Controller.
func (c *defaultController) Monitor(
	ctx context.Context, cfg *config.ServerConfig, handle *runtime.Handle,
) (<-chan error, func(), error) {
	monitor := runtime.NewMonitor(c.deployerFor(cfg), handle)
	errCh, err := monitor.Start(ctx)
	if err != nil {
		return nil, nil, err
	}
	return errCh, monitor.Stop, nil
}

// waitReady polls the backend's health URL with exponential backoff until it
// responds or the configured timeout elapses.
func (c *defaultController) waitReady(ctx context.Context, cfg *config.ServerConfig) error {
	timeout := defaultHealthTimeout
	if cfg.HealthCheck != nil && cfg.HealthCheck.Timeout > 0 {
		timeout = cfg.HealthCheck.Timeout
	}
	url := healthURL(cfg)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	operation := func() (struct{}, error) {
		return struct{}{}, c.probe(waitCtx, url)
	}

	_, err := backoff.Retry(waitCtx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(timeout),
	)
	if err != nil {
		return errors.NewHealthCheckTimeoutError(cfg.Name,
			fmt.Sprintf("health check %s did not pass within %s", url, timeout), err)
	}
	return nil
}

func (c *defaultController) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 404 still proves the server is up and answering; the original hub
	// accepted it during readiness waits.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("health check returned status %d", resp.StatusCode)
}

func healthURL(cfg *config.ServerConfig) string {
	if cfg.HealthCheck != nil && cfg.HealthCheck.URL != "" {
		return cfg.HealthCheck.URL
	}
	return cfg.BaseURL() + "/"
}

func deploySpec(cfg *config.ServerConfig, envVars map[string]string) *runtime.DeploySpec {
	spec := &runtime.DeploySpec{
		Name:        cfg.Name,
		Image:       cfg.Image,
		Command:     cfg.Command,
		Args:        cfg.Args,
		Env:         envVars,
		AttachStdio: cfg.Transport == config.TransportTypeStdio,
	}
	if cfg.Network != nil {
		spec.Volumes = cfg.Network.Volumes
		if cfg.Network.Port != 0 {
			workloadPort := cfg.Network.TargetPort
			if workloadPort == 0 {
				workloadPort = cfg.Network.Port
			}
			spec.PortBindings = []runtime.PortBinding{{
				HostPort:     cfg.Network.Port,
				WorkloadPort: workloadPort,
			}}
		}
	}
	return spec
}
