// Package runtime defines the opaque process/container abstraction the hub
// drives. The hub only ever asks a Deployer to start and stop workloads and
// observes their health; image build/pull mechanics live behind the
// implementations.
package runtime

import (
	"context"
	"errors"
	"io"
	"time"
)

// Common runtime errors.
var (
	ErrWorkloadNotFound   = errors.New("workload not found")
	ErrWorkloadNotRunning = errors.New("workload not running")
	ErrWorkloadExited     = errors.New("workload exited unexpectedly")
	ErrAttachFailed       = errors.New("failed to attach to workload")
)

// PortBinding maps a workload port to a host port.
type PortBinding struct {
	// HostPort is the port on the host.
	HostPort int
	// WorkloadPort is the port inside the workload.
	WorkloadPort int
}

// DeploySpec describes one workload launch.
type DeploySpec struct {
	// Name is the workload name, used for labels and diagnostics.
	Name string

	// Image is the container image to run. Empty for local commands.
	Image string

	// Command is the local executable to launch. Empty for images.
	Command string

	// Args are passed to the image entrypoint or command.
	Args []string

	// Env maps variable names to values for the workload environment.
	Env map[string]string

	// AttachStdio requests an attached stdin/stdout pair on the handle.
	// Required for pipe-transport backends.
	AttachStdio bool

	// PortBindings exposes workload ports on the host.
	PortBindings []PortBinding

	// Volumes is the list of volume mounts in "source:target" form.
	Volumes []string
}

// Handle represents one live workload. It is owned exclusively by the
// connection that started it.
type Handle struct {
	// ID is the runtime-specific workload identifier.
	ID string

	// Name is the workload name from the deploy spec.
	Name string

	// StartedAt is when the workload came up.
	StartedAt time.Time

	// Stdin and Stdout are non-nil only when the workload was deployed
	// with AttachStdio.
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
}

// Deployer starts and stops workloads. Implementations must be safe for
// concurrent use across distinct workloads.
type Deployer interface {
	// Deploy creates and starts a workload, attaching stdio when requested.
	Deploy(ctx context.Context, spec *DeploySpec) (*Handle, error)

	// Stop stops and removes a workload. Stopping a workload that is
	// already gone is not an error.
	Stop(ctx context.Context, handle *Handle) error

	// IsRunning reports whether the workload is still up.
	IsRunning(ctx context.Context, handle *Handle) (bool, error)
}
