// Package local provides an os/exec-backed implementation of the hub's
// workload runtime abstraction, for backends launched as local processes
// (npx packages, plain binaries) rather than containers.
package local

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/logger"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/runtime"
)

// killGracePeriod is how long Stop waits after SIGTERM before SIGKILL.
const killGracePeriod = 5 * time.Second

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// Deployer runs workloads as local subprocesses.
type Deployer struct {
	mutex     sync.Mutex
	processes map[string]*process
}

// NewDeployer creates a local process deployer.
func NewDeployer() *Deployer {
	return &Deployer{processes: make(map[string]*process)}
}

// Deploy implements runtime.Deployer.
func (d *Deployer) Deploy(_ context.Context, spec *runtime.DeploySpec) (*runtime.Handle, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("local runtime requires a command (server %s)", spec.Name)
	}

	// #nosec G204 -- command and args come from validated server configuration
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = os.Environ()
	for key, value := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	handle := &runtime.Handle{Name: spec.Name}
	if spec.AttachStdio {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to open stdin pipe for %s: %w", spec.Name, err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to open stdout pipe for %s: %w", spec.Name, err)
		}
		handle.Stdin = stdin
		handle.Stdout = stdout
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Command, err)
	}

	handle.ID = fmt.Sprintf("%d", cmd.Process.Pid)
	handle.StartedAt = time.Now()

	proc := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Debugf("Process %s (pid %d) exited: %v", spec.Name, cmd.Process.Pid, err)
		}
		close(proc.done)
	}()

	d.mutex.Lock()
	d.processes[handle.ID] = proc
	d.mutex.Unlock()

	logger.Debugf("Started process %s (pid %d) for server %s", spec.Command, cmd.Process.Pid, spec.Name)
	return handle, nil
}

// Stop implements runtime.Deployer. The process gets SIGTERM first and
// SIGKILL after the grace period.
func (d *Deployer) Stop(ctx context.Context, handle *runtime.Handle) error {
	d.mutex.Lock()
	proc, ok := d.processes[handle.ID]
	delete(d.processes, handle.ID)
	d.mutex.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-proc.done:
		return nil // Already exited.
	default:
	}

	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal process for %s: %w", handle.Name, err)
	}

	select {
	case <-proc.done:
		return nil
	case <-time.After(killGracePeriod):
	case <-ctx.Done():
	}

	if err := proc.cmd.Process.Kill(); err != nil {
		logger.Warnf("Failed to kill process for %s: %v", handle.Name, err)
	}
	<-proc.done
	return nil
}

// IsRunning implements runtime.Deployer.
func (d *Deployer) IsRunning(_ context.Context, handle *runtime.Handle) (bool, error) {
	d.mutex.Lock()
	proc, ok := d.processes[handle.ID]
	d.mutex.Unlock()
	if !ok {
		return false, nil
	}

	select {
	case <-proc.done:
		return false, nil
	default:
		return true, nil
	}
}
