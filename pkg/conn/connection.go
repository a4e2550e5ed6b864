// Package conn tracks one live connection per backend server and drives it
// through its lifecycle state machine.
//
// A connection owns everything attached to a running backend: the runtime
// handle, the transport adapter, the crash monitor, and the cached tool
// list. Exactly one lifecycle operation per server runs at a time; state
// reads and tool calls never wait behind a slow activation.
package conn

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/config"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/env"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/errors"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/lifecycle"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/logger"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/registry"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/runtime"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/transport"
)

// Connection is the live state of one backend server.
type Connection struct {
	cfg       *config.ServerConfig
	ctrl      lifecycle.Controller
	adapters  AdapterFactory
	envReader env.Reader

	// checkAvail runs the availability preflight; notify tells the
	// aggregator that the routable set changed.
	checkAvail func(*config.ServerConfig) registry.Availability
	notify     func()

	// opMu serializes lifecycle operations (start, stop). mu guards the
	// fields below and is never held across a blocking operation.
	opMu sync.Mutex
	mu   sync.Mutex

	state       State
	handle      *runtime.Handle
	adapter     transport.Adapter
	tools       []mcp.Tool
	refreshedAt time.Time
	lastErr     error
	stopWatch   func()
	watchDone   chan struct{}
	generation  int
}

// Config returns the configuration the connection was built from.
func (c *Connection) Config() *config.ServerConfig {
	return c.cfg
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error that put the connection into StateError, or
// nil.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Tools returns the cached tool list and the time it was captured. The
// cache is only populated while the connection is active.
func (c *Connection) Tools() ([]mcp.Tool, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tools, c.refreshedAt
}

// Start activates the backend: availability preflight, workload launch,
// transport handshake, and initial tool discovery. Starting an already
// active or starting connection is a no-op.
func (c *Connection) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case StateStarting, StateActive:
		c.mu.Unlock()
		return nil
	case StateStopping:
		c.mu.Unlock()
		return errors.NewLaunchError(c.cfg.Name, "cannot start while stopping", nil)
	case StateUnconfigured, StateError, StateInactive:
	}
	c.mu.Unlock()

	// Preflight failures leave the state untouched.
	if avail := c.checkAvail(c.cfg); !avail.Available {
		return errors.NewAvailabilityError(c.cfg.Name,
			fmt.Sprintf("missing required environment variables: %v", avail.MissingEnv))
	}

	c.setState(StateStarting, nil)

	if err := c.activate(ctx); err != nil {
		c.setState(StateError, err)
		return err
	}

	c.setState(StateActive, nil)
	logger.Infof("Server %s is active", c.cfg.Name)
	return nil
}

// Stop deactivates the backend. Stopping a connection that is not active
// is a no-op that leaves the state and the last error untouched, so an
// error diagnostic survives until the next start attempt. In-flight tool
// calls fail with a transport error when the adapter closes.
func (c *Connection) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	handle := c.handle
	adapter := c.adapter
	stopWatch := c.stopWatch
	watchDone := c.watchDone
	c.watchDone = nil
	c.generation++
	c.mu.Unlock()
	c.notify()

	if stopWatch != nil {
		stopWatch()
	}
	if watchDone != nil {
		close(watchDone)
	}
	if adapter != nil {
		if err := adapter.Close(); err != nil {
			logger.Warnf("Failed to close transport for %s: %v", c.cfg.Name, err)
		}
	}
	if err := c.ctrl.Stop(ctx, c.cfg, handle); err != nil {
		logger.Warnf("Failed to stop workload for %s: %v", c.cfg.Name, err)
	}

	c.mu.Lock()
	c.handle = nil
	c.adapter = nil
	c.tools = nil
	c.stopWatch = nil
	c.state = StateInactive
	c.lastErr = nil
	c.mu.Unlock()
	c.notify()

	logger.Infof("Server %s stopped", c.cfg.Name)
	return nil
}

// CallTool forwards a tool call to the backend. The connection must be
// active; the caller bounds the wait through ctx.
func (c *Connection) CallTool(ctx context.Context, tool string, arguments map[string]any) (*mcp.CallToolResult, error) {
	c.mu.Lock()
	if c.state != StateActive {
		state := c.state
		c.mu.Unlock()
		return nil, errors.NewServerNotActiveError(c.cfg.Name,
			fmt.Sprintf("server is %s, not active", state))
	}
	adapter := c.adapter
	c.mu.Unlock()

	result, err := adapter.CallTool(ctx, tool, arguments)
	if err != nil {
		switch {
		case stderrors.Is(err, context.DeadlineExceeded):
			return nil, errors.NewCallTimeoutError(c.cfg.Name,
				fmt.Sprintf("call to %s timed out", tool), err)
		case stderrors.Is(err, transport.ErrTransportClosed):
			return nil, errors.NewTransportError(c.cfg.Name, "connection closed during call", err)
		default:
			return nil, errors.NewTransportError(c.cfg.Name,
				fmt.Sprintf("call to %s failed", tool), err)
		}
	}
	return result, nil
}

// RefreshTools re-enumerates the backend's tools and updates the cache.
func (c *Connection) RefreshTools(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return errors.NewServerNotActiveError(c.cfg.Name, "cannot refresh tools while not active")
	}
	adapter := c.adapter
	c.mu.Unlock()

	tools, err := adapter.ListTools(ctx)
	if err != nil {
		return errors.NewDiscoveryError(c.cfg.Name, "tool enumeration failed", err)
	}

	c.mu.Lock()
	c.tools = tools
	c.refreshedAt = time.Now()
	c.mu.Unlock()
	c.notify()
	return nil
}

// activate runs the start sequence. Any failure tears down whatever came up
// before returning.
func (c *Connection) activate(ctx context.Context) error {
	handle, err := c.ctrl.Start(ctx, c.cfg, c.cfg.ResolvedEnv(c.envReader))
	if err != nil {
		return err
	}

	adapter, err := c.adapters.Create(c.cfg, handle)
	if err != nil {
		c.teardown(ctx, handle, nil)
		return errors.NewLaunchError(c.cfg.Name, "failed to create transport", err)
	}
	if err := adapter.Open(ctx); err != nil {
		c.teardown(ctx, handle, adapter)
		return errors.NewLaunchError(c.cfg.Name, "transport handshake failed", err)
	}

	tools, err := adapter.ListTools(ctx)
	if err != nil {
		c.teardown(ctx, handle, adapter)
		return errors.NewDiscoveryError(c.cfg.Name, "initial tool enumeration failed", err)
	}

	// The monitor outlives the start call's deadline; it is stopped by
	// Stop or by the crash handler.
	errCh, stopWatch, err := c.ctrl.Monitor(context.Background(), c.cfg, handle)
	if err != nil {
		c.teardown(ctx, handle, adapter)
		return errors.NewLaunchError(c.cfg.Name, "failed to monitor workload", err)
	}

	watchDone := make(chan struct{})

	c.mu.Lock()
	c.handle = handle
	c.adapter = adapter
	c.tools = tools
	c.refreshedAt = time.Now()
	c.stopWatch = stopWatch
	c.watchDone = watchDone
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	go c.watch(gen, errCh, watchDone)
	return nil
}

// watch waits for the crash monitor to report an unexpected exit and moves
// the connection to StateError. A stale generation means the connection was
// stopped or restarted in the meantime; the signal is ignored.
func (c *Connection) watch(gen int, errCh <-chan error, done <-chan struct{}) {
	var exitErr error
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		exitErr = err
	case <-done:
		return
	}

	c.mu.Lock()
	if c.generation != gen || c.state != StateActive {
		c.mu.Unlock()
		return
	}
	adapter := c.adapter
	c.handle = nil
	c.adapter = nil
	c.tools = nil
	c.stopWatch = nil
	c.watchDone = nil
	c.state = StateError
	c.lastErr = errors.NewTransportError(c.cfg.Name, "backend exited unexpectedly", exitErr)
	c.mu.Unlock()

	if adapter != nil {
		_ = adapter.Close()
	}
	logger.Errorf("Server %s crashed: %v", c.cfg.Name, exitErr)
	c.notify()
}

func (c *Connection) teardown(ctx context.Context, handle *runtime.Handle, adapter transport.Adapter) {
	if adapter != nil {
		_ = adapter.Close()
	}
	if err := c.ctrl.Stop(ctx, c.cfg, handle); err != nil {
		logger.Warnf("Failed to tear down workload for %s: %v", c.cfg.Name, err)
	}
}

func (c *Connection) setState(state State, err error) {
	c.mu.Lock()
	c.state = state
	c.lastErr = err
	if state == StateError {
		c.handle = nil
		c.adapter = nil
		c.tools = nil
		c.stopWatch = nil
	}
	c.mu.Unlock()
	c.notify()
}
