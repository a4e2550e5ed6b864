// Package conntest provides fake lifecycle controllers and transport
// adapters for exercising the connection manager and everything above it.
package conntest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/config"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/runtime"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/transport"
)

// FakeController is an in-memory lifecycle.Controller that records calls.
type FakeController struct {
	// StartErr, when set, fails every Start.
	StartErr error

	mu       sync.Mutex
	monitors map[string]chan error

	startCalls atomic.Int32
	stopCalls  atomic.Int32
}

// NewFakeController creates a controller whose workloads always come up.
func NewFakeController() *FakeController {
	return &FakeController{monitors: make(map[string]chan error)}
}

// Start implements lifecycle.Controller.
func (f *FakeController) Start(_ context.Context, cfg *config.ServerConfig, _ map[string]string) (*runtime.Handle, error) {
	f.startCalls.Add(1)
	if f.StartErr != nil {
		return nil, f.StartErr
	}
	return &runtime.Handle{ID: "fake-" + cfg.Name, Name: cfg.Name}, nil
}

// Stop implements lifecycle.Controller.
func (f *FakeController) Stop(_ context.Context, _ *config.ServerConfig, _ *runtime.Handle) error {
	f.stopCalls.Add(1)
	return nil
}

// IsHealthy implements lifecycle.Controller.
func (*FakeController) IsHealthy(_ context.Context, _ *config.ServerConfig, _ *runtime.Handle) (bool, error) {
	return true, nil
}

// Monitor implements lifecycle.Controller. The returned channel can be fed
// through Crash.
func (f *FakeController) Monitor(
	_ context.Context, cfg *config.ServerConfig, _ *runtime.Handle,
) (<-chan error, func(), error) {
	ch := make(chan error, 1)
	f.mu.Lock()
	f.monitors[cfg.Name] = ch
	f.mu.Unlock()
	return ch, func() {}, nil
}

// Crash simulates an unexpected backend exit for the named server.
func (f *FakeController) Crash(name string) {
	f.mu.Lock()
	ch, ok := f.monitors[name]
	f.mu.Unlock()
	if ok {
		ch <- fmt.Errorf("workload exited: %s", name)
	}
}

// StartCalls returns how many times Start was invoked.
func (f *FakeController) StartCalls() int { return int(f.startCalls.Load()) }

// StopCalls returns how many times Stop was invoked.
func (f *FakeController) StopCalls() int { return int(f.stopCalls.Load()) }

// FakeAdapter is an in-memory transport.Adapter serving a fixed tool list.
type FakeAdapter struct {
	// Tools is what ListTools returns.
	Tools []mcp.Tool

	// OpenErr and ListErr, when set, fail the corresponding operation.
	OpenErr error
	ListErr error

	// CallFn handles CallTool. Defaults to echoing the arguments back as
	// text.
	CallFn func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)

	// Block makes CallTool hang until the adapter is closed, then fail
	// with transport.ErrTransportClosed.
	Block bool

	// CallStarted receives one signal per CallTool invocation, if set.
	CallStarted chan struct{}

	closeOnce sync.Once
	closedCh  chan struct{}
	closed    atomic.Bool
	callCount atomic.Int32
}

// NewFakeAdapter creates an adapter exporting the given tools.
func NewFakeAdapter(tools ...mcp.Tool) *FakeAdapter {
	return &FakeAdapter{Tools: tools, closedCh: make(chan struct{})}
}

// Open implements transport.Adapter.
func (f *FakeAdapter) Open(_ context.Context) error {
	return f.OpenErr
}

// ListTools implements transport.Adapter.
func (f *FakeAdapter) ListTools(_ context.Context) ([]mcp.Tool, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return f.Tools, nil
}

// CallTool implements transport.Adapter.
func (f *FakeAdapter) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	f.callCount.Add(1)
	if f.CallStarted != nil {
		f.CallStarted <- struct{}{}
	}
	if f.closed.Load() {
		return nil, transport.ErrTransportClosed
	}
	if f.Block {
		select {
		case <-f.closedCh:
			return nil, transport.ErrTransportClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.CallFn != nil {
		return f.CallFn(ctx, name, args)
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s(%v)", name, args)), nil
}

// Close implements transport.Adapter.
func (f *FakeAdapter) Close() error {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		close(f.closedCh)
	})
	return nil
}

// Closed reports whether Close was called.
func (f *FakeAdapter) Closed() bool { return f.closed.Load() }

// CallCount returns how many times CallTool was invoked.
func (f *FakeAdapter) CallCount() int { return int(f.callCount.Load()) }

// FakeFactory hands out a fixed adapter per server name.
type FakeFactory struct {
	mu       sync.Mutex
	adapters map[string]*FakeAdapter
}

// NewFakeFactory creates an empty factory.
func NewFakeFactory() *FakeFactory {
	return &FakeFactory{adapters: make(map[string]*FakeAdapter)}
}

// Set installs the adapter returned for a server.
func (f *FakeFactory) Set(server string, adapter *FakeAdapter) {
	f.mu.Lock()
	f.adapters[server] = adapter
	f.mu.Unlock()
}

// Get returns the adapter installed for a server.
func (f *FakeFactory) Get(server string) (*FakeAdapter, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.adapters[server]
	return a, ok
}

// Create implements the manager's adapter factory.
func (f *FakeFactory) Create(cfg *config.ServerConfig, _ *runtime.Handle) (transport.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.adapters[cfg.Name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("no fake adapter for server %s", cfg.Name)
}

// EchoTools returns the echo and reverse fixture tools.
func EchoTools() []mcp.Tool {
	schema := mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"text": map[string]any{"type": "string"},
		},
		Required: []string{"text"},
	}
	return []mcp.Tool{
		{Name: "echo", Description: "Echo the input text", InputSchema: schema},
		{Name: "reverse", Description: "Reverse the input text", InputSchema: schema},
	}
}

// EchoCall answers echo and reverse fixture calls.
func EchoCall(_ context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	text, _ := args["text"].(string)
	switch name {
	case "echo":
		return mcp.NewToolResultText(text), nil
	case "reverse":
		runes := []rune(text)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return mcp.NewToolResultText(string(runes)), nil
	default:
		return nil, fmt.Errorf("unknown tool %s", name)
	}
}

// StdioConfig returns a minimal stdio server configuration for tests.
func StdioConfig(name string) *config.ServerConfig {
	return &config.ServerConfig{
		Name:      name,
		Command:   "/bin/fake-server",
		Transport: config.TransportTypeStdio,
	}
}
