// Package hub wires the registry, connection manager, aggregator, and
// router into the single surface external callers use.
package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/aggregator"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/config"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/conn"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/env"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/errors"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/lifecycle"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/logger"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/registry"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/router"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/transport"
)

// reconcileTimeout bounds the teardown triggered by a config replace or
// removal.
const reconcileTimeout = 30 * time.Second

// Status is the hub-level summary: how many servers are registered and
// active, how many tools are routable, and how long the hub has been up.
type Status struct {
	ServerCount int           `json:"server_count"`
	ActiveCount int           `json:"active_count"`
	ToolCount   int           `json:"tool_count"`
	Uptime      time.Duration `json:"uptime"`
}

// ServerStatus is one row of ListServers.
type ServerStatus struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Transport string `json:"transport"`
	ToolCount int    `json:"tool_count"`
}

// Options configures a Hub.
type Options struct {
	// Controller manages backend workloads. Required.
	Controller lifecycle.Controller

	// EnvReader resolves required environment variables. Defaults to the
	// process environment.
	EnvReader env.Reader

	// VisibilityStore persists the tool visibility set. Optional; without
	// one the filter starts unset and changes are not persisted.
	VisibilityStore config.VisibilityStore

	// Adapters creates transport adapters. Defaults to the production
	// factory.
	Adapters conn.AdapterFactory
}

// Hub aggregates every registered backend behind one tool surface.
type Hub struct {
	registry   *registry.Registry
	manager    *conn.Manager
	aggregator *aggregator.Aggregator
	router     *router.Router
	store      config.VisibilityStore
	started    time.Time
}

// New creates a hub. The visibility filter is loaded from the store, if one
// is configured.
func New(opts Options) (*Hub, error) {
	if opts.Controller == nil {
		return nil, errors.NewConfigError("lifecycle controller is required", nil)
	}
	envReader := opts.EnvReader
	if envReader == nil {
		envReader = &env.OSReader{}
	}

	adapters := opts.Adapters
	if adapters == nil {
		adapters = transport.NewFactory()
	}

	reg := registry.NewRegistry(envReader)
	manager := conn.NewManager(reg, opts.Controller, adapters, envReader)
	agg := aggregator.NewAggregator(manager)
	rt := router.NewRouter(agg, manager)

	manager.OnChange(agg.Refresh)
	reg.OnReplace(func(name string) {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()
		manager.Remove(ctx, name)
	})

	h := &Hub{
		registry:   reg,
		manager:    manager,
		aggregator: agg,
		router:     rt,
		store:      opts.VisibilityStore,
		started:    time.Now(),
	}

	if opts.VisibilityStore != nil {
		visibility, err := opts.VisibilityStore.Load()
		if err != nil {
			return nil, err
		}
		rt.SetVisibility(visibility)
	}
	return h, nil
}

// RegisterServer adds or replaces a server configuration. Replacing a
// running server stops it first.
func (h *Hub) RegisterServer(cfg *config.ServerConfig) error {
	return h.registry.Register(cfg)
}

// UnregisterServer removes a server configuration, stopping the backend if
// it is running.
func (h *Hub) UnregisterServer(name string) error {
	return h.registry.Unregister(name)
}

// ListConfigured returns the registered server names.
func (h *Hub) ListConfigured() []string {
	return h.registry.Names()
}

// GetServer returns a registered configuration.
func (h *Hub) GetServer(name string) (*config.ServerConfig, bool) {
	return h.registry.Get(name)
}

// CheckAvailability evaluates the required environment of every registered
// server without starting anything.
func (h *Hub) CheckAvailability() map[string]registry.Availability {
	return h.registry.CheckAvailability()
}

// Start activates a server and returns the state it lands in.
func (h *Hub) Start(ctx context.Context, name string) (conn.State, error) {
	err := h.manager.Start(ctx, name)
	return h.serverState(name), err
}

// Stop deactivates a server and returns the state it lands in.
func (h *Hub) Stop(ctx context.Context, name string) (conn.State, error) {
	err := h.manager.Stop(ctx, name)
	return h.serverState(name), err
}

// StartAll activates every registered server and returns the per-server
// outcome.
func (h *Hub) StartAll(ctx context.Context) map[string]error {
	return h.manager.StartAll(ctx)
}

// StopAll deactivates every running server.
func (h *Hub) StopAll(ctx context.Context) map[string]error {
	return h.manager.StopAll(ctx)
}

// ListServers summarizes every registered server.
func (h *Hub) ListServers() []ServerStatus {
	var statuses []ServerStatus
	for _, cfg := range h.registry.List() {
		status := ServerStatus{
			Name:      cfg.Name,
			State:     h.serverState(cfg.Name).String(),
			Transport: string(cfg.Transport),
		}
		if c, ok := h.manager.Get(cfg.Name); ok {
			tools, _ := c.Tools()
			status.ToolCount = len(tools)
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Status summarizes the hub: registered and active server counts, the
// routable tool count, and the uptime.
func (h *Hub) Status() Status {
	states := h.manager.States()
	active := 0
	for _, state := range states {
		if state == conn.StateActive {
			active++
		}
	}
	return Status{
		ServerCount: len(states),
		ActiveCount: active,
		ToolCount:   len(h.router.ListVisible()),
		Uptime:      time.Since(h.started),
	}
}

// ListTools returns the visibility-filtered aggregated tool table.
func (h *Hub) ListTools() []*aggregator.ToolDescriptor {
	return h.router.ListVisible()
}

// GetToolInfo returns the descriptor of a visible tool.
func (h *Hub) GetToolInfo(name string) (*aggregator.ToolDescriptor, error) {
	return h.router.GetToolInfo(name)
}

// GetServerTools returns the aggregated tools owned by one server.
func (h *Hub) GetServerTools(name string) ([]*aggregator.ToolDescriptor, error) {
	if _, ok := h.registry.Get(name); !ok {
		return nil, errors.NewConfigError(fmt.Sprintf("server not registered: %s", name), nil)
	}
	return h.aggregator.ServerTools(name), nil
}

// CallTool routes a tool call to the owning backend. Zero timeout applies
// the router's default.
func (h *Hub) CallTool(
	ctx context.Context, name string, arguments map[string]any, timeout time.Duration,
) (*mcp.CallToolResult, error) {
	return h.router.Call(ctx, name, arguments, timeout)
}

// SetVisibility installs and persists the set of visible tool names.
func (h *Hub) SetVisibility(enabled []string) error {
	visibility := config.NewVisibility(enabled)
	if h.store != nil {
		if err := h.store.Save(visibility); err != nil {
			return err
		}
	}
	h.router.SetVisibility(visibility)
	return nil
}

// Collisions returns the tool name collision diagnostics from the last
// aggregation.
func (h *Hub) Collisions() []aggregator.Collision {
	return h.aggregator.Collisions()
}

// RefreshTools re-enumerates every active backend's tools.
func (h *Hub) RefreshTools(ctx context.Context) {
	h.aggregator.RefreshBackends(ctx)
}

// Reload applies a new configuration set, replace-and-reconcile style:
// every listed server is registered (replacing and restopping as needed)
// and every registered server absent from the new set is unregistered.
func (h *Hub) Reload(cfgs []*config.ServerConfig) error {
	keep := make(map[string]struct{}, len(cfgs))
	for _, cfg := range cfgs {
		if err := h.registry.Register(cfg); err != nil {
			return err
		}
		keep[cfg.Name] = struct{}{}
	}

	for _, name := range h.registry.Names() {
		if _, ok := keep[name]; ok {
			continue
		}
		if err := h.registry.Unregister(name); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfig loads a server configuration file and reconciles the registry
// against it.
func (h *Hub) LoadConfig(path string) error {
	servers, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	if err := h.Reload(servers); err != nil {
		return err
	}
	logger.Infof("Loaded %d server configurations from %s", len(servers), path)
	return nil
}

// Close stops every running backend.
func (h *Hub) Close(ctx context.Context) {
	h.StopAll(ctx)
}

func (h *Hub) serverState(name string) conn.State {
	if c, ok := h.manager.Get(name); ok {
		return c.State()
	}
	return conn.StateUnconfigured
}
