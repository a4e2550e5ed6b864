package conn

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/config"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/env"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/errors"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/lifecycle"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/registry"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/runtime"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/transport"
)

// startAllConcurrency bounds how many backends are activated in parallel.
const startAllConcurrency = 4

// AdapterFactory creates the transport adapter for a started backend.
// *transport.Factory is the production implementation.
type AdapterFactory interface {
	Create(cfg *config.ServerConfig, handle *runtime.Handle) (transport.Adapter, error)
}

// Manager owns one connection per registered server.
type Manager struct {
	registry  *registry.Registry
	ctrl      lifecycle.Controller
	adapters  AdapterFactory
	envReader env.Reader

	mu    sync.RWMutex
	conns map[string]*Connection

	// onChange is invoked whenever the routable set may have changed.
	onChange func()
}

// NewManager creates a connection manager on top of the registry and the
// lifecycle controller.
func NewManager(
	reg *registry.Registry, ctrl lifecycle.Controller, adapters AdapterFactory, envReader env.Reader,
) *Manager {
	m := &Manager{
		registry:  reg,
		ctrl:      ctrl,
		adapters:  adapters,
		envReader: envReader,
		conns:     make(map[string]*Connection),
		onChange:  func() {},
	}
	return m
}

// OnChange registers the hook invoked after any state or tool-set change.
// Must be called before the manager is shared across goroutines.
func (m *Manager) OnChange(hook func()) {
	if hook != nil {
		m.onChange = hook
	}
}

// Get returns the connection for a server, if one has been created.
func (m *Manager) Get(name string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[name]
	return c, ok
}

// Start activates the named server.
func (m *Manager) Start(ctx context.Context, name string) error {
	conn, err := m.connFor(name)
	if err != nil {
		return err
	}
	return conn.Start(ctx)
}

// Stop deactivates the named server. Stopping an unknown server is an
// error; stopping a server that is not running is not.
func (m *Manager) Stop(ctx context.Context, name string) error {
	m.mu.RLock()
	conn, ok := m.conns[name]
	m.mu.RUnlock()
	if ok {
		return conn.Stop(ctx)
	}
	if _, registered := m.registry.Get(name); !registered {
		return errors.NewConfigError("server not registered: "+name, nil)
	}
	// Registered but never started; nothing to do.
	return nil
}

// StartAll activates every registered server, a bounded number at a time.
// Per-server failures are collected; one backend failing never prevents the
// others from starting.
func (m *Manager) StartAll(ctx context.Context) map[string]error {
	names := m.registry.Names()

	var mu sync.Mutex
	results := make(map[string]error, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(startAllConcurrency)
	for _, name := range names {
		g.Go(func() error {
			err := m.Start(gctx, name)
			mu.Lock()
			results[name] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// StopAll deactivates every connection the manager has created.
func (m *Manager) StopAll(ctx context.Context) map[string]error {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	var mu sync.Mutex
	results := make(map[string]error, len(conns))

	g := new(errgroup.Group)
	g.SetLimit(startAllConcurrency)
	for _, c := range conns {
		g.Go(func() error {
			err := c.Stop(ctx)
			mu.Lock()
			results[c.Config().Name] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Remove stops and forgets the connection of a server. Used when a
// configuration is replaced or unregistered.
func (m *Manager) Remove(ctx context.Context, name string) {
	m.mu.Lock()
	conn, ok := m.conns[name]
	delete(m.conns, name)
	m.mu.Unlock()

	if ok {
		_ = conn.Stop(ctx)
	}
}

// Active returns the connections currently in StateActive, sorted by the
// registry's lexicographic server order.
func (m *Manager) Active() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []*Connection
	for _, name := range m.registry.Names() {
		if c, ok := m.conns[name]; ok && c.State() == StateActive {
			active = append(active, c)
		}
	}
	return active
}

// States returns the current state of every registered server. Servers that
// were never started report StateUnconfigured.
func (m *Manager) States() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]State)
	for _, name := range m.registry.Names() {
		if c, ok := m.conns[name]; ok {
			states[name] = c.State()
		} else {
			states[name] = StateUnconfigured
		}
	}
	return states
}

// connFor returns the server's connection, creating it on first use. The
// configuration is read while holding the write lock: the registry updates
// its table before firing the replace hook, so a connection inserted here
// either carries the current config or is removed again by that hook.
func (m *Manager) connFor(name string) (*Connection, error) {
	m.mu.RLock()
	conn, ok := m.conns[name]
	m.mu.RUnlock()
	if ok {
		return conn, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[name]; ok {
		return conn, nil
	}
	cfg, ok := m.registry.Get(name)
	if !ok {
		return nil, errors.NewConfigError("server not registered: "+name, nil)
	}
	conn = m.newConnection(cfg)
	m.conns[name] = conn
	return conn, nil
}

func (m *Manager) newConnection(cfg *config.ServerConfig) *Connection {
	return &Connection{
		cfg:        cfg,
		ctrl:       m.ctrl,
		adapters:   m.adapters,
		envReader:  m.envReader,
		checkAvail: m.registry.CheckServerAvailability,
		notify:     func() { m.onChange() },
		state:      StateUnconfigured,
	}
}
