// Package registry holds the declarative configuration of every backend
// server known to the hub.
//
// The registry is the single source of truth for server declarations. It
// is safe for concurrent use; List returns snapshots that can be iterated
// without additional locking.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/config"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/env"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/errors"
)

// Availability is the result of a per-server availability check.
type Availability struct {
	// Available is true when every required variable resolves to a
	// non-empty value.
	Available bool

	// MissingEnv lists the required variables that did not resolve.
	MissingEnv []string
}

// Registry stores server configurations keyed by name.
type Registry struct {
	// opMu serializes register/unregister sequences so the replace hook
	// always observes the updated table.
	opMu sync.Mutex

	mu        sync.RWMutex
	servers   map[string]*config.ServerConfig
	envReader env.Reader

	// onReplace is invoked (outside mu, after the table is updated) with
	// the server name whenever an existing configuration is replaced or
	// removed, so the connection manager can tear down any live backend.
	onReplace func(name string)
}

// NewRegistry creates an empty registry that resolves required environment
// variables through the given reader.
func NewRegistry(envReader env.Reader) *Registry {
	return &Registry{
		servers:   make(map[string]*config.ServerConfig),
		envReader: envReader,
	}
}

// OnReplace registers the hook invoked when a configuration is replaced or
// removed. Must be called before the registry is shared across goroutines.
func (r *Registry) OnReplace(hook func(name string)) {
	r.onReplace = hook
}

// Register validates and stores a server configuration. Registering a name
// that already exists replaces the configuration; the replace hook fires
// after the new configuration is visible, so a connection rebuilt
// concurrently can only ever see the new one.
func (r *Registry) Register(cfg *config.ServerConfig) error {
	if cfg == nil {
		return errors.NewConfigError("server configuration must not be nil", nil)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	_, replaced := r.servers[cfg.Name]
	r.servers[cfg.Name] = cfg
	r.mu.Unlock()

	if replaced && r.onReplace != nil {
		r.onReplace(cfg.Name)
	}
	return nil
}

// Unregister removes a server configuration. A running server is stopped
// (via the replace hook) as part of removal. Unknown names are rejected.
func (r *Registry) Unregister(name string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	_, ok := r.servers[name]
	delete(r.servers, name)
	r.mu.Unlock()
	if !ok {
		return errors.NewConfigError(fmt.Sprintf("server not registered: %s", name), nil)
	}

	if r.onReplace != nil {
		r.onReplace(name)
	}
	return nil
}

// Get retrieves a server configuration by name.
func (r *Registry) Get(name string) (*config.ServerConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.servers[name]
	return cfg, ok
}

// List returns all registered configurations sorted by name.
func (r *Registry) List() []*config.ServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	configs := make([]*config.ServerConfig, 0, len(r.servers))
	for _, cfg := range r.servers {
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	return configs
}

// Names returns all registered server names sorted lexicographically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckAvailability evaluates the required environment of every registered
// server. This is a pure check: it never touches the lifecycle controller
// and has no side effects.
func (r *Registry) CheckAvailability() map[string]Availability {
	results := make(map[string]Availability)
	for _, cfg := range r.List() {
		results[cfg.Name] = r.CheckServerAvailability(cfg)
	}
	return results
}

// CheckServerAvailability evaluates the required environment of a single
// server configuration.
func (r *Registry) CheckServerAvailability(cfg *config.ServerConfig) Availability {
	resolved := cfg.ResolvedEnv(r.envReader)

	var missing []string
	for _, key := range cfg.RequiredEnv {
		if resolved[key] != "" {
			continue
		}
		if r.envReader.Getenv(key) != "" {
			continue
		}
		missing = append(missing, key)
	}

	return Availability{Available: len(missing) == 0, MissingEnv: missing}
}
