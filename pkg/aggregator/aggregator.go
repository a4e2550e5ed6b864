// Package aggregator maintains the merged tool table built from every
// active backend.
//
// The table is rebuilt from scratch on every change and swapped in
// atomically, so readers always see a consistent snapshot. Collisions
// between backends never fail a refresh; the losing entry is kept out of
// the table and reported as a diagnostic.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/conn"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/errors"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/logger"
)

// refreshConcurrency bounds parallel backend re-enumeration.
const refreshConcurrency = 4

// ToolDescriptor is one entry of the aggregated tool table.
type ToolDescriptor struct {
	// Name is the tool name exactly as the owning backend exports it.
	// Tool names are never prefixed or rewritten.
	Name string `json:"name"`

	// OwningServer is the backend the tool routes to.
	OwningServer string `json:"owning_server"`

	// Description is the backend-provided description.
	Description string `json:"description,omitempty"`

	// InputSchema is the tool's JSON schema.
	InputSchema mcp.ToolInputSchema `json:"input_schema"`
}

// Collision records a tool name exported by more than one active backend.
// The winner stays in the table; the loser's export is suppressed.
type Collision struct {
	Tool   string
	Winner string
	Loser  string
}

// Aggregator builds and serves the merged tool table.
type Aggregator struct {
	manager *conn.Manager

	mu         sync.RWMutex
	table      map[string]*ToolDescriptor
	collisions []Collision
}

// NewAggregator creates an aggregator over the connection manager.
func NewAggregator(manager *conn.Manager) *Aggregator {
	return &Aggregator{
		manager: manager,
		table:   make(map[string]*ToolDescriptor),
	}
}

// Refresh rebuilds the tool table from the cached tool lists of every
// active backend. Backends are merged in lexicographic server order and the
// first exporter of a name wins; later exporters of the same name become
// collision diagnostics. The new table replaces the old one atomically.
func (a *Aggregator) Refresh() {
	table := make(map[string]*ToolDescriptor)
	var collisions []Collision

	for _, c := range a.manager.Active() {
		server := c.Config().Name
		tools, _ := c.Tools()
		for _, tool := range tools {
			if existing, ok := table[tool.Name]; ok {
				collisions = append(collisions, Collision{
					Tool:   tool.Name,
					Winner: existing.OwningServer,
					Loser:  server,
				})
				logger.Warnf("Tool %s from %s collides with %s; keeping %s",
					tool.Name, server, existing.OwningServer, existing.OwningServer)
				continue
			}
			table[tool.Name] = &ToolDescriptor{
				Name:         tool.Name,
				OwningServer: server,
				Description:  tool.Description,
				InputSchema:  tool.InputSchema,
			}
		}
	}

	a.mu.Lock()
	a.table = table
	a.collisions = collisions
	a.mu.Unlock()
}

// Lookup finds a tool in the current table.
func (a *Aggregator) Lookup(name string) (*ToolDescriptor, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	d, ok := a.table[name]
	return d, ok
}

// List returns the current table sorted by tool name.
func (a *Aggregator) List() []*ToolDescriptor {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tools := make([]*ToolDescriptor, 0, len(a.table))
	for _, d := range a.table {
		tools = append(tools, d)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// ServerTools returns the table entries owned by one backend, sorted by
// tool name.
func (a *Aggregator) ServerTools(server string) []*ToolDescriptor {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var tools []*ToolDescriptor
	for _, d := range a.table {
		if d.OwningServer == server {
			tools = append(tools, d)
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Collisions returns the diagnostics recorded by the last refresh.
func (a *Aggregator) Collisions() []Collision {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.collisions
}

// CollisionErrors renders the recorded collisions as taxonomy errors.
func (a *Aggregator) CollisionErrors() []error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	errs := make([]error, 0, len(a.collisions))
	for _, c := range a.collisions {
		errs = append(errs, errors.NewNameCollisionError(c.Loser,
			fmt.Sprintf("tool %s already exported by %s", c.Tool, c.Winner)))
	}
	return errs
}

// RefreshBackends re-enumerates the tools of every active backend in
// parallel, then rebuilds the table. Per-backend discovery failures are
// logged and do not abort the refresh of the others.
func (a *Aggregator) RefreshBackends(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, c := range a.manager.Active() {
		g.Go(func() error {
			if err := c.RefreshTools(gctx); err != nil {
				logger.Warnf("Failed to refresh tools for %s: %v", c.Config().Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	a.Refresh()
}
