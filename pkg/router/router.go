// Package router dispatches tool calls to the owning backend connection,
// applying the visibility filter on the way in.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/aggregator"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/config"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/conn"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/errors"
)

// defaultCallTimeout bounds a tool call when the caller does not supply a
// timeout of its own.
const defaultCallTimeout = 60 * time.Second

// Router resolves tool names against the aggregated table and forwards
// calls to the owning connection.
type Router struct {
	aggregator *aggregator.Aggregator
	manager    *conn.Manager

	mu         sync.RWMutex
	visibility *config.Visibility
}

// NewRouter creates a router over the aggregator and connection manager.
func NewRouter(agg *aggregator.Aggregator, manager *conn.Manager) *Router {
	return &Router{aggregator: agg, manager: manager}
}

// SetVisibility installs the visibility filter. A nil filter exposes every
// aggregated tool.
func (r *Router) SetVisibility(v *config.Visibility) {
	r.mu.Lock()
	r.visibility = v
	r.mu.Unlock()
}

// Visibility returns the current filter.
func (r *Router) Visibility() *config.Visibility {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.visibility
}

// ListVisible returns the aggregated tool table filtered by visibility,
// sorted by tool name.
func (r *Router) ListVisible() []*aggregator.ToolDescriptor {
	visibility := r.Visibility()

	var visible []*aggregator.ToolDescriptor
	for _, d := range r.aggregator.List() {
		if visibility.IsEnabled(d.Name) {
			visible = append(visible, d)
		}
	}
	return visible
}

// GetToolInfo returns the descriptor of a visible tool.
func (r *Router) GetToolInfo(name string) (*aggregator.ToolDescriptor, error) {
	d, ok := r.aggregator.Lookup(name)
	if !ok {
		return nil, errors.NewToolNotFoundError(fmt.Sprintf("tool not found: %s", name))
	}
	if !r.Visibility().IsEnabled(name) {
		return nil, errors.NewToolNotVisibleError(fmt.Sprintf("tool is disabled: %s", name))
	}
	return d, nil
}

// Call routes a tool call to the backend owning the name.
//
// Visibility is checked before anything else: a known-but-hidden tool is
// rejected without ever reaching an adapter. The owning server must be
// active; the hub never starts a backend on demand. The timeout applies to
// the full round trip, independent of any timeout the backend enforces
// itself; zero means the default.
func (r *Router) Call(
	ctx context.Context, name string, arguments map[string]any, timeout time.Duration,
) (*mcp.CallToolResult, error) {
	d, ok := r.aggregator.Lookup(name)
	if ok && !r.Visibility().IsEnabled(name) {
		return nil, errors.NewToolNotVisibleError(fmt.Sprintf("tool is disabled: %s", name))
	}
	if !ok {
		return nil, errors.NewToolNotFoundError(fmt.Sprintf("tool not found: %s", name))
	}

	connection, exists := r.manager.Get(d.OwningServer)
	if !exists {
		return nil, errors.NewServerNotActiveError(d.OwningServer, "owning server has no connection")
	}

	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return connection.CallTool(callCtx, name, arguments)
}
