// Package transport implements the protocol adapters that let the hub talk
// to backend MCP servers over stdio pipes, plain HTTP, and SSE streams.
//
// All three adapters present the same capability interface; the adapter
// layer absorbs every protocol-specific framing, correlation, and
// concurrency rule so the router can treat every backend identically.
package transport

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/config"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/runtime"
)

// Adapter wraps one live backend connection.
//
// Implementations must be safe for concurrent CallTool use; the stdio
// adapter serializes calls internally, the network adapters delegate
// concurrency to the underlying transport.
type Adapter interface {
	// Open establishes the connection and performs the MCP
	// initialize/initialized handshake.
	Open(ctx context.Context) error

	// ListTools enumerates the backend's tools.
	ListTools(ctx context.Context) ([]mcp.Tool, error)

	// CallTool invokes a tool. The caller bounds the wait through ctx.
	CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error)

	// Close releases the connection. Pending calls fail with
	// ErrTransportClosed.
	Close() error
}

// Factory creates adapters.
type Factory struct{}

// NewFactory creates a new adapter factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Create creates the adapter matching the server's transport kind. For
// stdio the handle must carry attached stdin/stdout.
func (*Factory) Create(cfg *config.ServerConfig, handle *runtime.Handle) (Adapter, error) {
	switch cfg.Transport {
	case config.TransportTypeStdio:
		if handle == nil || handle.Stdin == nil || handle.Stdout == nil {
			return nil, ErrStdioNotAttached
		}
		return NewStdioAdapter(cfg.Name, handle.Stdin, handle.Stdout), nil
	case config.TransportTypeHTTP:
		return NewHTTPAdapter(cfg.Name, cfg.BaseURL()), nil
	case config.TransportTypeSSE:
		return NewSSEAdapter(cfg.Name, cfg.BaseURL()), nil
	default:
		return nil, ErrUnsupportedTransport
	}
}
