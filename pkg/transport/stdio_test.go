package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeBackend is a scripted MCP server on the far end of a pipe pair.
type pipeBackend struct {
	requests  *io.PipeReader
	responses *io.PipeWriter

	// callGate, when set, delays every tools/call response until a value
	// is received.
	callGate chan struct{}
}

func newPipeBackend(t *testing.T) (*StdioAdapter, *pipeBackend) {
	t.Helper()

	requestsR, requestsW := io.Pipe()
	responsesR, responsesW := io.Pipe()

	adapter := NewStdioAdapter("a", requestsW, responsesR)
	backend := &pipeBackend{requests: requestsR, responses: responsesW}
	t.Cleanup(func() { _ = adapter.Close() })
	return adapter, backend
}

func (b *pipeBackend) serve() {
	scanner := bufio.NewScanner(b.requests)
	for scanner.Scan() {
		var msg map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		method, _ := msg["method"].(string)

		var result any
		switch method {
		case "initialize":
			result = map[string]any{"protocolVersion": "2024-11-05"}
		case "notifications/initialized":
			continue
		case "tools/list":
			result = map[string]any{"tools": []map[string]any{
				{"name": "echo", "inputSchema": map[string]any{"type": "object"}},
				{"name": "reverse", "inputSchema": map[string]any{"type": "object"}},
			}}
		case "tools/call":
			if b.callGate != nil {
				<-b.callGate
			}
			params, _ := msg["params"].(map[string]any)
			args, _ := params["arguments"].(map[string]any)
			result = map[string]any{"content": []map[string]any{
				{"type": "text", "text": args["text"]},
			}}
		default:
			continue
		}

		reply := map[string]any{"jsonrpc": "2.0", "id": msg["id"], "result": result}
		data, _ := json.Marshal(reply)
		if _, err := b.responses.Write(append(data, '\n')); err != nil {
			return
		}
	}
}

func openAdapter(t *testing.T, adapter *StdioAdapter) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, adapter.Open(ctx))
}

func TestStdioOpenAndListTools(t *testing.T) {
	t.Parallel()

	adapter, backend := newPipeBackend(t)
	go backend.serve()
	openAdapter(t, adapter)

	tools, err := adapter.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "reverse", tools[1].Name)
}

func TestStdioCallTool(t *testing.T) {
	t.Parallel()

	adapter, backend := newPipeBackend(t)
	go backend.serve()
	openAdapter(t, adapter)

	result, err := adapter.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	assert.Equal(t, "hi", text.Text)
}

func TestStdioCallBeforeOpen(t *testing.T) {
	t.Parallel()

	adapter, _ := newPipeBackend(t)
	_, err := adapter.ListTools(context.Background())
	assert.ErrorIs(t, err, ErrNotOpened)
}

func TestStdioCloseFailsPendingCall(t *testing.T) {
	t.Parallel()

	adapter, backend := newPipeBackend(t)
	backend.callGate = make(chan struct{})
	go backend.serve()
	openAdapter(t, adapter)

	callErr := make(chan error, 1)
	go func() {
		_, err := adapter.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
		callErr <- err
	}()

	// Give the call time to reach the worker, then tear the pipes down.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, adapter.Close())

	select {
	case err := <-callErr:
		assert.ErrorIs(t, err, ErrTransportClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call did not resolve after close")
	}
}

func TestStdioTimedOutCallKeepsSlotUntilBackendResponds(t *testing.T) {
	t.Parallel()

	adapter, backend := newPipeBackend(t)
	backend.callGate = make(chan struct{}, 2)
	go backend.serve()
	openAdapter(t, adapter)

	// First call times out while the backend sits on the response. The
	// queue slot stays occupied: a second call cannot start yet.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := adapter.CallTool(ctx, "echo", map[string]any{"text": "slow"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Release the stale response; the worker discards it and serves the
	// next call normally.
	backend.callGate <- struct{}{}
	backend.callGate <- struct{}{}

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	result, err := adapter.CallTool(callCtx, "echo", map[string]any{"text": "fast"})
	require.NoError(t, err)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	assert.Equal(t, "fast", text.Text)
}

func TestStdioToleratesStreamFramingBytes(t *testing.T) {
	t.Parallel()

	requestsR, requestsW := io.Pipe()
	responsesR, responsesW := io.Pipe()
	adapter := NewStdioAdapter("a", requestsW, responsesR)
	t.Cleanup(func() { _ = adapter.Close() })

	go func() {
		scanner := bufio.NewScanner(requestsR)
		for scanner.Scan() {
			var msg map[string]any
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				continue
			}
			if msg["id"] == nil {
				continue
			}
			reply, _ := json.Marshal(map[string]any{
				"jsonrpc": "2.0", "id": msg["id"], "result": map[string]any{},
			})
			// Prefix with multiplexed-stream header bytes the way a
			// container runtime's attach API frames stdout.
			framed := append([]byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, byte(len(reply))}, reply...)
			_, _ = responsesW.Write(append(framed, '\n'))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, adapter.Open(ctx))
}
