package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSSEBackend serves the event stream on /sse and accepts requests on
// /messages, answering them over the stream.
type fakeSSEBackend struct {
	events      chan string
	silentCalls bool
}

func newFakeSSEBackend() *fakeSSEBackend {
	return &fakeSSEBackend{events: make(chan string, 16)}
}

func (b *fakeSSEBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: endpoint\ndata: /messages\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case event := <-b.events:
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", event)
				flusher.Flush()
			}
		}
	})

	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		var msg map[string]any
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)

		method, _ := msg["method"].(string)
		var result any
		switch method {
		case "initialize":
			result = map[string]any{"protocolVersion": "2024-11-05"}
		case "notifications/initialized":
			return
		case "tools/list":
			result = map[string]any{"tools": []map[string]any{
				{"name": "echo", "inputSchema": map[string]any{"type": "object"}},
			}}
		case "tools/call":
			if b.silentCalls {
				return
			}
			params, _ := msg["params"].(map[string]any)
			args, _ := params["arguments"].(map[string]any)
			result = map[string]any{"content": []map[string]any{
				{"type": "text", "text": args["text"]},
			}}
		default:
			return
		}

		reply, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": msg["id"], "result": result})
		b.events <- string(reply)
	})
	return mux
}

func newSSEAdapterFixture(t *testing.T, backend *fakeSSEBackend) *SSEAdapter {
	t.Helper()

	server := httptest.NewServer(backend.handler())
	t.Cleanup(server.Close)

	adapter := NewSSEAdapter("a", server.URL)
	t.Cleanup(func() { _ = adapter.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, adapter.Open(ctx))
	return adapter
}

func TestSSEOpenListAndCall(t *testing.T) {
	t.Parallel()

	adapter := newSSEAdapterFixture(t, newFakeSSEBackend())

	tools, err := adapter.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)

	result, err := adapter.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	assert.Equal(t, "hi", text.Text)
}

func TestSSEConcurrentCallsDemultiplex(t *testing.T) {
	t.Parallel()

	adapter := newSSEAdapterFixture(t, newFakeSSEBackend())

	results := make(chan string, 4)
	for i := 0; i < 4; i++ {
		go func() {
			text := fmt.Sprintf("msg-%d", i)
			result, err := adapter.CallTool(context.Background(), "echo", map[string]any{"text": text})
			if err != nil {
				results <- "error: " + err.Error()
				return
			}
			content, _ := mcp.AsTextContent(result.Content[0])
			// Each caller must get its own correlated reply back.
			if content.Text != text {
				results <- "mismatch: " + content.Text
				return
			}
			results <- text
		}()
	}

	for i := 0; i < 4; i++ {
		select {
		case got := <-results:
			assert.Contains(t, got, "msg-")
		case <-time.After(5 * time.Second):
			t.Fatal("concurrent calls did not complete")
		}
	}
}

func TestSSECallTimesOutWithoutReply(t *testing.T) {
	t.Parallel()

	backend := newFakeSSEBackend()
	backend.silentCalls = true
	adapter := newSSEAdapterFixture(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := adapter.CallTool(ctx, "echo", map[string]any{"text": "hi"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSSECloseFailsPendingCall(t *testing.T) {
	t.Parallel()

	backend := newFakeSSEBackend()
	backend.silentCalls = true
	adapter := newSSEAdapterFixture(t, backend)

	callErr := make(chan error, 1)
	go func() {
		_, err := adapter.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
		callErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, adapter.Close())

	select {
	case err := <-callErr:
		assert.ErrorIs(t, err, ErrTransportClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call did not resolve after close")
	}
}

func TestSSECallBeforeOpen(t *testing.T) {
	t.Parallel()

	adapter := NewSSEAdapter("a", "http://127.0.0.1:0")
	_, err := adapter.ListTools(context.Background())
	assert.ErrorIs(t, err, ErrNotOpened)
}
