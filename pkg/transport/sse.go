package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// ssePath is where SSE backends expose their event stream.
const ssePath = "/sse"

// SSEAdapter talks to a backend over the SSE MCP transport: one persistent
// GET event stream carries responses, while requests go out as individual
// POSTs to the endpoint the backend announces on the stream.
//
// Responses arrive in whatever order the backend produces them, so every
// request carries a unique id and the stream reader demultiplexes replies
// to the waiting caller.
type SSEAdapter struct {
	server  string
	baseURL string
	client  *http.Client

	mu      sync.Mutex
	pending map[string]chan *JSONRPCMessage
	postURL string

	endpointCh   chan string
	closedCh     chan struct{}
	streamCancel context.CancelFunc

	closeOnce sync.Once
	opened    atomic.Bool
}

// NewSSEAdapter creates an SSE adapter for the backend at baseURL.
func NewSSEAdapter(server, baseURL string) *SSEAdapter {
	return &SSEAdapter{
		server:  server,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// No client timeout: the event stream stays open for the life of
		// the connection. Individual calls are bounded by their ctx.
		client:     &http.Client{},
		pending:    make(map[string]chan *JSONRPCMessage),
		endpointCh: make(chan string, 1),
		closedCh:   make(chan struct{}),
	}
}

// Open establishes the event stream, waits for the backend to announce its
// message endpoint, and performs the MCP handshake.
func (a *SSEAdapter) Open(ctx context.Context) error {
	if !a.opened.CompareAndSwap(false, true) {
		return nil
	}

	// The stream must outlive Open's ctx; it is torn down by Close.
	streamCtx, cancel := context.WithCancel(context.Background())
	a.streamCancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, a.baseURL+ssePath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open event stream to %s: %w", a.server, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return fmt.Errorf("event stream to %s returned status %d", a.server, resp.StatusCode)
	}

	go a.readStream(resp)

	select {
	case endpoint := <-a.endpointCh:
		a.mu.Lock()
		a.postURL = a.resolveEndpoint(endpoint)
		a.mu.Unlock()
	case <-a.closedCh:
		return ErrTransportClosed
	case <-ctx.Done():
		a.Close()
		return fmt.Errorf("waiting for %s endpoint event: %w", a.server, ctx.Err())
	}

	return a.handshake(ctx)
}

// ListTools implements Adapter.
func (a *SSEAdapter) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	msg, err := NewRequestMessage(methodToolsList, nil, uuid.NewString())
	if err != nil {
		return nil, err
	}
	resp, err := a.roundTrip(ctx, msg)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tools/list failed: %s", resp.Error.Message)
	}

	var listResult mcp.ListToolsResult
	if err := json.Unmarshal(resp.Result, &listResult); err != nil {
		return nil, fmt.Errorf("failed to decode tools/list result: %w", err)
	}
	return listResult.Tools, nil
}

// CallTool implements Adapter.
func (a *SSEAdapter) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	msg, err := NewRequestMessage(methodToolsCall, callToolParams(name, arguments), uuid.NewString())
	if err != nil {
		return nil, err
	}
	resp, err := a.roundTrip(ctx, msg)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tools/call %s failed: %s", name, resp.Error.Message)
	}
	return mcp.ParseCallToolResult(&resp.Result)
}

// Close aborts the event stream. Every pending call resolves with
// ErrTransportClosed.
func (a *SSEAdapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.closedCh)
		if a.streamCancel != nil {
			a.streamCancel()
		}
	})
	return nil
}

func (a *SSEAdapter) handshake(ctx context.Context) error {
	initMsg, err := NewRequestMessage(methodInitialize, initializeParams(), uuid.NewString())
	if err != nil {
		return err
	}
	resp, err := a.roundTrip(ctx, initMsg)
	if err != nil {
		return fmt.Errorf("initialize handshake with %s failed: %w", a.server, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize handshake with %s rejected: %s", a.server, resp.Error.Message)
	}

	notif, err := NewNotificationMessage(methodInitialized, nil)
	if err != nil {
		return err
	}
	return a.post(ctx, notif)
}

// roundTrip posts a request and waits for its reply on the event stream.
func (a *SSEAdapter) roundTrip(ctx context.Context, msg *JSONRPCMessage) (*JSONRPCMessage, error) {
	if !a.opened.Load() {
		return nil, ErrNotOpened
	}

	key := idKey(msg.ID)
	replyCh := make(chan *JSONRPCMessage, 1)

	a.mu.Lock()
	a.pending[key] = replyCh
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, key)
		a.mu.Unlock()
	}()

	if err := a.post(ctx, msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-a.closedCh:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *SSEAdapter) post(ctx context.Context, msg *JSONRPCMessage) error {
	a.mu.Lock()
	postURL := a.postURL
	a.mu.Unlock()
	if postURL == "" {
		return ErrNotOpened
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON-RPC message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", a.server, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend %s returned status %d", a.server, resp.StatusCode)
	}
	return nil
}

// readStream consumes the event stream, publishing the endpoint event once
// and routing message events to their pending callers.
func (a *SSEAdapter) readStream(resp *http.Response) {
	defer resp.Body.Close()
	defer a.Close()

	var eventName, data string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			a.dispatch(eventName, data)
			eventName, data = "", ""
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	// Flush a final event if the stream ended without a trailing blank line.
	a.dispatch(eventName, data)
}

func (a *SSEAdapter) dispatch(eventName, data string) {
	if data == "" {
		return
	}

	if eventName == "endpoint" {
		select {
		case a.endpointCh <- data:
		default:
		}
		return
	}

	var msg JSONRPCMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil || msg.Validate() != nil {
		return
	}
	if !msg.IsResponse() {
		return
	}

	a.mu.Lock()
	replyCh, ok := a.pending[idKey(msg.ID)]
	a.mu.Unlock()
	if ok {
		// Buffered; never blocks even if the caller already timed out.
		replyCh <- &msg
	}
}

// resolveEndpoint turns the announced endpoint into an absolute URL.
func (a *SSEAdapter) resolveEndpoint(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return a.baseURL + endpoint
}
