package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	// httpEndpointPath is where streamable HTTP backends accept JSON-RPC
	// posts.
	httpEndpointPath = "/mcp"

	// sessionHeader carries the backend-assigned session across requests.
	sessionHeader = "Mcp-Session-Id"

	defaultHTTPTimeout = 30 * time.Second
)

// HTTPAdapter issues one JSON-RPC POST per operation against a streamable
// HTTP backend. Requests are naturally concurrent; no internal queue is
// needed.
type HTTPAdapter struct {
	server   string
	endpoint string
	client   *http.Client

	// lifetime is cancelled by Close so requests already inside the client
	// abort instead of waiting out the backend.
	lifetime context.Context
	cancel   context.CancelFunc

	session atomic.Value // string
	nextID  atomic.Int64
	opened  atomic.Bool
	closed  atomic.Bool
}

// NewHTTPAdapter creates an HTTP adapter for the backend at baseURL.
func NewHTTPAdapter(server, baseURL string) *HTTPAdapter {
	lifetime, cancel := context.WithCancel(context.Background())
	return &HTTPAdapter{
		server:   server,
		endpoint: strings.TrimSuffix(baseURL, "/") + httpEndpointPath,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		lifetime: lifetime,
		cancel:   cancel,
	}
}

// Open performs the MCP handshake and captures the session id, if the
// backend hands one out.
func (a *HTTPAdapter) Open(ctx context.Context) error {
	if !a.opened.CompareAndSwap(false, true) {
		return nil
	}

	initMsg, err := NewRequestMessage(methodInitialize, initializeParams(), a.nextID.Add(1))
	if err != nil {
		return err
	}
	resp, err := a.roundTrip(ctx, initMsg, true)
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
	if _, err := a.roundTrip(ctx, notif, false); err != nil {
		return fmt.Errorf("initialized notification to %s failed: %w", a.server, err)
	}
	return nil
}

// ListTools implements Adapter.
func (a *HTTPAdapter) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	msg, err := NewRequestMessage(methodToolsList, nil, a.nextID.Add(1))
	if err != nil {
		return nil, err
	}
	resp, err := a.roundTrip(ctx, msg, true)
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
func (a *HTTPAdapter) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	msg, err := NewRequestMessage(methodToolsCall, callToolParams(name, arguments), a.nextID.Add(1))
	if err != nil {
		return nil, err
	}
	resp, err := a.roundTrip(ctx, msg, true)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tools/call %s failed: %s", name, resp.Error.Message)
	}
	return mcp.ParseCallToolResult(&resp.Result)
}

// Close implements Adapter. In-flight requests resolve with
// ErrTransportClosed.
func (a *HTTPAdapter) Close() error {
	if a.closed.CompareAndSwap(false, true) {
		a.cancel()
		a.client.CloseIdleConnections()
	}
	return nil
}

func (a *HTTPAdapter) roundTrip(ctx context.Context, msg *JSONRPCMessage, expectReply bool) (*JSONRPCMessage, error) {
	if !a.opened.Load() {
		return nil, ErrNotOpened
	}
	if a.closed.Load() {
		return nil, ErrTransportClosed
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON-RPC message: %w", err)
	}

	// The request context is cancelled when either the caller gives up or
	// the adapter is closed.
	reqCtx, cancelReq := context.WithCancel(ctx)
	defer cancelReq()
	stop := context.AfterFunc(a.lifetime, cancelReq)
	defer stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if session, ok := a.session.Load().(string); ok && session != "" {
		req.Header.Set(sessionHeader, session)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if a.lifetime.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: request to %s aborted", ErrTransportClosed, a.server)
		}
		return nil, fmt.Errorf("request to %s failed: %w", a.server, err)
	}
	defer resp.Body.Close()

	if session := resp.Header.Get(sessionHeader); session != "" {
		a.session.Store(session)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend %s returned status %d", a.server, resp.StatusCode)
	}
	if !expectReply {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	}

	payload, err := responsePayload(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", a.server, err)
	}

	var reply JSONRPCMessage
	if err := json.Unmarshal(payload, &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := reply.Validate(); err != nil {
		return nil, err
	}
	return &reply, nil
}

// responsePayload extracts the JSON-RPC body. Streamable HTTP backends may
// answer a POST with a short SSE stream instead of a plain JSON body; in
// that case the first data event carries the response.
func responsePayload(resp *http.Response) ([]byte, error) {
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return io.ReadAll(resp.Body)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			return []byte(strings.TrimSpace(data)), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: event stream ended without a data event", ErrInvalidMessage)
}
