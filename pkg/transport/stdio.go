package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
)

// StdioAdapter speaks newline-delimited JSON-RPC over an attached backend
// stdin/stdout pair.
//
// Calls to the same backend are queued and executed one at a time so
// concurrent callers never interleave frames on the pipe; calls to
// different backends proceed fully in parallel because every backend has
// its own adapter. A timed-out call keeps its queue slot occupied until the
// backend eventually responds or the connection is torn down.
type StdioAdapter struct {
	server string
	stdin  io.WriteCloser
	stdout *bufio.Reader
	closer io.Closer

	requests chan *stdioRequest
	closedCh chan struct{}

	closeOnce sync.Once
	opened    atomic.Bool
	nextID    atomic.Int64
}

type stdioRequest struct {
	msg         *JSONRPCMessage
	expectReply bool
	reply       chan *stdioReply
}

type stdioReply struct {
	msg *JSONRPCMessage
	err error
}

// NewStdioAdapter creates a stdio adapter over the given pipe pair.
func NewStdioAdapter(server string, stdin io.WriteCloser, stdout io.ReadCloser) *StdioAdapter {
	return &StdioAdapter{
		server:   server,
		stdin:    stdin,
		stdout:   bufio.NewReader(stdout),
		closer:   stdout,
		requests: make(chan *stdioRequest),
		closedCh: make(chan struct{}),
	}
}

// Open starts the call queue worker and performs the MCP handshake.
func (a *StdioAdapter) Open(ctx context.Context) error {
	if !a.opened.CompareAndSwap(false, true) {
		return nil
	}
	go a.serve()

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
func (a *StdioAdapter) ListTools(ctx context.Context) ([]mcp.Tool, error) {
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
func (a *StdioAdapter) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
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

// Close tears down the pipe pair. Every call still queued or in flight
// resolves with ErrTransportClosed.
func (a *StdioAdapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.closedCh)
		_ = a.stdin.Close()
		_ = a.closer.Close()
	})
	return nil
}

// roundTrip enqueues a message and waits for its reply. On ctx expiry the
// caller gets the context error while the worker keeps the queue slot until
// the backend answers.
func (a *StdioAdapter) roundTrip(ctx context.Context, msg *JSONRPCMessage, expectReply bool) (*JSONRPCMessage, error) {
	if !a.opened.Load() {
		return nil, ErrNotOpened
	}

	req := &stdioRequest{
		msg:         msg,
		expectReply: expectReply,
		reply:       make(chan *stdioReply, 1),
	}

	select {
	case a.requests <- req:
	case <-a.closedCh:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case reply := <-req.reply:
		return reply.msg, reply.err
	case <-a.closedCh:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// serve is the per-connection call queue worker. It writes one request at a
// time and blocks on the matching response before taking the next slot.
func (a *StdioAdapter) serve() {
	for {
		select {
		case <-a.closedCh:
			return
		case req := <-a.requests:
			if err := a.writeMessage(req.msg); err != nil {
				req.reply <- &stdioReply{err: fmt.Errorf("%w: %v", ErrTransportClosed, err)}
				a.Close()
				return
			}
			if !req.expectReply {
				req.reply <- &stdioReply{}
				continue
			}

			resp, err := a.readResponse(idKey(req.msg.ID))
			if err != nil {
				req.reply <- &stdioReply{err: fmt.Errorf("%w: %v", ErrTransportClosed, err)}
				a.Close()
				return
			}
			req.reply <- &stdioReply{msg: resp}
		}
	}
}

func (a *StdioAdapter) writeMessage(msg *JSONRPCMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON-RPC message: %w", err)
	}
	data = append(data, '\n')
	if _, err := a.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write to backend stdin: %w", err)
	}
	return nil
}

// readResponse reads lines until the response with the wanted id arrives.
// Server notifications and stale responses to timed-out calls are dropped.
func (a *StdioAdapter) readResponse(wantID string) (*JSONRPCMessage, error) {
	for {
		line, err := a.stdout.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		msg, ok := parseMessage(line)
		if !ok {
			continue
		}
		if msg.IsResponse() && idKey(msg.ID) == wantID {
			return msg, nil
		}
	}
}

// parseMessage parses one line as a JSON-RPC message, sanitizing any
// non-JSON prefix/suffix bytes the container runtime's stream framing may
// have left around the payload.
func parseMessage(line string) (*JSONRPCMessage, bool) {
	jsonData := line
	for _, c := range line {
		if c < 32 && c != '\t' && c != '\r' {
			jsonData = sanitizeJSONString(line)
			break
		}
	}

	var msg JSONRPCMessage
	if err := json.Unmarshal([]byte(jsonData), &msg); err != nil {
		return nil, false
	}
	if err := msg.Validate(); err != nil {
		return nil, false
	}
	return &msg, true
}

// sanitizeJSONString extracts the first JSON object from a line containing
// control characters.
func sanitizeJSONString(input string) string {
	startIdx := strings.Index(input, "{")
	if startIdx == -1 {
		return input
	}
	endIdx := strings.LastIndex(input, "}")
	if endIdx == -1 || endIdx < startIdx {
		return input
	}
	return input[startIdx : endIdx+1]
}
