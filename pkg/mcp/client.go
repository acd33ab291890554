package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCloseGrace is how long Close waits for the subprocess to exit after
// its stdin is closed before it is force-killed.
const DefaultCloseGrace = 5 * time.Second

// Client is a connection to one MCP server subprocess. The client owns the
// process: it spawned it, it is the only writer to its stdin, and Close
// terminates it. All methods are safe for concurrent use.
type Client struct {
	name   string
	logger *zap.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	// CloseGrace overrides DefaultCloseGrace when set before Close.
	CloseGrace time.Duration

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *Response
	closed  bool

	readerDone chan struct{}
	procDone   chan error
}

// Spawn starts the given command and attaches a client to its stdio. The
// extraEnv entries ("KEY=value") are appended to the current environment.
// The subprocess's stderr is drained line-by-line into the logger so
// diagnostics never interleave with protocol traffic.
//
// Spawn does not perform the initialize handshake; call Initialize next.
func Spawn(name string, argv []string, extraEnv []string, logger *zap.Logger) (*Client, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("mcp: empty command for server %q", name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), extraEnv...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdin pipe for %q: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdout pipe for %q: %w", name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stderr pipe for %q: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp: start %q: %w", name, err)
	}

	c := newClient(name, stdin, stdout, logger)
	c.cmd = cmd
	c.procDone = make(chan error, 1)
	go func() { c.procDone <- cmd.Wait() }()
	go c.drainStderr(stderr)

	c.logger.Debug("spawned MCP server", zap.String("server", name), zap.Int("pid", cmd.Process.Pid))
	return c, nil
}

// newClient wires a client onto arbitrary read/write streams. Spawn uses it
// with subprocess pipes; tests use it with in-memory pipes.
func newClient(name string, w io.WriteCloser, r io.Reader, logger *zap.Logger) *Client {
	c := &Client{
		name:       name,
		logger:     logger,
		stdin:      w,
		pending:    make(map[int64]chan *Response),
		readerDone: make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

// readLoop reads newline-terminated JSON messages until the stream closes,
// routing responses to their pending waiters. A message lacking a newline is
// incomplete; the read blocks until one arrives or the stream ends.
func (c *Client) readLoop(r io.Reader) {
	defer close(c.readerDone)

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			c.route(line)
		}
		if err != nil {
			break
		}
	}

	// Stream closed: every outstanding call fails.
	c.mu.Lock()
	c.closed = true
	waiters := c.pending
	c.pending = make(map[int64]chan *Response)
	c.mu.Unlock()
	for id, ch := range waiters {
		c.logger.Warn("connection closed with call outstanding",
			zap.String("server", c.name), zap.Int64("id", id))
		close(ch)
	}
}

// route delivers one inbound message to its waiter. Malformed messages and
// responses with no pending id are protocol errors: logged, never fatal.
func (c *Client) route(line []byte) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		c.logger.Warn("malformed message from server",
			zap.String("server", c.name), zap.Error(err))
		return
	}

	if resp.ID == nil {
		// Server-initiated notification. This client has nothing to do with
		// them beyond acknowledging their existence in the log.
		c.logger.Debug("ignoring server notification",
			zap.String("server", c.name), zap.String("method", resp.Method))
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[*resp.ID]
	if ok {
		delete(c.pending, *resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("response for unknown request id",
			zap.String("server", c.name), zap.Int64("id", *resp.ID))
		return
	}
	ch <- &resp
}

// drainStderr forwards the subprocess's diagnostic stream to the logger.
func (c *Client) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.logger.Debug("server stderr",
			zap.String("server", c.name), zap.String("line", scanner.Text()))
	}
}

// Call issues a request and blocks until the matching response arrives or ctx
// expires. Expiry abandons only this call's waiter; the subprocess and any
// other outstanding calls are unaffected. A JSON-RPC error response is
// returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("mcp: call %s on %q: %w", method, c.name, ErrClosed)
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *Response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(Request{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("mcp: call %s on %q: %w", method, c.name, ctx.Err())
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("mcp: call %s on %q: %w", method, c.name, ErrClosed)
		}
		if resp.Error != nil {
			return nil, &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	}
}

// Notify sends a notification; no response is expected or waited for.
func (c *Client) Notify(method string, params any) error {
	return c.write(Request{JSONRPC: "2.0", Method: method, Params: params})
}

// write marshals one message and appends the terminating newline. Writes are
// serialized so concurrent calls cannot interleave partial lines.
func (c *Client) write(req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("mcp: marshal request: %w", err)
	}
	data = append(data, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("mcp: write to %q: %w", c.name, ErrClosed)
	}
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("mcp: write to %q: %w", c.name, err)
	}
	return nil
}

// Initialize performs the MCP handshake. It must complete before any tool
// call; a failure here is fatal to the connection. The ctx deadline is the
// startup timeout. On success the initialized notification is sent, matching
// the protocol's expectation that the client confirms readiness.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      ClientInfo{Name: "forged-orchestrator", Version: "1.0.0"},
	}
	raw, err := c.Call(ctx, "initialize", params)
	if err != nil {
		return nil, fmt.Errorf("%w: server %q: %v", ErrHandshake, c.name, err)
	}
	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: server %q: decoding result: %v", ErrHandshake, c.name, err)
	}
	if err := c.Notify("notifications/initialized", struct{}{}); err != nil {
		return nil, fmt.Errorf("%w: server %q: %v", ErrHandshake, c.name, err)
	}
	c.logger.Info("MCP handshake complete",
		zap.String("server", c.name),
		zap.String("server_name", result.ServerInfo.Name),
		zap.String("protocol", result.ProtocolVersion))
	return &result, nil
}

// ListTools returns the server's advertised tool menu.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	raw, err := c.Call(ctx, "tools/list", struct{}{})
	if err != nil {
		return nil, err
	}
	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcp: decoding tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a named tool and returns its opaque text payload. An
// error-flagged result is returned as *ToolError with the server's message;
// a JSON-RPC level failure (unknown tool, invalid params) as *RPCError.
func (c *Client) CallTool(ctx context.Context, name string, args any) (string, error) {
	raw, err := c.Call(ctx, "tools/call", callToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}
	var result callToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("mcp: decoding tools/call result: %w", err)
	}
	if result.IsError {
		return "", &ToolError{Tool: name, Message: result.text()}
	}
	return result.text(), nil
}

// Close shuts the connection down in order: stop accepting calls, close the
// server's stdin so it sees EOF, wait up to the grace period for a clean
// exit, then force-kill. Close is idempotent and safe on a half-dead client.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.readerDone
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.stdin.Close()

	if c.cmd != nil {
		grace := c.CloseGrace
		if grace <= 0 {
			grace = DefaultCloseGrace
		}
		select {
		case werr := <-c.procDone:
			if werr != nil {
				c.logger.Debug("server exited with error",
					zap.String("server", c.name), zap.Error(werr))
			}
		case <-time.After(grace):
			c.logger.Warn("server did not exit in time, killing",
				zap.String("server", c.name))
			_ = c.cmd.Process.Kill()
			<-c.procDone
		}
	}

	<-c.readerDone
	c.logger.Debug("connection closed", zap.String("server", c.name))
	return err
}
