// Package mcp implements the client half of the Model Context Protocol:
// newline-delimited JSON-RPC 2.0 spoken over the standard input/output of a
// spawned child process.
//
// Each message is a single JSON object terminated by '\n'. Requests carry a
// monotonically increasing integer id; the matching response echoes it. The
// client keeps a pending map from id to waiter, so out-of-order responses are
// tolerated. Methods used: initialize, tools/list, tools/call, plus the
// notifications/initialized notification after a successful handshake.
//
// Example usage:
//
//	client, err := mcp.Spawn("architect", []string{"forged", "architect"}, nil, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	if _, err := client.Initialize(ctx); err != nil {
//	    return err
//	}
//	payload, err := client.CallTool(ctx, "create_architecture", args)
package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the MCP protocol revision this client requests during
// the initialize handshake. Servers may negotiate it down.
const ProtocolVersion = "2024-11-05"

// Request is a JSON-RPC 2.0 request or, when ID is nil, a notification.
type Request struct {
	JSONRPC string `json:"jsonrpc"`          // Always "2.0"
	ID      *int64 `json:"id,omitempty"`     // Absent for notifications
	Method  string `json:"method"`           // initialize, tools/list, tools/call, ...
	Params  any    `json:"params,omitempty"` // Method-specific parameters
}

// Response is any inbound JSON-RPC 2.0 message. A message with an ID answers
// a pending request; a message without one but with a Method is a
// server-initiated notification or request, which this client logs and drops.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail is the error member of a JSON-RPC 2.0 error response.
type ErrorDetail struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// JSON-RPC 2.0 standard error codes.
const (
	CodeParseError     = -32700 // Invalid JSON
	CodeInvalidRequest = -32600 // Invalid Request object
	CodeMethodNotFound = -32601 // Method or tool doesn't exist
	CodeInvalidParams  = -32602 // Invalid method params
	CodeInternalError  = -32603 // Internal server error
)

// Sentinel errors surfaced by the client.
var (
	// ErrHandshake indicates the subprocess did not complete the initialize
	// exchange within the startup timeout. Fatal to the connection.
	ErrHandshake = errors.New("mcp: initialize handshake failed")

	// ErrClosed indicates the connection has been closed or the subprocess
	// exited, and no further calls can be issued.
	ErrClosed = errors.New("mcp: connection closed")
)

// RPCError is a JSON-RPC error response surfaced to the caller. The
// subprocess stays alive; only the one call fails.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mcp: server error %d: %s", e.Code, e.Message)
}

// ToolError is an error-flagged tool result. The tool executed but reported
// failure; the message is the human-readable text the server returned.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcp: tool %q failed: %s", e.Tool, e.Message)
}

// ClientInfo identifies this client during the initialize handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams are the parameters of the initialize request.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// ServerInfo identifies the server that answered the handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the server's answer to the initialize request.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ServerInfo      ServerInfo      `json:"serverInfo"`
}

// Tool describes one named operation a server advertises via tools/list.
// InputSchema is a JSON Schema object (field names and types) the caller may
// use for local validation before sending arguments.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// listToolsResult is the result shape of tools/list.
type listToolsResult struct {
	Tools []Tool `json:"tools"`
}

// callToolParams are the parameters of tools/call.
type callToolParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

// callToolResult is the result shape of tools/call. Success and failure both
// flow through here; IsError marks a failed tool execution.
type callToolResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// contentItem is one element of a tool result's content list. Only text
// content is consumed by this client.
type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// text returns the first text content item, or empty string.
func (r *callToolResult) text() string {
	for _, c := range r.Content {
		if c.Type == "text" {
			return c.Text
		}
	}
	return ""
}
