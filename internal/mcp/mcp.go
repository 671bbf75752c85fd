package mcp

import (
	"context"
	"iter"
)

// ServerTransport provides the server-side communication layer for the MCP protocol.
type ServerTransport interface {
	// Sessions returns an iterator that yields new client sessions as they are initiated.
	// Each yielded Session represents a unique client connection and provides methods for
	// bidirectional communication. The implementation must guarantee that each session ID
	// is unique across all active connections.
	//
	// The implementation should exit the iteration when the Shutdown method is called.
	Sessions() iter.Seq[Session]

	// Shutdown gracefully shuts down the ServerTransport to clean up resources. The
	// implementations should not close the Sessions it produced, the caller would already
	// do that when calling this method. The caller is guaranteed to call this method only
	// once.
	Shutdown(ctx context.Context) error
}

// Session represents a communication channel between the server and a single client.
//
// A session carries raw message frames: the transport owns the framing (one frame per
// line on stdio, one frame per HTTP POST body on SSE) while decoding is left to the
// message codec so that malformed payloads can still be answered with a proper
// JSON-RPC parse error.
type Session interface {
	// ID returns the unique identifier for this session. The implementation must
	// guarantee that session IDs are unique across all active sessions managed.
	ID() string

	// Send transmits a message to the client.
	Send(ctx context.Context, msg JSONRPCMessage) error

	// Messages returns an iterator that yields raw message frames received from the
	// client. The implementation should exit the iteration when the session is closed.
	Messages() iter.Seq[[]byte]

	// Stop stops the session. The implementation should not call this itself, as the
	// caller is guaranteed to call this method once.
	Stop()
}

// ToolHandler is the function type bound to a registered tool. It receives the
// already-validated call arguments and returns the textual tool output.
//
// Handlers are expected to be pure and fast, but may honor ctx cancellation when they
// need to block. An error returned by a handler is reported to the client as a
// tool-execution failure; it never tears down the connection.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)
