// Package mcp implements a Model Context Protocol engine: a JSON-RPC 2.0 message
// codec, a validating tool registry, a middleware chain around tool invocation, a
// per-session handshake state machine, and transports carrying the protocol over
// stdio, plain HTTP, and Server-Sent Events.
//
// The engine is transport-agnostic. Transports implement ServerTransport and yield
// Session values whose Messages iterator produces raw frames; the Server decodes each
// frame, runs it through the session's dispatcher, and sends the reply back on the
// same session. Protocol failures are answered with JSON-RPC error objects and never
// tear down the connection.
package mcp
