package mcp

import (
	"encoding/json"
	"strings"
)

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used for communication.
	JSONRPCVersion = "2.0"

	// MethodInitialize is the method name for the connection handshake.
	MethodInitialize = "initialize"
	// MethodPing is the method name for the liveness check.
	MethodPing = "ping"
	// MethodToolsList is the method name for retrieving a list of available tools.
	MethodToolsList = "tools/list"
	// MethodToolsCall is the method name for invoking a specific tool.
	MethodToolsCall = "tools/call"
	// MethodNotificationsInitialized is the notification a client sends once it has
	// processed the initialize result.
	MethodNotificationsInitialized = "notifications/initialized"

	// protocolVersion is the version this server prefers and falls back to when a
	// client proposes something it does not know.
	protocolVersion = "2024-11-05"

	// ContentTypeText identifies plain text tool output.
	ContentTypeText = "text"
)

// Info contains metadata about a server or client instance including its name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Tool defines a callable tool with its input schema. InputSchema is a JSON Schema
// object describing the expected format of arguments for tools/call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Content represents one element of a tool result with its type.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolParams contains parameters for executing a specific tool.
type CallToolParams struct {
	// Name is the unique identifier of the tool to execute.
	Name string `json:"name"`

	// Arguments is a map of argument name-value pairs. Must satisfy the required
	// arguments defined in the tool's InputSchema field.
	Arguments map[string]any `json:"arguments"`
}

// CallToolResult represents the outcome of a tool invocation via tools/call.
// IsError indicates whether the operation failed, with details in Content.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// ListToolsResult represents the list of tools returned by tools/list, in
// registration order.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// ServerCapabilities represents server capabilities.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability represents tools-specific capabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Info           `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
}

// textResult wraps plain tool output in the wire result shape.
func textResult(text string) CallToolResult {
	return CallToolResult{
		Content: []Content{{Type: ContentTypeText, Text: text}},
	}
}

// supportedProtocolVersions lists the revisions this server can speak, newest first.
var supportedProtocolVersions = []string{"2025-03-26", protocolVersion}

// negotiateVersion picks the protocol version for a session. An exact match on a
// supported version is echoed back; otherwise the newest supported version sharing the
// proposal's major identifier (the year, for date-based versions) is chosen, and
// failing that the server default. A mismatch is reported to the caller for logging,
// never rejected.
func negotiateVersion(proposed string) (version string, matched bool) {
	for _, v := range supportedProtocolVersions {
		if v == proposed {
			return v, true
		}
	}
	for _, v := range supportedProtocolVersions {
		if major(v) == major(proposed) {
			return v, false
		}
	}
	return protocolVersion, false
}

func major(version string) string {
	if i := strings.IndexByte(version, '-'); i > 0 {
		return version[:i]
	}
	return version
}
