// Package config handles configuration loading for mcp-base64.
//
// Configuration is loaded from an optional YAML file with environment variable
// expansion, then overridden by MCP_BASE64_* environment variables, so the server
// also runs fully configured from the environment alone.
//
// # Configuration File
//
// All sections are optional and default sensibly:
//
//	server:
//	  name: "mcp-base64-server"
//	  version: "1.0.0"
//
//	transport:
//	  type: "stdio"            # stdio, http, or sse
//	  http_addr: "0.0.0.0:8080"
//
//	tools:
//	  max_text_bytes: 1048576
//
//	limits:
//	  call_timeout: "30s"
//	  max_inflight: 64
//
//	middleware:
//	  logging: true
//	  rate_limit:
//	    enabled: false
//	    rps: 50
//	    burst: 100
//	  cache:
//	    enabled: false
//	    size: 256
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Environment Variable Expansion
//
// File values can reference environment variables with ${VAR_NAME} syntax.
//
// # Environment Overrides
//
// Individual values can be overridden without a file:
//
//	MCP_BASE64_SERVER_NAME
//	MCP_BASE64_SERVER_VERSION
//	MCP_BASE64_TRANSPORT_TYPE
//	MCP_BASE64_HTTP_ADDR
//	MCP_BASE64_MAX_TEXT_BYTES
//	MCP_BASE64_CALL_TIMEOUT
//	MCP_BASE64_MAX_INFLIGHT
//	MCP_BASE64_LOG_LEVEL
//	MCP_BASE64_LOG_FORMAT
package config
