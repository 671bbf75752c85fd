package mcp

import (
	"errors"
	"fmt"
)

// JSON-RPC 2.0 reserved error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application-defined error codes. These live outside the JSON-RPC reserved range so
// clients can tell a protocol failure from a tool-level one.
const (
	// CodeInvalidBase64 reports input that is not a well-formed base64 string.
	CodeInvalidBase64 = -1001
	// CodeEncodingError reports a failure while encoding text to base64.
	CodeEncodingError = -1002
	// CodeDecodingError reports a failure while decoding base64 to text.
	CodeDecodingError = -1003
	// CodeToolNotFound reports a tools/call naming a tool that is not registered.
	CodeToolNotFound = -1004
	// CodeToolExecution reports a registered handler that failed while running.
	CodeToolExecution = -1005
	// CodeRateLimited reports a call rejected by the rate-limiting middleware.
	CodeRateLimited = -1006
	// CodeRequestTimeout reports a call that missed its deadline.
	CodeRequestTimeout = -1007
	// CodeTooManyRequests reports a call rejected because the connection already has
	// the maximum number of in-flight calls.
	CodeTooManyRequests = -1008
)

// JSONRPCError represents an error response in the JSON-RPC 2.0 protocol. It follows
// the standard error object format defined in the JSON-RPC 2.0 specification.
type JSONRPCError struct {
	// Code indicates the error type that occurred. Must use standard JSON-RPC error
	// codes or custom codes outside the reserved range.
	Code int `json:"code"`

	// Message provides a short description of the error. Should be limited to a
	// concise single sentence.
	Message string `json:"message"`

	// Data contains additional information about the error. The value is unstructured
	// and may be omitted.
	Data map[string]any `json:"data,omitempty"`
}

func (j *JSONRPCError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s, data %v", j.Code, j.Message, j.Data)
}

func parseError(details string) *JSONRPCError {
	return &JSONRPCError{
		Code:    CodeParseError,
		Message: "Parse error",
		Data:    map[string]any{"details": details},
	}
}

func invalidRequestError(details string) *JSONRPCError {
	return &JSONRPCError{
		Code:    CodeInvalidRequest,
		Message: "Invalid Request",
		Data:    map[string]any{"details": details},
	}
}

func methodNotFoundError(method string) *JSONRPCError {
	return &JSONRPCError{
		Code:    CodeMethodNotFound,
		Message: "Method not found",
		Data:    map[string]any{"method": method},
	}
}

func invalidParamsError(details string, data map[string]any) *JSONRPCError {
	if data == nil {
		data = map[string]any{}
	}
	data["details"] = details
	return &JSONRPCError{
		Code:    CodeInvalidParams,
		Message: "Invalid params",
		Data:    data,
	}
}

func internalError(details string) *JSONRPCError {
	return &JSONRPCError{
		Code:    CodeInternalError,
		Message: "Internal error",
		Data:    map[string]any{"details": details},
	}
}

func toolNotFoundError(name string) *JSONRPCError {
	return &JSONRPCError{
		Code:    CodeToolNotFound,
		Message: "Tool not found",
		Data:    map[string]any{"tool_name": name},
	}
}

func toolExecutionError(name string, err error) *JSONRPCError {
	return &JSONRPCError{
		Code:    CodeToolExecution,
		Message: "Tool execution failed",
		Data: map[string]any{
			"tool_name": name,
			"details":   err.Error(),
		},
	}
}

func rateLimitedError(limit float64, burst int) *JSONRPCError {
	return &JSONRPCError{
		Code:    CodeRateLimited,
		Message: "Rate limit exceeded",
		Data: map[string]any{
			"limit": limit,
			"burst": burst,
		},
	}
}

func requestTimeoutError(id, timeout string) *JSONRPCError {
	return &JSONRPCError{
		Code:    CodeRequestTimeout,
		Message: "Request timed out",
		Data: map[string]any{
			"request_id": id,
			"timeout":    timeout,
		},
	}
}

func tooManyRequestsError(limit int) *JSONRPCError {
	return &JSONRPCError{
		Code:    CodeTooManyRequests,
		Message: "Too many concurrent requests",
		Data:    map[string]any{"limit": limit},
	}
}

// asJSONRPCError converts any error into a wire-ready error object. Errors that already
// carry a code pass through unchanged; everything else is wrapped as an internal error
// so the machinery never leaks unclassified failures.
func asJSONRPCError(err error) *JSONRPCError {
	var jsonErr *JSONRPCError
	if errors.As(err, &jsonErr) {
		return jsonErr
	}
	return internalError(err.Error())
}
