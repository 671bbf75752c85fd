package b64

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hexvalve/mcp-base64/internal/mcp"
)

const (
	// ToolEncode is the name of the text-to-base64 tool.
	ToolEncode = "base64_encode"
	// ToolDecode is the name of the base64-to-text tool.
	ToolDecode = "base64_decode"
)

var encodeSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "text": {
      "type": "string",
      "description": "The text string to encode"
    }
  },
  "required": ["text"]
}`)

var decodeSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "base64_string": {
      "type": "string",
      "description": "The base64 string to decode"
    }
  },
  "required": ["base64_string"]
}`)

// Register binds the base64 tools backed by svc into the registry.
func Register(registry *mcp.Registry, svc *Service) error {
	encodeTool := mcp.Tool{
		Name:        ToolEncode,
		Description: "Encode a text string to base64 format",
		InputSchema: encodeSchema,
	}
	if err := registry.Register(encodeTool, encodeHandler(svc)); err != nil {
		return fmt.Errorf("failed to register %s: %w", ToolEncode, err)
	}

	decodeTool := mcp.Tool{
		Name:        ToolDecode,
		Description: "Decode a base64 string to text",
		InputSchema: decodeSchema,
	}
	if err := registry.Register(decodeTool, decodeHandler(svc)); err != nil {
		return fmt.Errorf("failed to register %s: %w", ToolDecode, err)
	}

	return nil
}

func encodeHandler(svc *Service) mcp.ToolHandler {
	return func(_ context.Context, args map[string]any) (string, error) {
		text, err := stringArg(args, "text")
		if err != nil {
			return "", err
		}
		encoded, err := svc.Encode(text)
		if err != nil {
			return "", wireError(mcp.CodeEncodingError, "Encoding failed", err)
		}
		return encoded, nil
	}
}

func decodeHandler(svc *Service) mcp.ToolHandler {
	return func(_ context.Context, args map[string]any) (string, error) {
		encoded, err := stringArg(args, "base64_string")
		if err != nil {
			return "", err
		}
		decoded, err := svc.Decode(encoded)
		if err != nil {
			if errors.Is(err, ErrNotBase64) {
				return "", wireError(mcp.CodeInvalidBase64, "Invalid base64 input", err)
			}
			return "", wireError(mcp.CodeDecodingError, "Decoding failed", err)
		}
		return decoded, nil
	}
}

// stringArg extracts a required string argument. Schema validation runs before
// invocation, but handlers can also be called without it.
func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", &mcp.JSONRPCError{
			Code:    mcp.CodeInvalidParams,
			Message: "Invalid params",
			Data:    map[string]any{"details": "missing required parameter: " + key},
		}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &mcp.JSONRPCError{
			Code:    mcp.CodeInvalidParams,
			Message: "Invalid params",
			Data:    map[string]any{"details": "parameter " + key + " must be a string"},
		}
	}
	return s, nil
}

func wireError(code int, message string, err error) *mcp.JSONRPCError {
	return &mcp.JSONRPCError{
		Code:    code,
		Message: message,
		Data:    map[string]any{"details": err.Error()},
	}
}
