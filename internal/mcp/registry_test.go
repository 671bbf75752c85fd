package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

var echoSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "text": {"type": "string"}
  },
  "required": ["text"]
}`)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoTool() (Tool, ToolHandler) {
	tool := Tool{
		Name:        "echo",
		Description: "Echo the text argument back",
		InputSchema: echoSchema,
	}
	handler := func(_ context.Context, args map[string]any) (string, error) {
		return args["text"].(string), nil
	}
	return tool, handler
}

func TestRegistryRegisterAndList(t *testing.T) {
	registry := NewRegistry(testLogger())

	tool, handler := echoTool()
	if err := registry.Register(tool, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := registry.Register(Tool{Name: "second"}, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tools := registry.List()
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	// Listing preserves registration order.
	if tools[0].Name != "echo" || tools[1].Name != "second" {
		t.Errorf("unexpected order: %s, %s", tools[0].Name, tools[1].Name)
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	registry := NewRegistry(testLogger())

	tool, handler := echoTool()
	if err := registry.Register(tool, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := registry.Register(tool, handler)
	if !errors.Is(err, ErrDuplicateTool) {
		t.Errorf("expected ErrDuplicateTool, got %v", err)
	}
}

func TestRegistryRejectsInvalidRegistration(t *testing.T) {
	registry := NewRegistry(testLogger())

	_, handler := echoTool()
	if err := registry.Register(Tool{}, handler); err == nil {
		t.Error("expected error for empty tool name")
	}
	if err := registry.Register(Tool{Name: "x"}, nil); err == nil {
		t.Error("expected error for nil handler")
	}
}

func TestRegistryValidate(t *testing.T) {
	registry := NewRegistry(testLogger())
	tool, handler := echoTool()
	if err := registry.Register(tool, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()

	if err := registry.Validate(ctx, "echo", map[string]any{"text": "hi"}); err != nil {
		t.Errorf("expected valid args to pass, got %v", err)
	}

	err := registry.Validate(ctx, "echo", map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing required argument")
	}
	if jsonErr := asJSONRPCError(err); jsonErr.Code != CodeInvalidParams {
		t.Errorf("expected code %d, got %d", CodeInvalidParams, jsonErr.Code)
	}

	err = registry.Validate(ctx, "missing", map[string]any{})
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if jsonErr := asJSONRPCError(err); jsonErr.Code != CodeToolNotFound {
		t.Errorf("expected code %d, got %d", CodeToolNotFound, jsonErr.Code)
	}
}

func TestRegistryInvoke(t *testing.T) {
	registry := NewRegistry(testLogger())
	tool, handler := echoTool()
	if err := registry.Register(tool, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := registry.Invoke(context.Background(), "echo", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hello" {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.IsError {
		t.Error("expected isError to be false")
	}
}

func TestRegistryInvokeUnknownTool(t *testing.T) {
	registry := NewRegistry(testLogger())

	_, err := registry.Invoke(context.Background(), "missing", map[string]any{})
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if jsonErr := asJSONRPCError(err); jsonErr.Code != CodeToolNotFound {
		t.Errorf("expected code %d, got %d", CodeToolNotFound, jsonErr.Code)
	}
}

func TestRegistryInvokeHandlerError(t *testing.T) {
	registry := NewRegistry(testLogger())

	wireErr := &JSONRPCError{Code: CodeInvalidBase64, Message: "Invalid base64 input"}
	err := registry.Register(Tool{Name: "fails"}, func(context.Context, map[string]any) (string, error) {
		return "", wireErr
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = registry.Register(Tool{Name: "opaque"}, func(context.Context, map[string]any) (string, error) {
		return "", errors.New("boom")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A handler error carrying a code passes through unchanged.
	_, err = registry.Invoke(context.Background(), "fails", map[string]any{})
	if jsonErr := asJSONRPCError(err); jsonErr.Code != CodeInvalidBase64 {
		t.Errorf("expected code %d, got %d", CodeInvalidBase64, jsonErr.Code)
	}

	// An opaque error is wrapped as a tool-execution failure.
	_, err = registry.Invoke(context.Background(), "opaque", map[string]any{})
	jsonErr := asJSONRPCError(err)
	if jsonErr.Code != CodeToolExecution {
		t.Errorf("expected code %d, got %d", CodeToolExecution, jsonErr.Code)
	}
	if !strings.Contains(jsonErr.Error(), "boom") {
		t.Errorf("expected details to carry the cause, got %v", jsonErr)
	}
}

func TestRegistryInvokeRecoversPanic(t *testing.T) {
	registry := NewRegistry(testLogger())

	err := registry.Register(Tool{Name: "panics"}, func(context.Context, map[string]any) (string, error) {
		panic("handler exploded")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = registry.Invoke(context.Background(), "panics", map[string]any{})
	if err == nil {
		t.Fatal("expected error from panicking handler")
	}
	if jsonErr := asJSONRPCError(err); jsonErr.Code != CodeToolExecution {
		t.Errorf("expected code %d, got %d", CodeToolExecution, jsonErr.Code)
	}
}

func TestRegistryStats(t *testing.T) {
	registry := NewRegistry(testLogger())
	tool, handler := echoTool()
	if err := registry.Register(tool, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := registry.Register(Tool{Name: "fails"}, func(context.Context, map[string]any) (string, error) {
		return "", errors.New("boom")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	for range 3 {
		if _, err := registry.Invoke(ctx, "echo", map[string]any{"text": "x"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	_, _ = registry.Invoke(ctx, "fails", map[string]any{})

	stats := registry.Stats()
	if stats["echo"].Calls != 3 {
		t.Errorf("expected 3 calls, got %d", stats["echo"].Calls)
	}
	if stats["echo"].Errors != 0 {
		t.Errorf("expected 0 errors, got %d", stats["echo"].Errors)
	}
	if stats["fails"].Calls != 1 || stats["fails"].Errors != 1 {
		t.Errorf("unexpected stats for fails: %+v", stats["fails"])
	}
}
