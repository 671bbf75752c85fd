package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func testDispatcher(t *testing.T) *dispatcher {
	t.Helper()

	registry := NewRegistry(testLogger())
	tool, handler := echoTool()
	if err := registry.Register(tool, handler); err != nil {
		t.Fatalf("failed to register tool: %v", err)
	}

	corr := newCorrelator(testLogger(), time.Second, 4)
	t.Cleanup(corr.close)

	info := Info{Name: "test-server", Version: "0.1.0"}
	return newDispatcher(testLogger(), info, registry, NewChain(testLogger()), corr)
}

func handshake(t *testing.T, d *dispatcher) {
	t.Helper()

	ctx := context.Background()
	resp := d.Handle(ctx, []byte(
		`{"jsonrpc":"2.0","id":"init","method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test-client","version":"1.0"}}}`))
	if resp == nil || resp.Error != nil {
		t.Fatalf("initialize failed: %+v", resp)
	}
	if got := d.Handle(ctx, []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)); got != nil {
		t.Fatalf("expected no reply to notification, got %+v", got)
	}
}

func TestDispatcherHandshake(t *testing.T) {
	d := testDispatcher(t)

	resp := d.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"c","version":"1"}}}`))
	if resp == nil {
		t.Fatal("expected a response")
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result.ProtocolVersion != "2024-11-05" {
		t.Errorf("unexpected protocol version %s", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "test-server" {
		t.Errorf("unexpected server info %+v", result.ServerInfo)
	}
	if result.Capabilities.Tools == nil {
		t.Error("expected tools capability to be advertised")
	}
}

func TestDispatcherVersionFallback(t *testing.T) {
	d := testDispatcher(t)

	resp := d.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"1999-01-01","clientInfo":{"name":"c","version":"1"}}}`))
	if resp == nil || resp.Error != nil {
		t.Fatalf("expected version mismatch to fall back, got %+v", resp)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result.ProtocolVersion != protocolVersion {
		t.Errorf("expected fallback to %s, got %s", protocolVersion, result.ProtocolVersion)
	}
}

func TestDispatcherRejectsDoubleInitialize(t *testing.T) {
	d := testDispatcher(t)
	handshake(t, d)

	resp := d.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`))
	if resp == nil || resp.Error == nil {
		t.Fatal("expected error for second initialize")
	}
	if resp.Error.Code != CodeInvalidRequest {
		t.Errorf("expected code %d, got %d", CodeInvalidRequest, resp.Error.Code)
	}
}

func TestDispatcherGatesToolMethods(t *testing.T) {
	d := testDispatcher(t)

	for _, method := range []string{MethodToolsList, MethodToolsCall} {
		resp := d.Handle(context.Background(), []byte(
			`{"jsonrpc":"2.0","id":1,"method":"`+method+`"}`))
		if resp == nil || resp.Error == nil {
			t.Fatalf("expected %s before handshake to fail", method)
		}
		if resp.Error.Code != CodeInvalidRequest {
			t.Errorf("%s: expected code %d, got %d", method, CodeInvalidRequest, resp.Error.Code)
		}
	}
}

func TestDispatcherPingInAnyOpenState(t *testing.T) {
	d := testDispatcher(t)

	resp := d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if resp == nil || resp.Error != nil {
		t.Fatalf("expected ping to succeed before handshake, got %+v", resp)
	}

	handshake(t, d)

	resp = d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":2,"method":"ping"}`))
	if resp == nil || resp.Error != nil {
		t.Fatalf("expected ping to succeed after handshake, got %+v", resp)
	}

	d.Close()

	resp = d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":3,"method":"ping"}`))
	if resp == nil || resp.Error == nil {
		t.Fatal("expected ping on closed session to fail")
	}
}

func TestDispatcherToolsList(t *testing.T) {
	d := testDispatcher(t)
	handshake(t, d)

	resp := d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":5,"method":"tools/list"}`))
	if resp == nil || resp.Error != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}

	var result ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if len(result.Tools) != 1 || result.Tools[0].Name != "echo" {
		t.Errorf("unexpected tools: %+v", result.Tools)
	}
}

func TestDispatcherToolsCall(t *testing.T) {
	d := testDispatcher(t)
	handshake(t, d)

	resp := d.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hello"}}}`))
	if resp == nil || resp.Error != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.ID.String() != "6" {
		t.Errorf("expected reply correlated to id 6, got %s", resp.ID.String())
	}

	var result CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hello" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestDispatcherToolsCallValidation(t *testing.T) {
	d := testDispatcher(t)
	handshake(t, d)

	// Missing required argument is rejected before the handler runs.
	resp := d.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"echo","arguments":{}}}`))
	if resp == nil || resp.Error == nil {
		t.Fatal("expected validation error")
	}
	if resp.Error.Code != CodeInvalidParams {
		t.Errorf("expected code %d, got %d", CodeInvalidParams, resp.Error.Code)
	}

	resp = d.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"missing","arguments":{}}}`))
	if resp == nil || resp.Error == nil {
		t.Fatal("expected tool-not-found error")
	}
	if resp.Error.Code != CodeToolNotFound {
		t.Errorf("expected code %d, got %d", CodeToolNotFound, resp.Error.Code)
	}
}

func TestDispatcherEchoesNumericID(t *testing.T) {
	d := testDispatcher(t)

	resp := d.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"c","version":"1"}}}`))
	if resp == nil || resp.Error != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}

	bs, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(bs, &raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id, ok := raw["id"].(float64); !ok || id != 1 {
		t.Errorf("expected numeric id 1 on the wire, got %v (%T)", raw["id"], raw["id"])
	}
}

func TestDispatcherInvalidEnvelope(t *testing.T) {
	d := testDispatcher(t)

	// Well-formed JSON that is not a request object.
	resp := d.Handle(context.Background(), []byte(`[1,2,3]`))
	if resp == nil || resp.Error == nil {
		t.Fatal("expected invalid-request error for array payload")
	}
	if resp.Error.Code != CodeInvalidRequest {
		t.Errorf("expected code %d, got %d", CodeInvalidRequest, resp.Error.Code)
	}

	// A request object without a method, with the id preserved in the reply.
	resp = d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":7}`))
	if resp == nil || resp.Error == nil {
		t.Fatal("expected invalid-request error for missing method")
	}
	if resp.Error.Code != CodeInvalidRequest {
		t.Errorf("expected code %d, got %d", CodeInvalidRequest, resp.Error.Code)
	}
	if resp.ID.String() != "7" {
		t.Errorf("expected reply correlated to id 7, got %v", resp.ID)
	}
}

func TestDispatcherParseErrorNullID(t *testing.T) {
	d := testDispatcher(t)

	resp := d.Handle(context.Background(), []byte(`{broken`))
	if resp == nil || resp.Error == nil {
		t.Fatal("expected parse error response")
	}
	if resp.Error.Code != CodeParseError {
		t.Errorf("expected code %d, got %d", CodeParseError, resp.Error.Code)
	}

	bs, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(bs, &raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw["id"]) != "null" {
		t.Errorf("expected id null on parse error, got %s", raw["id"])
	}
}

func TestDispatcherMethodNotFound(t *testing.T) {
	d := testDispatcher(t)
	handshake(t, d)

	resp := d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":9,"method":"resources/list"}`))
	if resp == nil || resp.Error == nil {
		t.Fatal("expected method-not-found error")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("expected code %d, got %d", CodeMethodNotFound, resp.Error.Code)
	}
}

func TestDispatcherIgnoresUnknownNotification(t *testing.T) {
	d := testDispatcher(t)
	handshake(t, d)

	if resp := d.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","method":"notifications/unknown"}`)); resp != nil {
		t.Errorf("expected no reply, got %+v", resp)
	}
}

func TestDispatcherConcurrentCallsCorrelate(t *testing.T) {
	registry := NewRegistry(testLogger())
	err := registry.Register(Tool{Name: "slow"}, func(_ context.Context, args map[string]any) (string, error) {
		time.Sleep(10 * time.Millisecond)
		return args["tag"].(string), nil
	})
	if err != nil {
		t.Fatalf("failed to register tool: %v", err)
	}

	corr := newCorrelator(testLogger(), time.Second, 16)
	t.Cleanup(corr.close)
	d := newDispatcher(testLogger(), Info{Name: "s", Version: "1"}, registry, NewChain(testLogger()), corr)
	handshake(t, d)

	const calls = 8
	results := make(chan *JSONRPCMessage, calls)
	for i := range calls {
		go func(i int) {
			tag := string(rune('a' + i))
			results <- d.Handle(context.Background(),
				[]byte(`{"jsonrpc":"2.0","id":"`+tag+`","method":"tools/call","params":{"name":"slow","arguments":{"tag":"`+tag+`"}}}`))
		}(i)
	}

	// Each response must carry the result produced for its own id, whatever the
	// completion order.
	for range calls {
		select {
		case resp := <-results:
			if resp == nil || resp.Error != nil {
				t.Fatalf("unexpected response: %+v", resp)
			}
			var result CallToolResult
			if err := json.Unmarshal(resp.Result, &result); err != nil {
				t.Fatalf("failed to unmarshal result: %v", err)
			}
			if result.Content[0].Text != resp.ID.String() {
				t.Errorf("response %s carries result %s", resp.ID.String(), result.Content[0].Text)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for responses")
		}
	}
}

func TestDispatcherInflightCeiling(t *testing.T) {
	const limit = 3

	started := make(chan struct{}, limit+1)
	release := make(chan struct{})

	registry := NewRegistry(testLogger())
	err := registry.Register(Tool{Name: "block"}, func(context.Context, map[string]any) (string, error) {
		started <- struct{}{}
		<-release
		return "done", nil
	})
	if err != nil {
		t.Fatalf("failed to register tool: %v", err)
	}

	corr := newCorrelator(testLogger(), 5*time.Second, limit)
	t.Cleanup(corr.close)
	d := newDispatcher(testLogger(), Info{Name: "s", Version: "1"}, registry, NewChain(testLogger()), corr)
	handshake(t, d)

	results := make(chan *JSONRPCMessage, limit)
	for i := range limit {
		go func(i int) {
			id := string(rune('a' + i))
			results <- d.Handle(context.Background(),
				[]byte(`{"jsonrpc":"2.0","id":"`+id+`","method":"tools/call","params":{"name":"block","arguments":{}}}`))
		}(i)
	}
	for range limit {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for calls to start")
		}
	}

	// The table is full: the next call is rejected instead of blocking.
	resp := d.Handle(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":"z","method":"tools/call","params":{"name":"block","arguments":{}}}`))
	if resp == nil || resp.Error == nil {
		t.Fatal("expected rejection beyond the ceiling")
	}
	if resp.Error.Code != CodeTooManyRequests {
		t.Errorf("expected code %d, got %d", CodeTooManyRequests, resp.Error.Code)
	}

	close(release)
	for range limit {
		select {
		case resp := <-results:
			if resp == nil || resp.Error != nil {
				t.Errorf("unexpected response: %+v", resp)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for blocked calls to finish")
		}
	}
}

func TestDispatcherIgnoresResponses(t *testing.T) {
	d := testDispatcher(t)
	handshake(t, d)

	if resp := d.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":1,"result":{}}`)); resp != nil {
		t.Errorf("expected no reply, got %+v", resp)
	}
}
