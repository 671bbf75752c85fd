package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qri-io/jsonschema"
)

// ErrDuplicateTool indicates a tool with the same name is already registered.
var ErrDuplicateTool = errors.New("tool already registered")

// ToolStats is a point-in-time snapshot of a tool's invocation counters.
type ToolStats struct {
	Calls          int64
	Errors         int64
	AverageLatency time.Duration
}

// toolBinding ties a tool definition to its handler and mutable counters. The
// definition and handler are frozen at registration; only the counters change
// afterwards, and they are the only fields needing synchronization.
type toolBinding struct {
	def     Tool
	schema  *jsonschema.Schema
	handler ToolHandler

	calls  atomic.Int64
	errors atomic.Int64

	latencyMu    sync.Mutex
	totalLatency time.Duration
}

func (b *toolBinding) record(latency time.Duration, failed bool) {
	b.calls.Add(1)
	if failed {
		b.errors.Add(1)
	}
	b.latencyMu.Lock()
	b.totalLatency += latency
	b.latencyMu.Unlock()
}

func (b *toolBinding) stats() ToolStats {
	calls := b.calls.Load()
	b.latencyMu.Lock()
	total := b.totalLatency
	b.latencyMu.Unlock()

	var avg time.Duration
	if calls > 0 {
		avg = total / time.Duration(calls)
	}
	return ToolStats{
		Calls:          calls,
		Errors:         b.errors.Load(),
		AverageLatency: avg,
	}
}

// Registry holds the set of tools a server exposes through tools/list and tools/call.
//
// Registration happens single-threaded during startup and the definition set is frozen
// afterwards, so lookups need no locking; the per-tool counters carry their own
// synchronization. Registration order is preserved and is the order tools/list reports.
type Registry struct {
	logger *slog.Logger

	mu       sync.Mutex // guards registration only
	bindings map[string]*toolBinding
	order    []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger.With(slog.String("component", "registry")),
		bindings: make(map[string]*toolBinding),
	}
}

// Register binds a tool definition to its handler. It fails with ErrDuplicateTool when
// the name is already taken, and rejects definitions whose input schema does not parse.
// Register must only be called during startup, before the registry is served.
func (r *Registry) Register(def Tool, handler ToolHandler) error {
	if def.Name == "" {
		return errors.New("tool name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}

	var schema *jsonschema.Schema
	if len(def.InputSchema) > 0 {
		schema = &jsonschema.Schema{}
		if err := json.Unmarshal(def.InputSchema, schema); err != nil {
			return fmt.Errorf("tool %q has invalid input schema: %w", def.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bindings[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, def.Name)
	}
	r.bindings[def.Name] = &toolBinding{
		def:     def,
		schema:  schema,
		handler: handler,
	}
	r.order = append(r.order, def.Name)

	r.logger.Debug("registered tool", slog.String("tool", def.Name))
	return nil
}

// List returns the registered tool definitions in registration order. The returned
// slice is a copy and safe to hold across calls.
func (r *Registry) List() []Tool {
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.bindings[name].def)
	}
	return tools
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}

// Validate checks the call arguments against the tool's input schema. It returns a
// tool-not-found error for unknown names, and an invalid-params error naming the
// offending field and the reason when the arguments do not satisfy the schema.
func (r *Registry) Validate(ctx context.Context, name string, args map[string]any) error {
	binding, ok := r.bindings[name]
	if !ok {
		return toolNotFoundError(name)
	}
	if binding.schema == nil {
		return nil
	}

	argsBs, err := json.Marshal(args)
	if err != nil {
		return invalidParamsError(fmt.Sprintf("arguments are not serializable: %s", err), nil)
	}

	keyErrs, err := binding.schema.ValidateBytes(ctx, argsBs)
	if err != nil {
		return invalidParamsError(err.Error(), map[string]any{"tool_name": name})
	}
	if len(keyErrs) > 0 {
		// Report the first violation; one actionable field beats a wall of text.
		ke := keyErrs[0]
		return invalidParamsError(ke.Message, map[string]any{
			"tool_name":  name,
			"field":      ke.PropertyPath,
			"violations": len(keyErrs),
		})
	}
	return nil
}

// Invoke calls the handler bound to name and updates the tool's counters. Handler
// failures, including panics, are converted into tool-execution errors carrying the
// original message; they never propagate out of the registry.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (CallToolResult, error) {
	binding, ok := r.bindings[name]
	if !ok {
		return CallToolResult{}, toolNotFoundError(name)
	}

	start := time.Now()
	text, err := r.callHandler(ctx, binding, args)
	latency := time.Since(start)
	binding.record(latency, err != nil)

	if err != nil {
		r.logger.Warn("tool invocation failed",
			slog.String("tool", name),
			slog.Duration("latency", latency),
			slog.String("err", err.Error()))

		var jsonErr *JSONRPCError
		if errors.As(err, &jsonErr) {
			return CallToolResult{}, jsonErr
		}
		return CallToolResult{}, toolExecutionError(name, err)
	}

	r.logger.Debug("tool invoked",
		slog.String("tool", name),
		slog.Duration("latency", latency))
	return textResult(text), nil
}

func (r *Registry) callHandler(ctx context.Context, binding *toolBinding, args map[string]any) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return binding.handler(ctx, args)
}

// Stats returns a snapshot of every tool's counters, keyed by tool name.
func (r *Registry) Stats() map[string]ToolStats {
	stats := make(map[string]ToolStats, len(r.order))
	for _, name := range r.order {
		stats[name] = r.bindings[name].stats()
	}
	return stats
}
