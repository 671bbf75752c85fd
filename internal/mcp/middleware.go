package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Middleware intercepts tool calls around the registry's Invoke.
//
// The chain applies a wrapping discipline: the first registered middleware is the
// outermost. BeforeCall hooks run in registration order and may rewrite the arguments;
// AfterCall hooks run in reverse registration order and may rewrite the result;
// OnError hooks run in reverse registration order when the call fails.
//
// A BeforeCall error short-circuits the call before the handler runs and is mapped
// into the wire error taxonomy. AfterCall and OnError must not mask the call's
// outcome: a panic inside them is logged and swallowed.
type Middleware interface {
	BeforeCall(ctx context.Context, tool string, args map[string]any) (map[string]any, error)
	AfterCall(ctx context.Context, tool string, args map[string]any, result CallToolResult) CallToolResult
	OnError(ctx context.Context, tool string, args map[string]any, err error)
}

// cacheHit is the internal short-circuit a caching middleware uses to serve a stored
// result without running the handler. It travels as an error so the fixed three-method
// interface stays closed, but the chain converts it back into a success.
type cacheHit struct {
	result CallToolResult
}

func (cacheHit) Error() string { return "cached result" }

// Chain is an ordered list of middlewares wrapped around a tool invocation.
type Chain struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// NewChain builds a middleware chain. The order of middlewares is the wrapping order:
// the first is the outermost.
func NewChain(logger *slog.Logger, middlewares ...Middleware) *Chain {
	return &Chain{
		middlewares: middlewares,
		logger:      logger.With(slog.String("component", "middleware")),
	}
}

// invokeFunc is the innermost call the chain wraps, normally Registry.Invoke.
type invokeFunc func(ctx context.Context, tool string, args map[string]any) (CallToolResult, error)

// Execute runs a tool call through the chain.
func (c *Chain) Execute(ctx context.Context, tool string, args map[string]any, invoke invokeFunc) (CallToolResult, error) {
	ran := 0
	for _, mw := range c.middlewares {
		next, err := mw.BeforeCall(ctx, tool, args)
		if hit, ok := err.(cacheHit); ok {
			// Serve the stored result, unwinding only the middlewares outside the
			// cache so they observe the call as completed.
			return c.after(ctx, tool, args, hit.result, ran), nil
		}
		if err != nil {
			c.onError(ctx, tool, args, err, ran)
			return CallToolResult{}, err
		}
		args = next
		ran++
	}

	result, err := invoke(ctx, tool, args)
	if err != nil {
		c.onError(ctx, tool, args, err, ran)
		return CallToolResult{}, err
	}
	return c.after(ctx, tool, args, result, ran), nil
}

// after runs AfterCall on the innermost ran middlewares, in reverse order. Hook
// failures are logged and swallowed so they never mask the result.
func (c *Chain) after(ctx context.Context, tool string, args map[string]any, result CallToolResult, ran int) CallToolResult {
	for i := ran - 1; i >= 0; i-- {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					c.logger.Error("middleware AfterCall panicked",
						slog.String("tool", tool),
						slog.Any("panic", rec))
				}
			}()
			result = c.middlewares[i].AfterCall(ctx, tool, args, result)
		}()
	}
	return result
}

func (c *Chain) onError(ctx context.Context, tool string, args map[string]any, callErr error, ran int) {
	for i := ran - 1; i >= 0; i-- {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					c.logger.Error("middleware OnError panicked",
						slog.String("tool", tool),
						slog.Any("panic", rec))
				}
			}()
			c.middlewares[i].OnError(ctx, tool, args, callErr)
		}()
	}
}

// LoggingMiddleware logs every tool call and its outcome.
type LoggingMiddleware struct {
	logger *slog.Logger
}

// NewLoggingMiddleware creates a middleware that logs calls through the given logger.
func NewLoggingMiddleware(logger *slog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger.With(slog.String("component", "tool-call"))}
}

// BeforeCall implements Middleware.
func (m *LoggingMiddleware) BeforeCall(_ context.Context, tool string, args map[string]any) (map[string]any, error) {
	m.logger.Debug("calling tool", slog.String("tool", tool), slog.Int("args", len(args)))
	return args, nil
}

// AfterCall implements Middleware.
func (m *LoggingMiddleware) AfterCall(_ context.Context, tool string, _ map[string]any, result CallToolResult) CallToolResult {
	m.logger.Info("tool call completed", slog.String("tool", tool), slog.Bool("isError", result.IsError))
	return result
}

// OnError implements Middleware.
func (m *LoggingMiddleware) OnError(_ context.Context, tool string, _ map[string]any, err error) {
	m.logger.Warn("tool call failed", slog.String("tool", tool), slog.String("err", err.Error()))
}

// RateLimitMiddleware rejects calls beyond a sustained rate with a burst allowance.
// Rejections surface as rate-limit errors before the handler runs.
type RateLimitMiddleware struct {
	limiter *rate.Limiter
}

// NewRateLimitMiddleware creates a middleware allowing rps sustained calls per second
// with the given burst.
func NewRateLimitMiddleware(rps float64, burst int) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// BeforeCall implements Middleware.
func (m *RateLimitMiddleware) BeforeCall(_ context.Context, _ string, args map[string]any) (map[string]any, error) {
	if !m.limiter.Allow() {
		return nil, rateLimitedError(float64(m.limiter.Limit()), m.limiter.Burst())
	}
	return args, nil
}

// AfterCall implements Middleware.
func (m *RateLimitMiddleware) AfterCall(_ context.Context, _ string, _ map[string]any, result CallToolResult) CallToolResult {
	return result
}

// OnError implements Middleware.
func (m *RateLimitMiddleware) OnError(context.Context, string, map[string]any, error) {}

// CacheMiddleware serves repeated calls with identical arguments from an LRU cache.
// Only successful results are stored; errors always re-run the handler.
type CacheMiddleware struct {
	cache *lru.Cache[string, CallToolResult]
}

// NewCacheMiddleware creates a caching middleware holding up to size results.
func NewCacheMiddleware(size int) (*CacheMiddleware, error) {
	cache, err := lru.New[string, CallToolResult](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool result cache: %w", err)
	}
	return &CacheMiddleware{cache: cache}, nil
}

// BeforeCall implements Middleware. A cache hit short-circuits the call.
func (m *CacheMiddleware) BeforeCall(_ context.Context, tool string, args map[string]any) (map[string]any, error) {
	key, ok := cacheKey(tool, args)
	if !ok {
		return args, nil
	}
	if result, ok := m.cache.Get(key); ok {
		return nil, cacheHit{result: result}
	}
	return args, nil
}

// AfterCall implements Middleware, storing the fresh result.
func (m *CacheMiddleware) AfterCall(_ context.Context, tool string, args map[string]any, result CallToolResult) CallToolResult {
	if key, ok := cacheKey(tool, args); ok {
		m.cache.Add(key, result)
	}
	return result
}

// OnError implements Middleware.
func (m *CacheMiddleware) OnError(context.Context, string, map[string]any, error) {}

// cacheKey derives a stable key from the tool name and arguments. Go serializes map
// keys in sorted order, so equal argument maps produce equal keys. Arguments that
// cannot be serialized produce no key and the call bypasses the cache.
func cacheKey(tool string, args map[string]any) (string, bool) {
	argsBs, err := json.Marshal(args)
	if err != nil {
		return "", false
	}
	return tool + ":" + string(argsBs), true
}
