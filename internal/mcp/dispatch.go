package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// sessionState tracks where a connection is in its lifecycle. The handshake is
// strictly ordered: a session must see initialize, then notifications/initialized,
// before tool operations are served.
type sessionState int

const (
	stateUninitialized sessionState = iota
	stateInitialized
	stateReady
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateInitialized:
		return "initialized"
	case stateReady:
		return "ready"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// dispatcher routes decoded messages for one logical connection. It owns the session
// state machine and delegates tool work to the registry through the middleware chain,
// tracking in-flight calls in the correlator.
type dispatcher struct {
	logger   *slog.Logger
	info     Info
	registry *Registry
	chain    *Chain
	corr     *correlator

	mu         sync.Mutex
	state      sessionState
	version    string
	clientInfo Info
}

func newDispatcher(logger *slog.Logger, info Info, registry *Registry, chain *Chain, corr *correlator) *dispatcher {
	return &dispatcher{
		logger:   logger,
		info:     info,
		registry: registry,
		chain:    chain,
		corr:     corr,
		state:    stateUninitialized,
	}
}

// Handle processes one raw frame and returns the reply to send, or nil when the frame
// was a notification or a response that warrants none. It never returns an error: every
// failure is expressed as a JSON-RPC error reply so the connection survives.
func (d *dispatcher) Handle(ctx context.Context, frame []byte) *JSONRPCMessage {
	msg, err := DecodeMessage(frame)
	if err != nil {
		// A frame that failed to parse has no usable id, so the reply carries the
		// protocol's explicit null. A structurally invalid request may still carry one.
		resp := newErrorResponse(msg.ID, asJSONRPCError(err))
		return &resp
	}

	if msg.IsResponse() {
		d.logger.Warn("ignoring unexpected response message",
			slog.String("id", msg.ID.String()))
		return nil
	}

	if msg.IsNotification() {
		d.handleNotification(msg)
		return nil
	}

	resp := d.handleRequest(ctx, msg)
	return &resp
}

func (d *dispatcher) handleNotification(msg JSONRPCMessage) {
	switch msg.Method {
	case MethodNotificationsInitialized:
		d.mu.Lock()
		if d.state == stateInitialized {
			d.state = stateReady
			d.mu.Unlock()
			d.logger.Info("session ready",
				slog.String("clientName", d.clientInfo.Name),
				slog.String("protocolVersion", d.version))
			return
		}
		state := d.state
		d.mu.Unlock()
		d.logger.Warn("ignoring initialized notification in wrong state",
			slog.String("state", state.String()))
	default:
		d.logger.Debug("ignoring unknown notification",
			slog.String("method", msg.Method))
	}
}

func (d *dispatcher) handleRequest(ctx context.Context, msg JSONRPCMessage) JSONRPCMessage {
	d.mu.Lock()
	state := d.state
	d.mu.Unlock()

	if state == stateClosed {
		return newErrorResponse(msg.ID, invalidRequestError("session is closed"))
	}

	switch msg.Method {
	case MethodInitialize:
		return d.handleInitialize(msg)
	case MethodPing:
		return newResultResponse(msg.ID, struct{}{})
	case MethodToolsList:
		if state != stateReady {
			return newErrorResponse(msg.ID,
				invalidRequestError("tools/list requires a completed handshake, state is "+state.String()))
		}
		return newResultResponse(msg.ID, ListToolsResult{Tools: d.registry.List()})
	case MethodToolsCall:
		if state != stateReady {
			return newErrorResponse(msg.ID,
				invalidRequestError("tools/call requires a completed handshake, state is "+state.String()))
		}
		return d.handleToolsCall(ctx, msg)
	default:
		return newErrorResponse(msg.ID, methodNotFoundError(msg.Method))
	}
}

func (d *dispatcher) handleInitialize(msg JSONRPCMessage) JSONRPCMessage {
	var params initializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return newErrorResponse(msg.ID, invalidParamsError(err.Error(), nil))
		}
	}

	d.mu.Lock()
	if d.state != stateUninitialized {
		state := d.state
		d.mu.Unlock()
		return newErrorResponse(msg.ID,
			invalidRequestError("initialize is only valid once, state is "+state.String()))
	}

	version, matched := negotiateVersion(params.ProtocolVersion)
	d.state = stateInitialized
	d.version = version
	d.clientInfo = params.ClientInfo
	d.mu.Unlock()

	if !matched {
		d.logger.Warn("client proposed unsupported protocol version",
			slog.String("proposed", params.ProtocolVersion),
			slog.String("negotiated", version))
	}

	return newResultResponse(msg.ID, initializeResult{
		ProtocolVersion: version,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{},
		},
		ServerInfo: d.info,
	})
}

func (d *dispatcher) handleToolsCall(ctx context.Context, msg JSONRPCMessage) JSONRPCMessage {
	var params CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return newErrorResponse(msg.ID, invalidParamsError(err.Error(), nil))
	}
	if params.Name == "" {
		return newErrorResponse(msg.ID, invalidParamsError("missing tool name", nil))
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}

	if err := d.registry.Validate(ctx, params.Name, params.Arguments); err != nil {
		return newErrorResponse(msg.ID, asJSONRPCError(err))
	}

	pending, err := d.corr.begin(msg.ID.key(), params.Name)
	if err != nil {
		return newErrorResponse(msg.ID, asJSONRPCError(err))
	}

	// The call context is cancelled once an outcome is settled, so a handler that
	// outlives its deadline can stop early if it watches the context.
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		result, invokeErr := d.chain.Execute(callCtx, params.Name, params.Arguments, d.registry.Invoke)
		d.corr.complete(pending.id, callOutcome{result: result, err: invokeErr})
	}()

	outcome := d.corr.wait(pending)
	if outcome.err != nil {
		return newErrorResponse(msg.ID, asJSONRPCError(outcome.err))
	}
	return newResultResponse(msg.ID, outcome.result)
}

// Close moves the session to its terminal state. Further requests are rejected.
func (d *dispatcher) Close() {
	d.mu.Lock()
	d.state = stateClosed
	d.mu.Unlock()
}
