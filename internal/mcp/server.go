package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultCallTimeout = 30 * time.Second
	defaultMaxInflight = 64
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// WithServerLogger sets the logger for the server. Without it the server uses
// slog.Default.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMiddleware appends a middleware to the tool-call chain. Middlewares wrap calls
// in registration order, the first being the outermost.
func WithMiddleware(mw Middleware) ServerOption {
	return func(s *Server) {
		s.middlewares = append(s.middlewares, mw)
	}
}

// WithCallTimeout bounds how long a single tools/call may run before the server
// answers with a timeout error.
func WithCallTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.callTimeout = timeout
	}
}

// WithMaxInflight caps the number of concurrently running tool calls per connection.
func WithMaxInflight(limit int) ServerOption {
	return func(s *Server) {
		s.maxInflight = limit
	}
}

// Server is an MCP protocol engine serving one tool registry over any number of
// transports. Each transport session gets its own handshake state machine; tool
// bindings and statistics are shared.
type Server struct {
	info        Info
	registry    *Registry
	logger      *slog.Logger
	middlewares []Middleware
	callTimeout time.Duration
	maxInflight int

	chain *Chain

	mu       sync.Mutex
	sessions map[string]*serverSession
	httpDisp *dispatcher
	httpCorr *correlator
	closed   bool

	done chan struct{}
	wg   sync.WaitGroup
}

type serverSession struct {
	session Session
	disp    *dispatcher
	corr    *correlator

	stopOnce sync.Once
}

// stop tears the session down once, whether it ended naturally or via Shutdown.
func (ss *serverSession) stop() {
	ss.stopOnce.Do(func() {
		ss.disp.Close()
		ss.corr.close()
		ss.session.Stop()
	})
}

// NewServer creates a server advertising the given implementation info and serving the
// tools held by registry.
func NewServer(info Info, registry *Registry, options ...ServerOption) *Server {
	s := &Server{
		info:        info,
		registry:    registry,
		logger:      slog.Default(),
		callTimeout: defaultCallTimeout,
		maxInflight: defaultMaxInflight,
		sessions:    make(map[string]*serverSession),
		done:        make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("server", info.Name))
	s.chain = NewChain(s.logger, s.middlewares...)
	return s
}

// Serve accepts sessions from the transport until Shutdown is called. It blocks for
// the lifetime of the transport and is safe to call from multiple goroutines with
// different transports.
func (s *Server) Serve(transport ServerTransport) {
	for session := range transport.Sessions() {
		select {
		case <-s.done:
			session.Stop()
			return
		default:
		}

		ss := s.register(session)
		if ss == nil {
			session.Stop()
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveSession(ss)
		}()
	}
}

func (s *Server) register(session Session) *serverSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	corr := newCorrelator(s.logger, s.callTimeout, s.maxInflight)
	ss := &serverSession{
		session: session,
		corr:    corr,
		disp: newDispatcher(s.logger.With(slog.String("sessionID", session.ID())),
			s.info, s.registry, s.chain, corr),
	}
	s.sessions[session.ID()] = ss
	return ss
}

func (s *Server) serveSession(ss *serverSession) {
	logger := s.logger.With(slog.String("sessionID", ss.session.ID()))
	logger.Info("session started")

	// Frames are handled concurrently so a slow tool call does not head-of-line
	// block the connection; the session's write queue serializes the replies.
	ctx := context.Background()
	var frameWg sync.WaitGroup
	for frame := range ss.session.Messages() {
		frameWg.Add(1)
		go func(frame []byte) {
			defer frameWg.Done()
			resp := ss.disp.Handle(ctx, frame)
			if resp == nil {
				return
			}
			if err := ss.session.Send(ctx, *resp); err != nil {
				logger.Error("failed to send response",
					slog.String("err", err.Error()))
			}
		}(frame)
	}
	frameWg.Wait()

	s.unregister(ss)
	logger.Info("session ended")
}

func (s *Server) unregister(ss *serverSession) {
	s.mu.Lock()
	delete(s.sessions, ss.session.ID())
	s.mu.Unlock()

	ss.stop()
}

// httpDispatcher returns the dispatcher shared by all HTTP requests. HTTP carries no
// session identity, so the whole HTTP surface behaves as one logical connection whose
// handshake state persists for the server's lifetime.
func (s *Server) httpDispatcher() *dispatcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpDisp == nil {
		s.httpCorr = newCorrelator(s.logger, s.callTimeout, s.maxInflight)
		s.httpDisp = newDispatcher(s.logger.With(slog.String("transport", "http")),
			s.info, s.registry, s.chain, s.httpCorr)
	}
	return s.httpDisp
}

// Stats exposes per-tool call statistics.
func (s *Server) Stats() map[string]ToolStats {
	return s.registry.Stats()
}

// Shutdown stops accepting sessions, closes the active ones, and shuts down the
// transport. The ctx bounds how long to wait for in-flight work.
func (s *Server) Shutdown(ctx context.Context, transport ServerTransport) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sessions := make([]*serverSession, 0, len(s.sessions))
	for _, ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	if s.httpDisp != nil {
		s.httpDisp.Close()
		s.httpCorr.close()
	}
	s.mu.Unlock()

	close(s.done)
	for _, ss := range sessions {
		ss.stop()
	}

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait: %w", ctx.Err())
	}

	return transport.Shutdown(ctx)
}
