package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSEServer implements a framework-agnostic Server-Sent Events (SSE) transport for
// managing bidirectional client communication. Server-to-client messages stream over
// SSE while client-to-server messages arrive via HTTP POST to a per-session endpoint.
//
// The server provides connection management, message distribution, and session
// tracking through its HandleSSE and HandleMessage http.Handlers, which can be
// integrated with any HTTP framework.
//
// Instances should be created using NewSSEServer and shut down using Shutdown when no
// longer needed.
type SSEServer struct {
	messageURL string
	logger     *slog.Logger

	sessions        chan sseServerSession
	removedSessions chan string
	receivedFrames  chan sseSessionFrame

	done   chan struct{}
	closed chan struct{}
}

type sseServerSession struct {
	id         string
	sess       *sse.Session
	sendMsgs   chan sseServerSessionSendMsg
	recvFrames chan []byte
	logger     *slog.Logger

	done       chan struct{}
	sendClosed chan struct{}
	recvClosed chan struct{}
}

type sseSessionFrame struct {
	sessID string
	frame  []byte
}

type sseServerSessionSendMsg struct {
	msg  *sse.Message
	errs chan<- error
}

// NewSSEServer creates and initializes an SSE transport whose clients post messages to
// the given messageURL. The transport is immediately operational; the returned
// SSEServer must be shut down using Shutdown when no longer needed.
func NewSSEServer(messageURL string, logger *slog.Logger) SSEServer {
	return SSEServer{
		messageURL:      messageURL,
		logger:          logger.With(slog.String("transport", "sse")),
		sessions:        make(chan sseServerSession, 5),
		removedSessions: make(chan string),
		receivedFrames:  make(chan sseSessionFrame),
		done:            make(chan struct{}),
		closed:          make(chan struct{}),
	}
}

// Sessions returns an iterator over active client sessions. The iterator yields new
// Session instances as clients connect to the server.
func (s SSEServer) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		// Store all active sessions in a map for easy lookup when we receive a new message.
		sessionsMap := make(map[string]sseServerSession)

		for {
			select {
			case <-s.done:
				return
			case sess := <-s.sessions:
				// Received a new session from handler.

				go sess.processSendMessages()

				sessionsMap[sess.id] = sess

				if !yield(sess) {
					return
				}
			case sessID := <-s.removedSessions:
				delete(sessionsMap, sessID)
			case sf := <-s.receivedFrames:
				session, ok := sessionsMap[sf.sessID]
				if !ok {
					// Ignore the frame if the session is not found, it might already be closed.
					continue
				}

				// Forward the frame to the session.
				select {
				case <-s.done:
					return
				case session.recvFrames <- sf.frame:
				}
			}
		}
	}
}

// Shutdown gracefully shuts down the SSE transport by terminating all active client
// connections and cleaning up internal resources. This method blocks until shutdown
// is complete.
func (s SSEServer) Shutdown(ctx context.Context) error {
	close(s.done)

	// Wait for main loop to finish.
	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close SSE server: %w", ctx.Err())
	case <-s.closed:
	}
	return nil
}

// HandleSSE returns an http.Handler for establishing SSE connections over GET
// requests. The handler upgrades HTTP connections to SSE, assigns unique session IDs,
// and tells clients their message endpoint via the initial "endpoint" event. The
// connection remains open until either side closes it.
func (s SSEServer) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			s.logger.Error("failed to upgrade session", "err", nErr)
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		sessID := uuid.New().String()

		// Form an url for the client that can be used to communicate with the server session.
		url := fmt.Sprintf("%s?sessionID=%s", s.messageURL, sessID)

		// Use the type "endpoint" to indicate the endpoint URL.
		msg := sse.Message{
			Type: sse.Type("endpoint"),
		}
		msg.AppendData(url)
		if err := sess.Send(&msg); err != nil {
			nErr := fmt.Errorf("failed to write SSE URL: %w", err)
			s.logger.Error("failed to write SSE URL", "err", nErr)
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		if err := sess.Flush(); err != nil {
			nErr := fmt.Errorf("failed to flush SSE: %w", err)
			s.logger.Error("failed to flush SSE", "err", nErr)
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		srvSession := sseServerSession{
			id:         sessID,
			sess:       sess,
			logger:     s.logger,
			sendMsgs:   make(chan sseServerSessionSendMsg, 5),
			recvFrames: make(chan []byte, 5),
			done:       make(chan struct{}),
			sendClosed: make(chan struct{}),
			recvClosed: make(chan struct{}),
		}

		// Feed the sessions channel that would be consumed in Sessions loop. After
		// shutdown the loop is gone, so bail out instead of blocking forever.
		select {
		case s.sessions <- srvSession:
		case <-s.done:
			return
		}

		// Block until the session is closed, so the connection is left open.
		select {
		case <-srvSession.sendClosed:
			<-srvSession.recvClosed
		case <-s.done:
			return
		}

		// Notify the main loop that this session is closed.
		select {
		case s.removedSessions <- sessID:
		case <-s.done:
		}
	})
}

// HandleMessage returns an http.Handler for processing client messages sent via POST
// requests. The handler expects a sessionID query parameter and routes the raw body to
// the corresponding session's frame stream. The body is not decoded here: a malformed
// payload still reaches the engine so the parse error travels back over the SSE
// stream.
func (s SSEServer) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessID := r.URL.Query().Get("sessionID")
		if sessID == "" {
			nErr := fmt.Errorf("missing sessionID query parameter")
			s.logger.Warn("missing sessionID query parameter", slog.String("err", nErr.Error()))
			http.Error(w, nErr.Error(), http.StatusBadRequest)
			return
		}

		frame, err := io.ReadAll(io.LimitReader(r.Body, maxHTTPBodyBytes))
		if err != nil {
			nErr := fmt.Errorf("failed to read message body: %w", err)
			s.logger.Warn("failed to read message body", slog.String("err", nErr.Error()))
			http.Error(w, nErr.Error(), http.StatusBadRequest)
			return
		}

		// Feed the receivedFrames channel so the Sessions loop can route it to the
		// correct session.
		select {
		case <-s.done:
			return
		case s.receivedFrames <- sseSessionFrame{sessID: sessID, frame: frame}:
			w.WriteHeader(http.StatusAccepted)
		}
	})
}

func (s sseServerSession) ID() string { return s.id }

func (s sseServerSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	sseMsg := &sse.Message{
		Type: sse.Type("message"),
	}
	sseMsg.AppendData(string(msgBs))

	errs := make(chan error)

	// Queue the message for sending to avoid race in the sse library
	select {
	case s.sendMsgs <- sseServerSessionSendMsg{sseMsg, errs}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while sending message", slog.String("message", string(msgBs)))
		return fmt.Errorf("session is closed")
	}

	// Wait and return the error if any
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while sending message", slog.String("message", string(msgBs)))
		return fmt.Errorf("session is closed")
	}
}

func (s sseServerSession) Messages() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		defer close(s.recvClosed)

		for {
			select {
			case frame := <-s.recvFrames:
				if !yield(frame) {
					return
				}
			case <-s.done:
				return
			}
		}
	}
}

func (s sseServerSession) Stop() {
	close(s.done)

	<-s.sendClosed
	<-s.recvClosed
}

func (s sseServerSession) processSendMessages() {
	defer close(s.sendClosed)

	for {
		select {
		case sm := <-s.sendMsgs:
			// Send and flush the message to the client.
			if err := s.sess.Send(sm.msg); err != nil {
				s.logger.Warn("failed to send message", slog.String("err", err.Error()))

				select {
				case sm.errs <- err:
				default:
				}
				continue
			}
			if err := s.sess.Flush(); err != nil {
				s.logger.Warn("failed to flush message", slog.String("err", err.Error()))

				select {
				case sm.errs <- err:
				default:
				}
				continue
			}

			select {
			case sm.errs <- nil:
			default:
			}
		case <-s.done:
			return
		}
	}
}
