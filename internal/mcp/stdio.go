package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// StdIO implements a standard input/output transport layer for MCP communication using
// newline-delimited JSON-RPC frames over stdin/stdout or similar io.Reader/io.Writer
// pairs. It provides a single persistent session and handles bidirectional message
// passing through internal channels, processing messages sequentially.
//
// Frames are yielded raw: a line that is not valid JSON still reaches the dispatcher
// so the client gets a parse error back instead of silence.
//
// Resources must be properly released by calling Shutdown when the StdIO instance is
// no longer needed.
type StdIO struct {
	sess   stdIOSession
	closed chan struct{}
}

type stdIOSession struct {
	id     string
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	writeFrames chan stdIOFrame
	done        chan struct{}
	readClosed  chan struct{}
	writeClosed chan struct{}
}

type stdIOFrame struct {
	payload []byte
	errs    chan error
}

// NewStdIO creates a new StdIO instance configured with the provided reader and
// writer. The instance is initialized with the given logger and required internal
// communication channels.
func NewStdIO(reader io.Reader, writer io.Writer, logger *slog.Logger) StdIO {
	return StdIO{
		sess: stdIOSession{
			id:          uuid.New().String(),
			reader:      reader,
			writer:      writer,
			logger:      logger.With(slog.String("transport", "stdio")),
			writeFrames: make(chan stdIOFrame),
			done:        make(chan struct{}),
			readClosed:  make(chan struct{}),
			writeClosed: make(chan struct{}),
		},
		closed: make(chan struct{}),
	}
}

// Sessions implements the ServerTransport interface by providing an iterator that
// yields a single persistent session. This session remains active throughout the
// lifetime of the StdIO instance.
func (s StdIO) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		go s.sess.processWriteFrames()

		// StdIO only supports a single session, so we yield it and wait until it's done.
		yield(s.sess)
		<-s.sess.done
	}
}

// Shutdown implements the ServerTransport interface by waiting for the session loop
// to finish.
func (s StdIO) Shutdown(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
	}
	return nil
}

func (s stdIOSession) ID() string {
	return s.id
}

func (s stdIOSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	// Append newline to maintain message framing protocol
	msgBs = append(msgBs, '\n')

	frame := stdIOFrame{
		payload: msgBs,
		errs:    make(chan error, 1),
	}

	// Queue the frame so concurrent senders never interleave partial writes.
	select {
	case <-ctx.Done():
		s.logger.Error("failed to feed writeFrames channel", slog.String("err", ctx.Err().Error()))
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while feeding writeFrames channel", slog.String("message", string(msgBs)))
		return nil
	case s.writeFrames <- frame:
	}

	// Wait for the resulting error channel to receive the error.
	select {
	case err := <-frame.errs:
		if err != nil {
			s.logger.Error("get error result from write", slog.String("err", err.Error()))
		}
		return err
	case <-ctx.Done():
		s.logger.Error("failed to wait for write result", slog.String("err", ctx.Err().Error()))
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while waiting for write result", slog.String("message", string(msgBs)))
		return nil
	}
}

func (s stdIOSession) Messages() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		defer close(s.readClosed)

		// Use bufio.Reader instead of bufio.Scanner to avoid max token size errors.
		reader := bufio.NewReader(s.reader)
		for {
			type lineWithErr struct {
				line string
				err  error
			}

			lines := make(chan lineWithErr)

			// We use goroutines to avoid blocking on slow readers, so we can listen
			// to done channel and return if needed.
			go func() {
				line, err := reader.ReadString('\n')
				if err != nil {
					select {
					case lines <- lineWithErr{err: err}:
					default:
					}
					return
				}
				select {
				case lines <- lineWithErr{line: strings.TrimSuffix(line, "\n")}:
				default:
				}
			}()

			var lwe lineWithErr
			select {
			case <-s.done:
				return
			case lwe = <-lines:
			}

			if lwe.err != nil {
				if errors.Is(lwe.err, io.EOF) {
					return
				}
				s.logger.Error("failed to read frame", "err", lwe.err)
				return
			}

			if strings.TrimSpace(lwe.line) == "" {
				continue
			}

			// We stop iteration if yield returns false
			if !yield([]byte(lwe.line)) {
				return
			}
		}
	}
}

func (s stdIOSession) Stop() {
	close(s.done)
	<-s.readClosed
	<-s.writeClosed
}

func (s stdIOSession) processWriteFrames() {
	defer close(s.writeClosed)

	for {
		// Process the write queue until the session is closed.
		var frame stdIOFrame
		select {
		case <-s.done:
			return
		case frame = <-s.writeFrames:
		}

		_, err := s.writer.Write(frame.payload)

		frame.errs <- err
	}
}
