package mcp

import (
	"log/slog"
	"sync"
	"time"
)

// callOutcome is the resolution of an in-flight tool call: exactly one of result or
// err is meaningful.
type callOutcome struct {
	result CallToolResult
	err    error
}

// pendingCall tracks one in-flight tool call until its outcome arrives or its
// deadline passes.
type pendingCall struct {
	id       string
	tool     string
	started  time.Time
	deadline time.Time
	done     chan callOutcome
}

// correlator matches asynchronous tool-call completions back to the request IDs that
// started them. The pending table is bounded, every entry carries a deadline, and each
// ID resolves at most once. Completions arriving after resolution are logged and
// dropped.
type correlator struct {
	logger  *slog.Logger
	timeout time.Duration
	limit   int

	mu      sync.Mutex
	pending map[string]*pendingCall

	sweepDone chan struct{}
	closeOnce sync.Once
}

func newCorrelator(logger *slog.Logger, timeout time.Duration, limit int) *correlator {
	c := &correlator{
		logger:    logger.With(slog.String("component", "correlator")),
		timeout:   timeout,
		limit:     limit,
		pending:   make(map[string]*pendingCall),
		sweepDone: make(chan struct{}),
	}
	go c.sweep()
	return c
}

// begin registers an in-flight call under the given request ID. It fails when the
// pending table is full or the ID is already in flight.
func (c *correlator) begin(id, tool string) (*pendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) >= c.limit {
		return nil, tooManyRequestsError(c.limit)
	}
	if _, ok := c.pending[id]; ok {
		return nil, invalidRequestError("duplicate in-flight request id " + id)
	}

	now := time.Now()
	p := &pendingCall{
		id:       id,
		tool:     tool,
		started:  now,
		deadline: now.Add(c.timeout),
		done:     make(chan callOutcome, 1),
	}
	c.pending[id] = p
	return p, nil
}

// complete resolves the call registered under id. A completion for an ID that already
// resolved, timed out, or was never registered is a no-op.
func (c *correlator) complete(id string, outcome callOutcome) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("dropping completion for unknown or already resolved call",
			slog.String("id", id))
		return
	}
	p.done <- outcome
}

// wait blocks until the call resolves or its deadline passes. On timeout the entry is
// removed so a late completion becomes a no-op.
func (c *correlator) wait(p *pendingCall) callOutcome {
	timer := time.NewTimer(time.Until(p.deadline))
	defer timer.Stop()

	select {
	case outcome := <-p.done:
		return outcome
	case <-timer.C:
		return c.expire(p)
	}
}

// expire removes a timed-out entry. It races the completion path for the table slot:
// if complete already claimed the entry the outcome is on the channel and wins.
func (c *correlator) expire(p *pendingCall) callOutcome {
	c.mu.Lock()
	_, ok := c.pending[p.id]
	if ok {
		delete(c.pending, p.id)
	}
	c.mu.Unlock()

	if !ok {
		return <-p.done
	}
	c.logger.Warn("tool call timed out",
		slog.String("id", p.id),
		slog.String("tool", p.tool),
		slog.Duration("after", c.timeout))
	return callOutcome{err: requestTimeoutError(p.id, c.timeout.String())}
}

// inflight reports the current pending table size.
func (c *correlator) inflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// sweep periodically clears entries whose deadline passed but whose waiter is gone.
// Under normal operation wait expires entries itself; the sweep is the backstop.
func (c *correlator) sweep() {
	ticker := time.NewTicker(c.timeout)
	defer ticker.Stop()

	for {
		select {
		case <-c.sweepDone:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for id, p := range c.pending {
				if now.After(p.deadline) {
					delete(c.pending, id)
					p.done <- callOutcome{err: requestTimeoutError(id, c.timeout.String())}
					c.logger.Warn("swept stale pending call",
						slog.String("id", id),
						slog.String("tool", p.tool))
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *correlator) close() {
	c.closeOnce.Do(func() {
		close(c.sweepDone)
	})
}
