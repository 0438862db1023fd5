// Package interrupt implements the human-input suspension channel: a stage
// asks a question, blocks until an answer is provided or the wait times out,
// and resumes with the answer.
//
// The wait is a signaled wait on a Go channel rather than a polling loop. At
// most one request is pending per channel and each request is resolved
// exactly once, either by Provide or by the timeout.
package interrupt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultTimeout bounds how long a stage waits for an answer.
const DefaultTimeout = 5 * time.Minute

type (
	// Request is a pending question.
	Request struct {
		// SessionID identifies the suspended session.
		SessionID string
		// Question is the text shown to the user.
		Question string
		// CreatedAt records when the question was asked.
		CreatedAt time.Time
	}

	// NotifyFunc is invoked once a request is registered and before the
	// caller blocks. Returning an error withdraws the request.
	NotifyFunc func(ctx context.Context, req Request) error

	// Channel delivers answers to a suspended stage. It is safe for
	// concurrent use.
	Channel struct {
		sessionID string
		timeout   time.Duration
		notify    NotifyFunc
		now       func() time.Time

		mu      sync.Mutex
		pending *pending
	}

	// Option configures a Channel.
	Option func(*Channel)

	// TimeoutError reports that no answer arrived in time. The request is
	// discarded when it is returned.
	TimeoutError struct {
		SessionID string
		Question  string
		After     time.Duration
	}

	pending struct {
		req    Request
		answer chan string
	}
)

var (
	// ErrTimeout matches every TimeoutError via errors.Is.
	ErrTimeout = errors.New("timed out waiting for input")
	// ErrNoPendingRequest is returned by Provide when nothing is waiting.
	ErrNoPendingRequest = errors.New("no pending input request")
	// ErrAlreadyPending is returned by Ask while another request is pending.
	ErrAlreadyPending = errors.New("input request already pending")
)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithNotify registers a callback run when a question is posted.
func WithNotify(fn NotifyFunc) Option {
	return func(c *Channel) { c.notify = fn }
}

// WithClock overrides the time source used to stamp requests.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) {
		if now != nil {
			c.now = now
		}
	}
}

// NewChannel returns a channel for the given session.
func NewChannel(sessionID string, opts ...Option) *Channel {
	c := &Channel{sessionID: sessionID, timeout: DefaultTimeout, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Error implements error.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s after %s", ErrTimeout, e.After)
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// IsTimeout reports whether err is a suspension timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// Ask posts question and blocks until Provide delivers an answer, the
// timeout elapses or ctx is canceled.
func (c *Channel) Ask(ctx context.Context, question string) (string, error) {
	p := &pending{
		req:    Request{SessionID: c.sessionID, Question: question, CreatedAt: c.now()},
		answer: make(chan string, 1),
	}
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return "", ErrAlreadyPending
	}
	c.pending = p
	c.mu.Unlock()

	if c.notify != nil {
		if err := c.notify(ctx, p.req); err != nil {
			c.withdraw(p)
			return "", err
		}
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case a := <-p.answer:
		return a, nil
	case <-timer.C:
		if c.withdraw(p) {
			return "", &TimeoutError{SessionID: c.sessionID, Question: question, After: c.timeout}
		}
	case <-ctx.Done():
		if c.withdraw(p) {
			return "", ctx.Err()
		}
	}
	// Provide won the race with the timer or the context.
	return <-p.answer, nil
}

// Provide resolves the pending request with answer and returns it.
func (c *Channel) Provide(answer string) (Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return Request{}, ErrNoPendingRequest
	}
	p := c.pending
	c.pending = nil
	p.answer <- answer
	return p.req, nil
}

// Pending returns the pending request, if any.
func (c *Channel) Pending() (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return Request{}, false
	}
	return c.pending.req, true
}

// withdraw clears p if it is still pending and reports whether it did.
func (c *Channel) withdraw(p *pending) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != p {
		return false
	}
	c.pending = nil
	return true
}
