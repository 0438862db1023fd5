package model

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

type (
	// RateLimiter is an adaptive tokens-per-minute budget shared by every
	// stage agent of the process. It halves the budget when the provider
	// reports rate limiting and recovers additively on success.
	RateLimiter struct {
		mu       sync.Mutex
		limiter  *rate.Limiter
		current  float64
		min, max float64
		recovery float64
		onAdjust func(tpm float64, backoff bool)
	}

	limitedClient struct {
		next    Client
		limiter *RateLimiter
	}
)

// NewRateLimiter returns a limiter starting at tpm tokens per minute and
// never exceeding maxTPM. Non positive tpm defaults to 60000.
func NewRateLimiter(tpm, maxTPM float64) *RateLimiter {
	if tpm <= 0 {
		tpm = 60000
	}
	if maxTPM < tpm {
		maxTPM = tpm
	}
	return &RateLimiter{
		limiter:  rate.NewLimiter(rate.Limit(tpm/60), int(tpm)),
		current:  tpm,
		min:      max(1, tpm*0.1),
		max:      maxTPM,
		recovery: max(1, tpm*0.05),
	}
}

// Wrap returns a Client that waits for budget before each call.
func (l *RateLimiter) Wrap(next Client) Client {
	return &limitedClient{next: next, limiter: l}
}

// TPM returns the current tokens-per-minute budget.
func (l *RateLimiter) TPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (c *limitedClient) Complete(ctx context.Context, req Request) (Response, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return Response{}, err
	}
	resp, err := c.next.Complete(ctx, req)
	c.limiter.observe(err)
	return resp, err
}

func (l *RateLimiter) wait(ctx context.Context, req Request) error {
	l.mu.Lock()
	n := min(estimateTokens(req), l.limiter.Burst())
	l.mu.Unlock()
	return l.limiter.WaitN(ctx, n)
}

// Bounds returns the floor, ceiling and additive recovery step of the
// budget.
func (l *RateLimiter) Bounds() (floor, ceiling, step float64) {
	return l.min, l.max, l.recovery
}

// OnAdjust registers fn to be called after the limiter changes its budget in
// response to a call outcome. backoff is true when the change was caused by
// rate limiting. Budgets applied through SetTPM do not trigger fn.
func (l *RateLimiter) OnAdjust(fn func(tpm float64, backoff bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onAdjust = fn
}

// SetTPM replaces the current budget, clamped to the limiter bounds.
func (l *RateLimiter) SetTPM(tpm float64) {
	l.set(tpm)
}

func (l *RateLimiter) observe(err error) {
	var (
		changed bool
		backoff bool
	)
	switch {
	case err == nil:
		changed = l.set(l.TPM() + l.recovery)
	case errors.Is(err, ErrRateLimited):
		changed, backoff = l.set(l.TPM()*0.5), true
	}
	if !changed {
		return
	}
	l.mu.Lock()
	fn, tpm := l.onAdjust, l.current
	l.mu.Unlock()
	if fn != nil {
		fn(tpm, backoff)
	}
}

func (l *RateLimiter) set(tpm float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	tpm = min(max(tpm, l.min), l.max)
	if tpm == l.current {
		return false
	}
	l.current = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60))
	l.limiter.SetBurst(int(tpm))
	return true
}

// estimateTokens approximates one token per three characters plus a fixed
// allowance for provider framing.
func estimateTokens(req Request) int {
	return req.Chars()/3 + 500
}
