// Package middleware shares the model rate limit budget across processes.
// Every replica of the service calls the same provider account, so a 429 seen
// by one replica halves the budget of all of them.
package middleware

import (
	"context"
	"strconv"
	"time"

	"goa.design/pulse/rmap"

	"github.com/tripcrew/tripcrew/runtime/planner/model"
)

type (
	// clusterMap is the subset of rmap.Map used by the shared budget.
	clusterMap interface {
		Get(key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
	}

	rmapClusterMap struct {
		m *rmap.Map
	}
)

// ShareBudget coordinates lim with the other processes joined to m. The
// shared tokens-per-minute value lives under key. Local backoffs and probes
// are pushed to the map with compare-and-swap and external changes are
// applied to lim. It returns lim unchanged when m is nil or key is empty.
func ShareBudget(ctx context.Context, lim *model.RateLimiter, m *rmap.Map, key string) *model.RateLimiter {
	if m == nil {
		return lim
	}
	return shareBudget(ctx, lim, &rmapClusterMap{m: m}, key)
}

func shareBudget(ctx context.Context, lim *model.RateLimiter, m clusterMap, key string) *model.RateLimiter {
	if key == "" || m == nil {
		return lim
	}

	// Best-effort initialization: if the key does not exist yet, seed it with
	// the local value. A concurrent writer may still win; we refresh below.
	if _, ok := m.Get(key); !ok {
		if _, err := m.SetIfNotExists(ctx, key, strconv.Itoa(int(lim.TPM()))); err != nil {
			// Seeding failed: stay process-local.
			return lim
		}
	}
	if cur, ok := m.Get(key); ok {
		if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
			lim.SetTPM(v)
		}
	}

	floor, ceiling, step := lim.Bounds()
	lim.OnAdjust(func(_ float64, backoff bool) {
		if backoff {
			go globalBackoff(context.WithoutCancel(ctx), m, key, floor)
			return
		}
		go globalProbe(context.WithoutCancel(ctx), m, key, step, ceiling)
	})

	ch := m.Subscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
			}
			cur, ok := m.Get(key)
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(cur, 64)
			if err != nil || v <= 0 {
				continue
			}
			lim.SetTPM(v)
		}
	}()

	return lim
}

func (m *rmapClusterMap) Get(key string) (string, bool) {
	return m.m.Get(key)
}

func (m *rmapClusterMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return m.m.SetIfNotExists(ctx, key, value)
}

func (m *rmapClusterMap) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	return m.m.TestAndSet(ctx, key, test, value)
}

func (m *rmapClusterMap) Subscribe() <-chan rmap.EventKind {
	return m.m.Subscribe()
}

func globalBackoff(ctx context.Context, m clusterMap, key string, floor float64) {
	update(ctx, m, key, func(cur float64) (float64, bool) {
		return max(cur*0.5, floor), true
	})
}

func globalProbe(ctx context.Context, m clusterMap, key string, step, ceiling float64) {
	update(ctx, m, key, func(cur float64) (float64, bool) {
		if cur >= ceiling {
			return cur, false
		}
		return min(cur+step, ceiling), true
	})
}

// update applies next to the shared value with a bounded compare-and-swap
// loop.
func update(ctx context.Context, m clusterMap, key string, next func(float64) (float64, bool)) {
	const maxAttempts = 3

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	for range maxAttempts {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		v, ok := next(cur)
		if !ok {
			return
		}
		prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(int(v)))
		if err != nil || prev == curStr {
			return
		}
	}
}
