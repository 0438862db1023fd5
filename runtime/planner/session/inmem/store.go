// Package inmem provides the process-local implementation of session.Store.
//
// Sessions live for the lifetime of the process. The map lock only guards
// membership; each session carries its own mutex so updates to one session
// never wait on another.
package inmem

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tripcrew/tripcrew/runtime/planner/session"
)

type (
	// Store is an in-memory implementation of session.Store.
	// It is safe for concurrent use.
	Store struct {
		mu      sync.RWMutex
		entries map[string]*entry
	}

	entry struct {
		mu   sync.Mutex
		sess session.Session
		// gone is set once the entry is removed from the map so late updates
		// holding a stale pointer fail instead of writing to a detached copy.
		gone bool
	}
)

var _ session.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// CreateSession implements session.Store.
func (s *Store) CreateSession(_ context.Context, id, prompt string, at time.Time) (session.Session, bool, error) {
	if id == "" {
		return session.Session{}, false, errors.New("session id is required")
	}
	if at.IsZero() {
		return session.Session{}, false, errors.New("created_at is required")
	}

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{sess: session.New(id, prompt, at.UTC())}
		s.entries[id] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone(), !ok, nil
}

// LoadSession implements session.Store.
func (s *Store) LoadSession(_ context.Context, id string) (session.Session, error) {
	e, err := s.lookup(id)
	if err != nil {
		return session.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return session.Session{}, session.ErrSessionNotFound
	}
	return e.sess.Clone(), nil
}

// UpdateSession implements session.Store.
func (s *Store) UpdateSession(_ context.Context, id string, fn func(*session.Session) error) (session.Session, error) {
	e, err := s.lookup(id)
	if err != nil {
		return session.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return session.Session{}, session.ErrSessionNotFound
	}
	work := e.sess.Clone()
	if err := fn(&work); err != nil {
		return e.sess.Clone(), err
	}
	e.sess = work
	return work.Clone(), nil
}

// DeleteSession implements session.Store.
func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if ok {
		e.mu.Lock()
		e.gone = true
		e.mu.Unlock()
	}
	return nil
}

// ListSessions implements session.Store. Sessions are ordered by creation
// time, oldest first.
func (s *Store) ListSessions(_ context.Context) ([]session.Session, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]session.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.gone {
			out = append(out, e.sess.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) lookup(id string) (*entry, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return e, nil
}
