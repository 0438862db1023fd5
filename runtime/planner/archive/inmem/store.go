// Package inmem provides an in-memory archive.Store for tests and local runs.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/tripcrew/tripcrew/runtime/planner/archive"
)

// Store implements archive.Store in memory.
type Store struct {
	mu    sync.Mutex
	seq   int64
	turns map[string][]*archive.Turn
}

// New returns an empty store.
func New() *Store {
	return &Store{turns: make(map[string][]*archive.Turn)}
}

// Record implements archive.Store.
func (s *Store) Record(_ context.Context, t *archive.Turn) error {
	if t == nil {
		return errors.New("turn is required")
	}
	if t.SessionID == "" {
		return errors.New("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t.ID = strconv.FormatInt(s.seq, 10)
	cp := *t
	s.turns[t.SessionID] = append(s.turns[t.SessionID], &cp)
	return nil
}

// List implements archive.Store. Cursors are the ID of the last turn seen.
func (s *Store) List(_ context.Context, sessionID, cursor string, limit int) (archive.Page, error) {
	if sessionID == "" {
		return archive.Page{}, errors.New("session id is required")
	}
	if limit <= 0 {
		return archive.Page{}, errors.New("limit must be > 0")
	}
	var after int64
	if cursor != "" {
		id, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return archive.Page{}, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		after = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*archive.Turn
	for _, t := range s.turns[sessionID] {
		id, _ := strconv.ParseInt(t.ID, 10, 64)
		if id <= after {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	var next string
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return archive.Page{Turns: out, NextCursor: next}, nil
}
