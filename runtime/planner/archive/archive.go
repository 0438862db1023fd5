// Package archive records finished turns.
//
// Sessions live only as long as the process. The archive keeps a copy of
// every turn that reached a terminal status so reports and failures can be
// inspected afterwards.
package archive

import (
	"context"
	"time"

	"github.com/tripcrew/tripcrew/runtime/planner/session"
	"github.com/tripcrew/tripcrew/runtime/planner/trip"
)

type (
	// Turn is the immutable record of one finished turn.
	Turn struct {
		// ID is assigned by the store.
		ID string
		// SessionID identifies the session the turn belongs to.
		SessionID string
		// Turn is the 1-based turn number within the session.
		Turn int
		// Prompt is the prompt that started the turn.
		Prompt string
		// Status is either completed or error.
		Status session.Status
		// Params is the trip artifact the turn ran against, if any.
		Params *trip.Params
		// Report is the final report of a completed turn.
		Report string
		// Error is the failure message of a failed turn.
		Error string
		// History is the conversation history at the end of the turn.
		History []session.Exchange
		// StartedAt and FinishedAt bound the turn.
		StartedAt  time.Time
		FinishedAt time.Time
	}

	// Page is a forward page of turns, oldest first.
	Page struct {
		Turns []*Turn
		// NextCursor is empty when there are no further turns.
		NextCursor string
	}

	// Store persists finished turns. Cursors are opaque and store-owned.
	Store interface {
		// Record stores the turn and assigns its ID.
		Record(ctx context.Context, t *Turn) error
		// List returns the next page of turns recorded for the session.
		List(ctx context.Context, sessionID, cursor string, limit int) (Page, error)
	}
)

// NewTurn builds the record for a session whose current turn has ended.
func NewTurn(s session.Session, startedAt time.Time) *Turn {
	t := &Turn{
		SessionID:  s.ID,
		Turn:       s.Turn,
		Prompt:     s.TurnPrompt,
		Status:     s.Status,
		Report:     s.Report,
		Error:      s.Error,
		History:    append([]session.Exchange(nil), s.History...),
		StartedAt:  startedAt,
		FinishedAt: s.UpdatedAt,
	}
	if s.Params != nil {
		p := *s.Params
		t.Params = &p
	}
	return t
}
