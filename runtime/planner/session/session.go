// Package session defines the planning session record, its status state
// machine and the Store contract used by the orchestrator.
//
// Every status change goes through one of the Session transition methods so
// the record always satisfies its exclusivity rule: a pending question only
// while awaiting input, a report only once completed, an error message only
// once failed.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tripcrew/tripcrew/runtime/planner/trip"
)

type (
	// Session is the state of one planning conversation.
	Session struct {
		// ID is the opaque session identifier.
		ID string
		// Status is the current lifecycle state.
		Status Status
		// Prompt is the prompt that created the session. Keyword recovery
		// matches against it.
		Prompt string
		// TurnPrompt is the prompt of the current turn.
		TurnPrompt string
		// Turn counts the turns started on this session, starting at 1.
		Turn int
		// History is the append-only log of answered questions.
		History []Exchange
		// Params is the trip artifact, nil until setup completes once.
		Params *trip.Params
		// Report is the final report of the last completed turn.
		Report string
		// Error is the failure message of the last failed turn.
		Error string
		// Question is the pending question while awaiting input.
		Question string
		// CreatedAt records when the session was created.
		CreatedAt time.Time
		// UpdatedAt is the last activity timestamp.
		UpdatedAt time.Time
	}

	// Exchange is one answered question.
	Exchange struct {
		Question string
		Answer   string
		At       time.Time
	}

	// Store persists sessions. Implementations must serialize updates per
	// session while letting distinct sessions proceed independently.
	Store interface {
		// CreateSession returns the session with the given ID, creating it in
		// the initializing state when absent. created reports whether a new
		// session was stored.
		CreateSession(ctx context.Context, id, prompt string, at time.Time) (s Session, created bool, err error)
		// LoadSession returns a copy of the session or ErrSessionNotFound.
		LoadSession(ctx context.Context, id string) (Session, error)
		// UpdateSession applies fn to the session under its lock and returns
		// the updated copy. Changes are discarded when fn returns an error.
		UpdateSession(ctx context.Context, id string, fn func(*Session) error) (Session, error)
		// DeleteSession removes the session. Deleting a missing session is a
		// no-op.
		DeleteSession(ctx context.Context, id string) error
		// ListSessions returns copies of all sessions.
		ListSessions(ctx context.Context) ([]Session, error)
	}

	// TransitionError reports a status change the state machine forbids.
	TransitionError struct {
		From, To Status
	}
)

var (
	// ErrSessionNotFound indicates a session does not exist in the store.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTransition is matched by every TransitionError.
	ErrInvalidTransition = errors.New("invalid session transition")
)

// Error implements error.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

// Is matches ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// New returns a session in the initializing state.
func New(id, prompt string, at time.Time) Session {
	return Session{
		ID:         id,
		Status:     StatusInitializing,
		Prompt:     prompt,
		TurnPrompt: prompt,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

// Touch stamps the last activity time.
func (s *Session) Touch(at time.Time) { s.UpdatedAt = at }

// BeginTurn enters in_progress for a new turn. It is valid from
// initializing and from the terminal states of a previous turn. The artifact
// and history are kept.
func (s *Session) BeginTurn(prompt string, at time.Time) error {
	if s.Status != StatusInitializing && !s.Status.Terminal() {
		return &TransitionError{From: s.Status, To: StatusInProgress}
	}
	s.Status = StatusInProgress
	s.TurnPrompt = prompt
	s.Turn++
	s.clearOutcome()
	s.UpdatedAt = at
	return nil
}

// Await records a pending question.
func (s *Session) Await(question string, at time.Time) error {
	if err := s.transition(StatusAwaitingInput); err != nil {
		return err
	}
	s.Question = question
	s.UpdatedAt = at
	return nil
}

// Answer appends the answer to the history, clears the pending question and
// resumes the turn. It is only valid while a question is pending.
func (s *Session) Answer(answer string, at time.Time) error {
	if s.Status != StatusAwaitingInput {
		return &TransitionError{From: s.Status, To: StatusInProgress}
	}
	s.History = append(s.History, Exchange{Question: s.Question, Answer: answer, At: at})
	s.Question = ""
	s.UpdatedAt = at
	return nil
}

// CompleteSetup stores the artifact and enters setup_complete.
func (s *Session) CompleteSetup(p trip.Params, at time.Time) error {
	if err := s.transition(StatusSetupComplete); err != nil {
		return err
	}
	s.Params = &p
	s.UpdatedAt = at
	return nil
}

// StartResearch re-enters in_progress after setup.
func (s *Session) StartResearch(at time.Time) error {
	if s.Status != StatusSetupComplete {
		return &TransitionError{From: s.Status, To: StatusInProgress}
	}
	s.Status = StatusInProgress
	s.UpdatedAt = at
	return nil
}

// Complete stores the report and enters completed.
func (s *Session) Complete(report string, at time.Time) error {
	if err := s.transition(StatusCompleted); err != nil {
		return err
	}
	s.Report = report
	s.UpdatedAt = at
	return nil
}

// Fail stores the error message and enters error.
func (s *Session) Fail(msg string, at time.Time) error {
	if err := s.transition(StatusError); err != nil {
		return err
	}
	s.Question = ""
	s.Report = ""
	s.Error = msg
	s.UpdatedAt = at
	return nil
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	if s.History != nil {
		out.History = append([]Exchange(nil), s.History...)
	}
	if s.Params != nil {
		p := *s.Params
		out.Params = &p
	}
	return out
}

func (s *Session) transition(to Status) error {
	if !CanTransition(s.Status, to) {
		return &TransitionError{From: s.Status, To: to}
	}
	s.Status = to
	return nil
}

func (s *Session) clearOutcome() {
	s.Question = ""
	s.Report = ""
	s.Error = ""
}
