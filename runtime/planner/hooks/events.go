package hooks

import "time"

// EventType names a session lifecycle event.
type EventType string

const (
	// TurnStarted fires when a turn enters in_progress.
	TurnStarted EventType = "turn_started"
	// InputRequested fires when a stage suspends on a question.
	InputRequested EventType = "input_requested"
	// InputProvided fires when an answer resumes a suspended stage.
	InputProvided EventType = "input_provided"
	// SetupCompleted fires once the trip artifact is stored.
	SetupCompleted EventType = "setup_completed"
	// StageCompleted fires after each research stage.
	StageCompleted EventType = "stage_completed"
	// TurnCompleted fires when the report is stored.
	TurnCompleted EventType = "turn_completed"
	// TurnFailed fires when the turn enters error.
	TurnFailed EventType = "turn_failed"
	// SessionEvicted fires when the reaper removes an idle session.
	SessionEvicted EventType = "session_evicted"
)

// Event describes one lifecycle change of a session.
type Event struct {
	// Type classifies the event.
	Type EventType `json:"type"`
	// SessionID identifies the session.
	SessionID string `json:"session_id"`
	// Turn is the turn number the event belongs to.
	Turn int `json:"turn"`
	// Status is the session status after the change.
	Status string `json:"status"`
	// Stage names the pipeline stage for StageCompleted.
	Stage string `json:"stage,omitempty"`
	// Message carries the question, answer, report or error text depending
	// on Type.
	Message string `json:"message,omitempty"`
	// At is the event timestamp.
	At time.Time `json:"at"`
}

// Terminal reports whether the event ends a turn.
func (e Event) Terminal() bool {
	return e.Type == TurnCompleted || e.Type == TurnFailed
}
