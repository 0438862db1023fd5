package session

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusInitializing is the state of a freshly created session.
	StatusInitializing Status = "initializing"
	// StatusInProgress means a stage is executing.
	StatusInProgress Status = "in_progress"
	// StatusAwaitingInput means the turn is suspended on a question.
	StatusAwaitingInput Status = "awaiting_input"
	// StatusSetupComplete means the trip artifact is available and research
	// is about to start.
	StatusSetupComplete Status = "setup_complete"
	// StatusCompleted means the turn produced a report.
	StatusCompleted Status = "completed"
	// StatusError means the turn failed.
	StatusError Status = "error"
)

// transitions lists the allowed targets per state. Terminal states only
// leave through BeginTurn.
var transitions = map[Status][]Status{
	StatusInitializing:  {StatusInProgress, StatusError},
	StatusInProgress:    {StatusAwaitingInput, StatusSetupComplete, StatusCompleted, StatusError},
	StatusAwaitingInput: {StatusInProgress, StatusError},
	StatusSetupComplete: {StatusInProgress, StatusError},
	StatusCompleted:     {},
	StatusError:         {},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends a turn.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}
