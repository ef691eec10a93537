package session

import "time"

// State is one lifecycle phase of an authentication session.
type State string

const (
	StateCreated   State = "created"
	StatePrompting State = "prompting"
	StateVerifying State = "verifying"
	StateRetrying  State = "retrying"
	StateGranted   State = "granted"
	StateDenied    State = "denied"
	StateCancelled State = "cancelled"
	StateTimedOut  State = "timed_out"
	StateErrored   State = "errored"
)

// Terminal reports whether s ends a session. A terminal state never
// transitions again.
func (s State) Terminal() bool {
	switch s {
	case StateGranted, StateDenied, StateCancelled, StateTimedOut, StateErrored:
		return true
	default:
		return false
	}
}

// Result is the single terminal notification emitted for one session.
type Result struct {
	SessionID   string
	Cookie      string
	ActionID    string
	Outcome     State
	Reason      string
	Attempts    int
	CompletedAt time.Time
}
