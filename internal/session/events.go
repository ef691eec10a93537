package session

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidEvent      = errors.New("session: invalid event")
	ErrInvalidSpec       = errors.New("session: invalid create spec")
	ErrNotFound          = errors.New("session: not found")
	ErrResourceExhausted = errors.New("session: resource exhausted")
	ErrShuttingDown      = errors.New("session: registry shutting down")
	ErrEventOverflow     = errors.New("session: event queue full")
	ErrAlreadyStarted    = errors.New("session: already started")
)

// EventKind discriminates inputs dispatched to a running session.
type EventKind string

const (
	// EventUserSecret carries one collected credential.
	EventUserSecret EventKind = "user_secret"
	// EventUserCancelled means the subject dismissed the prompt.
	EventUserCancelled EventKind = "user_cancelled"
	// EventAuthorityRevoked means the authority withdrew the request.
	EventAuthorityRevoked EventKind = "authority_revoked"

	// eventDeadline is injected by the registry sweep and never accepted
	// from callers.
	eventDeadline EventKind = "deadline"
)

// Event is one externally originated session input. An empty Secret on a
// user_secret event is a legitimate empty credential.
type Event struct {
	Kind   EventKind
	Secret string
	Reason string
}

func (e Event) Validate() error {
	switch e.Kind {
	case EventUserSecret:
	case EventUserCancelled, EventAuthorityRevoked:
		if e.Secret != "" {
			return fmt.Errorf("%w: unexpected secret payload on %s", ErrInvalidEvent, e.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	return nil
}
