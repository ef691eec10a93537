// Package challenge abstracts one round of credential collection. A session
// owns one Channel; interactive channels surface the round through the
// prompt UI while unattended channels answer from configuration.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRound   = errors.New("challenge: invalid round")
	ErrNotInteractive = errors.New("challenge: channel not interactive")
)

// EchoPolicy controls whether the UI may echo typed input.
type EchoPolicy string

const (
	EchoHidden  EchoPolicy = "hidden"
	EchoVisible EchoPolicy = "visible"
)

// Round describes one challenge round presented to the subject. Details
// are the authority-supplied key/value pairs a UI may display alongside
// the prompt.
type Round struct {
	SessionID   string
	Attempt     int
	MaxAttempts int
	Prompt      string
	Echo        EchoPolicy
	ActionID    string
	IconName    string
	Details     map[string]string
}

func (r Round) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidRound)
	}
	if r.Attempt <= 0 {
		return fmt.Errorf("%w: missing attempt", ErrInvalidRound)
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("%w: missing prompt", ErrInvalidRound)
	}
	if r.Echo != EchoHidden && r.Echo != EchoVisible {
		return fmt.Errorf("%w: invalid echo policy %q", ErrInvalidRound, r.Echo)
	}
	return nil
}

// Prompter is the display surface an interactive channel draws on.
type Prompter interface {
	ShowPrompt(r Round) error
	HidePrompt(sessionID string)
}

// Channel issues challenge rounds. Begin presents one round; the reply
// reaches the session through the engine's event dispatch. End retracts
// whatever the channel put up, and is called exactly once per session.
type Channel interface {
	Begin(ctx context.Context, r Round) error
	End(sessionID string)
}
