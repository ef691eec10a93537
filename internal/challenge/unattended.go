package challenge

import (
	"context"
	"strings"
)

// SubmitFunc feeds a collected secret back into the engine's event dispatch.
type SubmitFunc func(sessionID, secret string)

// Unattended answers every round from a pre-provisioned token without any
// UI involvement. A channel with no token refuses the round, which the
// engine reports as a denial rather than blocking forever.
type Unattended struct {
	token  string
	submit SubmitFunc
}

func NewUnattended(token string, submit SubmitFunc) *Unattended {
	return &Unattended{token: strings.TrimSpace(token), submit: submit}
}

func (c *Unattended) Begin(ctx context.Context, r Round) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.token == "" {
		return ErrNotInteractive
	}
	c.submit(r.SessionID, c.token)
	return nil
}

func (c *Unattended) End(sessionID string) {}
