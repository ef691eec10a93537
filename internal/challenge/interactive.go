package challenge

import (
	"context"
	"fmt"
)

// Interactive surfaces rounds through a Prompter, typically the prompt
// socket server with a UI client attached.
type Interactive struct {
	prompter Prompter
}

func NewInteractive(p Prompter) *Interactive {
	return &Interactive{prompter: p}
}

func (c *Interactive) Begin(ctx context.Context, r Round) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.prompter.ShowPrompt(r); err != nil {
		return fmt.Errorf("challenge: show prompt: %w", err)
	}
	return nil
}

func (c *Interactive) End(sessionID string) {
	c.prompter.HidePrompt(sessionID)
}
