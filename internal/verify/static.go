package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/danmuck/warden/internal/auth"
)

func init() {
	Register("static", func(opts Options) (Verifier, error) {
		if strings.TrimSpace(opts.StaticToken) == "" {
			return nil, fmt.Errorf("%w: static backend requires a token", ErrInvalidOptions)
		}
		return NewStatic(opts.StaticToken), nil
	})
}

// Static accepts exactly one pre-shared secret. It exists for development
// and for exercising the agent on a box without PAM.
type Static struct {
	validator auth.Validator
}

func NewStatic(token string) *Static {
	return &Static{validator: auth.StaticToken{Token: token}}
}

func (s *Static) Verify(ctx context.Context, subject, secret string) Result {
	if err := ctx.Err(); err != nil {
		return Errorf("%v", err)
	}
	if err := s.validator.Validate(secret); err != nil {
		return Invalid()
	}
	return Valid()
}
