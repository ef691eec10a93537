// Package verify decides whether a collected credential authenticates a
// subject. Backends register under a name so the daemon can select one
// from configuration; the engine only sees the Verifier interface.
package verify

import (
	"context"
	"fmt"
)

// Status classifies one verification verdict. An error status means the
// backend could not reach a verdict at all and is reported distinctly
// from a rejected credential.
type Status string

const (
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
	StatusError   Status = "error"
)

// Result carries one verdict. Detail is only meaningful for StatusError
// and never contains the submitted secret.
type Result struct {
	Status Status
	Detail string
}

// Verifier checks one secret against one subject. Implementations must
// honor ctx cancellation; the engine abandons slow verifications when the
// session ends.
type Verifier interface {
	Verify(ctx context.Context, subject, secret string) Result
}

// VerifierFunc adapts a plain function to the Verifier interface.
type VerifierFunc func(ctx context.Context, subject, secret string) Result

func (f VerifierFunc) Verify(ctx context.Context, subject, secret string) Result {
	return f(ctx, subject, secret)
}

func Valid() Result   { return Result{Status: StatusValid} }
func Invalid() Result { return Result{Status: StatusInvalid} }

func Errorf(format string, args ...any) Result {
	return Result{Status: StatusError, Detail: fmt.Sprintf(format, args...)}
}
