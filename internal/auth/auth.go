// Package auth provides minimal shared-secret helpers for the prompt socket
// handshake and the unattended challenge token.
//
// It intentionally avoids policy decisions and storage concerns.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrEmptyToken   = errors.New("auth: token file is empty")
)

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken compares against a single shared token in constant time.
// An empty configured token rejects everything.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// AllowAll accepts every token. Used when no socket token is configured.
type AllowAll struct{}

func (AllowAll) Validate(string) error {
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// TokenFromFile reads a shared token from a file, trimming surrounding
// whitespace. The file should be mode 0600; content is never logged.
func TokenFromFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("auth: read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyToken, path)
	}
	return token, nil
}
