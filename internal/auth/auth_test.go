package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStaticTokenValidate(t *testing.T) {
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestAllowAllValidate(t *testing.T) {
	if err := (AllowAll{}).Validate(""); err != nil {
		t.Fatalf("allow-all rejected empty token: %v", err)
	}
	if err := (AllowAll{}).Validate("anything"); err != nil {
		t.Fatalf("allow-all rejected token: %v", err)
	}
}

func TestTokenFromFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("  s3cret\n"), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}
	token, err := TokenFromFile(path)
	if err != nil {
		t.Fatalf("read token: %v", err)
	}
	if token != "s3cret" {
		t.Fatalf("unexpected token %q", token)
	}

	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, []byte(" \n"), 0o600); err != nil {
		t.Fatalf("write empty file: %v", err)
	}
	if _, err := TokenFromFile(empty); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}

	if _, err := TokenFromFile(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
