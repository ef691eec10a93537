package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/warden/internal/promptwire"
)

func TestRenderPrompt(t *testing.T) {
	out := renderPrompt(promptwire.ShowPrompt{
		SessionID:   "sess.1",
		ActionID:    "org.example.run",
		Prompt:      "Authentication is required to run the example",
		Echo:        promptwire.EchoHidden,
		Attempt:     2,
		MaxAttempts: 3,
		Details:     map[string]string{"unit": "example.service", "command": "/usr/bin/example"},
	})
	if !strings.Contains(out, "attempt 2/3") {
		t.Fatalf("missing attempt counter: %q", out)
	}
	if !strings.Contains(out, "org.example.run") {
		t.Fatalf("missing action id: %q", out)
	}
	if !strings.Contains(out, "Authentication is required to run the example") {
		t.Fatalf("missing message: %q", out)
	}
	commandAt := strings.Index(out, "command:")
	unitAt := strings.Index(out, "unit:")
	if commandAt < 0 || unitAt < 0 || commandAt > unitAt {
		t.Fatalf("details not sorted: %q", out)
	}
}

func TestResolveOptionsFlagsBeatFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
connect = "127.0.0.1:9470"
token_file = "/etc/warden/prompt-token"
client_name = "desk-ui"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	opts, err := resolveOptions(path, "unix:///run/warden/p.sock", "", "", "", false)
	if err != nil {
		t.Fatalf("resolve options: %v", err)
	}
	if opts.Connect != "unix:///run/warden/p.sock" {
		t.Fatalf("unexpected connect: %q", opts.Connect)
	}
	if opts.TokenFile != "/etc/warden/prompt-token" {
		t.Fatalf("unexpected token file: %q", opts.TokenFile)
	}
	if opts.Name != "desk-ui" {
		t.Fatalf("unexpected name: %q", opts.Name)
	}
}

func TestResolveOptionsDefaults(t *testing.T) {
	opts, err := resolveOptions("", "", "", "", "hunter2", true)
	if err != nil {
		t.Fatalf("resolve options: %v", err)
	}
	if opts.Connect != "auto" || opts.Name != "promptctl" {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
	if opts.Secret != "hunter2" || !opts.CancelAll {
		t.Fatalf("unexpected scripted options: %+v", opts)
	}
}
