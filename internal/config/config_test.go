package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadAgentConfigAppliesDefaults(t *testing.T) {
	path := writeFile(t, "agent.toml", "http_addr = \"127.0.0.1:9999\"\n")

	cfg, err := LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ID != "warden" {
		t.Fatalf("expected default id, got %q", cfg.ID)
	}
	if cfg.Mode != ModeInteractive {
		t.Fatalf("expected interactive default, got %q", cfg.Mode)
	}
	if cfg.VerifyBackend != "helper" {
		t.Fatalf("expected helper default, got %q", cfg.VerifyBackend)
	}
	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("file value lost: %q", cfg.HTTPAddr)
	}
}

func TestLoadAgentConfigRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"bad mode", "mode = \"psychic\"\n", "mode"},
		{"unattended without token", "mode = \"unattended\"\n", "unattended_token_file"},
		{"bad echo", "prompt_echo = \"loud\"\n", "prompt_echo"},
		{"bad duration", "session_timeout = \"fortnight\"\n", "session_timeout"},
		{"negative duration", "retry_delay = \"-1s\"\n", "retry_delay"},
		{"static without secret", "verify_backend = \"static\"\n", "static_secret"},
	}
	for _, tc := range cases {
		path := writeFile(t, "agent.toml", tc.body)
		_, err := LoadAgentConfig(path)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error mentioning %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestLoadAgentConfigMissingFile(t *testing.T) {
	if _, err := LoadAgentConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadPromptClientConfig(t *testing.T) {
	path := writeFile(t, "prompt.toml", "connect = \"127.0.0.1:9450\"\n")

	cfg, err := LoadPromptClientConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ClientName != "promptctl" {
		t.Fatalf("expected default client name, got %q", cfg.ClientName)
	}
	if cfg.Connect != "127.0.0.1:9450" {
		t.Fatalf("file value lost: %q", cfg.Connect)
	}
}

func TestTemplatesParseAndValidate(t *testing.T) {
	dir := t.TempDir()

	agentPath := filepath.Join(dir, "agent.toml")
	if err := WriteTemplate(agentPath, "agent", false); err != nil {
		t.Fatalf("write agent template: %v", err)
	}
	if _, err := LoadAgentConfig(agentPath); err != nil {
		t.Fatalf("agent template does not load: %v", err)
	}

	promptPath := filepath.Join(dir, "prompt.toml")
	if err := WriteTemplate(promptPath, "prompt", false); err != nil {
		t.Fatalf("write prompt template: %v", err)
	}
	if _, err := LoadPromptClientConfig(promptPath); err != nil {
		t.Fatalf("prompt template does not load: %v", err)
	}

	if err := WriteTemplate(agentPath, "agent", false); err == nil {
		t.Fatal("expected refusal to overwrite without force")
	}
	if err := WriteTemplate(agentPath, "agent", true); err != nil {
		t.Fatalf("forced overwrite failed: %v", err)
	}

	if _, err := Template("mystery"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestParseOptionalDuration(t *testing.T) {
	if d, err := ParseOptionalDuration(""); err != nil || d != 0 {
		t.Fatalf("empty should be zero, got %v %v", d, err)
	}
	if d, err := ParseOptionalDuration(" 5m "); err != nil || d.Minutes() != 5 {
		t.Fatalf("expected 5m, got %v %v", d, err)
	}
	if _, err := ParseOptionalDuration("never"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ParseOptionalDuration("-2s"); err == nil {
		t.Fatal("expected negative rejection")
	}
}
