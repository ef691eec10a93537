package warden

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/warden/internal/challenge"
	"github.com/danmuck/warden/internal/polkit"
	"github.com/danmuck/warden/internal/session"
)

func TestDefaultServiceConfigValid(t *testing.T) {
	if err := DefaultServiceConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestServiceConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ServiceConfig)
		want   error
	}{
		{
			name:   "empty agent id",
			mutate: func(c *ServiceConfig) { c.AgentID = " " },
		},
		{
			name:   "unknown mode",
			mutate: func(c *ServiceConfig) { c.Mode = "tty" },
			want:   ErrInvalidMode,
		},
		{
			name:   "unattended without token file",
			mutate: func(c *ServiceConfig) { c.Mode = ModeUnattended },
			want:   ErrMissingUnattended,
		},
		{
			name:   "invalid session config",
			mutate: func(c *ServiceConfig) { c.Session.MaxAttempts = -1 },
			want:   session.ErrInvalidConfig,
		},
		{
			name:   "invalid prompt echo",
			mutate: func(c *ServiceConfig) { c.PromptEcho = "shouted" },
		},
		{
			name:   "zero tick interval",
			mutate: func(c *ServiceConfig) { c.TickInterval = 0 },
			want:   ErrInvalidTickInterval,
		},
		{
			name:   "zero heartbeat interval",
			mutate: func(c *ServiceConfig) { c.HeartbeatInterval = 0 },
			want:   ErrInvalidTickInterval,
		},
		{
			name:   "empty verify backend",
			mutate: func(c *ServiceConfig) { c.Verify.Backend = "" },
		},
		{
			name:   "non-loopback http addr",
			mutate: func(c *ServiceConfig) { c.HTTPAddr = "0.0.0.0:9460" },
			want:   ErrInvalidPromptListen,
		},
		{
			name:   "non-loopback prompt listen",
			mutate: func(c *ServiceConfig) { c.PromptListen = "example.com:7000" },
			want:   ErrInvalidPromptListen,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultServiceConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("validate passed")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestNewServiceWithConfigFillsDefaults(t *testing.T) {
	s := NewServiceWithConfig(ServiceConfig{AgentID: "warden-test"})
	if s.cfg.Mode != ModeInteractive {
		t.Fatalf("mode = %q", s.cfg.Mode)
	}
	if s.cfg.Locale != polkit.DefaultLocale {
		t.Fatalf("locale = %q", s.cfg.Locale)
	}
	want := session.DefaultConfig()
	if s.cfg.Session.MaxAttempts != want.MaxAttempts || s.cfg.Session.SessionTimeout != want.SessionTimeout {
		t.Fatalf("session config = %+v", s.cfg.Session)
	}
}

func writeTokenFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}
	return path
}

func TestBuildChannelUnattended(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.Mode = ModeUnattended
	cfg.UnattendedTokenFile = writeTokenFile(t, "tok-secret\n")
	s := NewServiceWithConfig(cfg)

	ch, err := s.buildChannel()
	if err != nil {
		t.Fatalf("build channel: %v", err)
	}
	if _, ok := ch.(*challenge.Unattended); !ok {
		t.Fatalf("channel type = %T", ch)
	}
	if s.prompts != nil {
		t.Fatal("unattended mode started a prompt server")
	}
}

func TestBuildChannelUnattendedMissingToken(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.Mode = ModeUnattended
	cfg.UnattendedTokenFile = filepath.Join(t.TempDir(), "absent")
	s := NewServiceWithConfig(cfg)

	if _, err := s.buildChannel(); err == nil {
		t.Fatal("missing token file accepted")
	}
}

func TestBuildChannelInteractive(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.PromptTokenFile = writeTokenFile(t, "sock-token")
	s := NewServiceWithConfig(cfg)

	ch, err := s.buildChannel()
	if err != nil {
		t.Fatalf("build channel: %v", err)
	}
	if _, ok := ch.(*challenge.Interactive); !ok {
		t.Fatalf("channel type = %T", ch)
	}
	if s.prompts == nil {
		t.Fatal("interactive mode needs a prompt server")
	}
}
