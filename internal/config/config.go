// Package config holds the declarative TOML models for the agent daemon
// and the prompt client, plus the templates configgen writes. Runtime
// loading with overlay semantics lives with the daemon entrypoint; this
// package is the tooling-side parse and validate path.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	ModeInteractive = "interactive"
	ModeUnattended  = "unattended"

	EchoHidden  = "hidden"
	EchoVisible = "visible"
)

// AgentConfig mirrors the wardenctl config file. Durations are TOML
// strings in time.ParseDuration syntax.
type AgentConfig struct {
	ID                  string `toml:"id"`
	Locale              string `toml:"locale"`
	Mode                string `toml:"mode"`
	UnattendedTokenFile string `toml:"unattended_token_file"`

	MaxAttempts     int     `toml:"max_attempts"`
	SessionTimeout  string  `toml:"session_timeout"`
	RoundTimeout    string  `toml:"round_timeout"`
	MaxConcurrent   int     `toml:"max_concurrent"`
	RetryDelay      string  `toml:"retry_delay"`
	RetryMultiplier float64 `toml:"retry_multiplier"`
	RetryMaxDelay   string  `toml:"retry_max_delay"`

	PromptListen    string `toml:"prompt_listen"`
	PromptTokenFile string `toml:"prompt_token_file"`
	PromptEcho      string `toml:"prompt_echo"`

	HTTPAddr    string   `toml:"http_addr"`
	CorsOrigins []string `toml:"cors_origins"`

	VerifyBackend string `toml:"verify_backend"`
	HelperPath    string `toml:"helper_path"`
	VerifyTimeout string `toml:"verify_timeout"`
	StaticSecret  string `toml:"static_secret"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// PromptClientConfig mirrors the promptctl config file.
type PromptClientConfig struct {
	Connect    string `toml:"connect"`
	TokenFile  string `toml:"token_file"`
	ClientName string `toml:"client_name"`
}

func LoadAgentConfig(path string) (AgentConfig, error) {
	var cfg AgentConfig
	if err := loadToml(path, &cfg); err != nil {
		return AgentConfig{}, err
	}
	if cfg.ID == "" {
		cfg.ID = "warden"
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeInteractive
	}
	if cfg.VerifyBackend == "" {
		cfg.VerifyBackend = "helper"
	}
	if err := ValidateAgentConfig(cfg); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

func LoadPromptClientConfig(path string) (PromptClientConfig, error) {
	var cfg PromptClientConfig
	if err := loadToml(path, &cfg); err != nil {
		return PromptClientConfig{}, err
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "promptctl"
	}
	if err := ValidatePromptClientConfig(cfg); err != nil {
		return PromptClientConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateAgentConfig(cfg AgentConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("agent config missing id")
	}
	switch cfg.Mode {
	case ModeInteractive, ModeUnattended:
	default:
		return fmt.Errorf("agent config mode must be interactive or unattended, got %q", cfg.Mode)
	}
	if cfg.Mode == ModeUnattended && strings.TrimSpace(cfg.UnattendedTokenFile) == "" {
		return fmt.Errorf("agent config unattended mode requires unattended_token_file")
	}
	if cfg.PromptEcho != "" && cfg.PromptEcho != EchoHidden && cfg.PromptEcho != EchoVisible {
		return fmt.Errorf("agent config prompt_echo must be hidden or visible, got %q", cfg.PromptEcho)
	}
	if cfg.MaxAttempts < 0 {
		return fmt.Errorf("agent config max_attempts must not be negative")
	}
	if cfg.MaxConcurrent < 0 {
		return fmt.Errorf("agent config max_concurrent must not be negative")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"session_timeout", cfg.SessionTimeout},
		{"round_timeout", cfg.RoundTimeout},
		{"retry_delay", cfg.RetryDelay},
		{"retry_max_delay", cfg.RetryMaxDelay},
		{"verify_timeout", cfg.VerifyTimeout},
	} {
		if _, err := ParseOptionalDuration(field.value); err != nil {
			return fmt.Errorf("agent config %s: %w", field.name, err)
		}
	}
	if cfg.VerifyBackend == "static" && strings.TrimSpace(cfg.StaticSecret) == "" {
		return fmt.Errorf("agent config static backend requires static_secret")
	}
	return nil
}

func ValidatePromptClientConfig(cfg PromptClientConfig) error {
	if strings.TrimSpace(cfg.ClientName) == "" {
		return fmt.Errorf("prompt client config missing client_name")
	}
	return nil
}

// ParseOptionalDuration parses a duration string, treating empty as zero.
func ParseOptionalDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
