package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/warden/internal/challenge"
	"github.com/danmuck/warden/internal/warden"
)

// wardenctl config.toml key mapping to agent runtime settings.
type fileConfig struct {
	ID                  string   `toml:"id"`
	Locale              string   `toml:"locale"`
	Mode                string   `toml:"mode"`
	UnattendedTokenFile string   `toml:"unattended_token_file"`
	MaxAttempts         int      `toml:"max_attempts"`
	SessionTimeout      string   `toml:"session_timeout"`
	RoundTimeout        string   `toml:"round_timeout"`
	MaxConcurrent       int      `toml:"max_concurrent"`
	RetryDelay          string   `toml:"retry_delay"`
	RetryMultiplier     float64  `toml:"retry_multiplier"`
	RetryMaxDelay       string   `toml:"retry_max_delay"`
	PromptListen        string   `toml:"prompt_listen"`
	PromptTokenFile     string   `toml:"prompt_token_file"`
	PromptEcho          string   `toml:"prompt_echo"`
	HTTPAddr            string   `toml:"http_addr"`
	CorsOrigins         []string `toml:"cors_origins"`
	VerifyBackend       string   `toml:"verify_backend"`
	HelperPath          string   `toml:"helper_path"`
	VerifyTimeout       string   `toml:"verify_timeout"`
	StaticSecret        string   `toml:"static_secret"`
	LogLevel            string   `toml:"log_level"`
	LogFormat           string   `toml:"log_format"`
}

// wardenctl loader for TOML config with default overlay.
func loadServiceConfig(path string) (warden.ServiceConfig, error) {
	cfg := warden.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return warden.ServiceConfig{}, fmt.Errorf("load warden config: %w", err)
	}

	if meta.IsDefined("id") {
		id := strings.TrimSpace(raw.ID)
		if id != "" {
			cfg.AgentID = id
		}
	}
	if meta.IsDefined("locale") {
		cfg.Locale = strings.TrimSpace(raw.Locale)
	}
	if meta.IsDefined("mode") {
		cfg.Mode = warden.Mode(strings.TrimSpace(raw.Mode))
	}
	if meta.IsDefined("unattended_token_file") {
		cfg.UnattendedTokenFile = strings.TrimSpace(raw.UnattendedTokenFile)
	}

	if meta.IsDefined("max_attempts") {
		cfg.Session.MaxAttempts = raw.MaxAttempts
	}
	if meta.IsDefined("session_timeout") {
		d, err := parseDuration("session_timeout", raw.SessionTimeout)
		if err != nil {
			return warden.ServiceConfig{}, err
		}
		cfg.Session.SessionTimeout = d
	}
	if meta.IsDefined("round_timeout") {
		d, err := parseDuration("round_timeout", raw.RoundTimeout)
		if err != nil {
			return warden.ServiceConfig{}, err
		}
		cfg.Session.RoundTimeout = d
	}
	if meta.IsDefined("max_concurrent") {
		cfg.Session.MaxConcurrent = raw.MaxConcurrent
	}
	if meta.IsDefined("retry_delay") {
		d, err := parseDuration("retry_delay", raw.RetryDelay)
		if err != nil {
			return warden.ServiceConfig{}, err
		}
		cfg.Session.Retry.InitialDelay = d
	}
	if meta.IsDefined("retry_multiplier") {
		cfg.Session.Retry.Multiplier = raw.RetryMultiplier
	}
	if meta.IsDefined("retry_max_delay") {
		d, err := parseDuration("retry_max_delay", raw.RetryMaxDelay)
		if err != nil {
			return warden.ServiceConfig{}, err
		}
		cfg.Session.Retry.MaxDelay = d
	}

	if meta.IsDefined("prompt_listen") {
		cfg.PromptListen = strings.TrimSpace(raw.PromptListen)
	}
	if meta.IsDefined("prompt_token_file") {
		cfg.PromptTokenFile = strings.TrimSpace(raw.PromptTokenFile)
	}
	if meta.IsDefined("prompt_echo") {
		cfg.PromptEcho = challenge.EchoPolicy(strings.TrimSpace(raw.PromptEcho))
	}

	if meta.IsDefined("http_addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CorsOrigins)
	}

	if meta.IsDefined("verify_backend") {
		cfg.Verify.Backend = strings.TrimSpace(raw.VerifyBackend)
	}
	if meta.IsDefined("helper_path") {
		cfg.Verify.HelperPath = strings.TrimSpace(raw.HelperPath)
	}
	if meta.IsDefined("verify_timeout") {
		d, err := parseDuration("verify_timeout", raw.VerifyTimeout)
		if err != nil {
			return warden.ServiceConfig{}, err
		}
		cfg.Verify.Timeout = d
	}
	if meta.IsDefined("static_secret") {
		cfg.Verify.StaticSecret = raw.StaticSecret
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.TrimSpace(raw.LogFormat)
	}

	if err := cfg.Validate(); err != nil {
		return warden.ServiceConfig{}, fmt.Errorf("load warden config: %w", err)
	}
	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
