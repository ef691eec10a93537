package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "agent":
		return agentTemplate, nil
	case "prompt":
		return promptTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const agentTemplate = `id = "warden"
locale = "en_US"
# interactive prompts through a connected UI client; unattended answers
# from unattended_token_file without any UI.
mode = "interactive"
# unattended_token_file = "/etc/warden/response-token"

max_attempts = 3
session_timeout = "5m"
round_timeout = "2m"
max_concurrent = 16
retry_delay = "250ms"
retry_multiplier = 1.0
retry_max_delay = "2s"

# "auto" derives a unix socket under XDG_RUNTIME_DIR. A host:port value
# listens on loopback TCP instead.
prompt_listen = "auto"
# prompt_token_file = "/etc/warden/prompt-token"
prompt_echo = "hidden"

http_addr = "127.0.0.1:9460"
cors_origins = ["http://localhost:3000"]

verify_backend = "helper"
helper_path = "/usr/lib/polkit-1/polkit-agent-helper-1"
verify_timeout = "25s"
# static_secret is only read by the development "static" backend.
# static_secret = ""

log_level = "info"
log_format = "json"
`

const promptTemplate = `# promptctl connects to the agent's prompt socket.
connect = "auto"
# token_file = "/etc/warden/prompt-token"
client_name = "promptctl"
`
