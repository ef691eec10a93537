package warden

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

const promptSocketName = "prompt.sock"

var ErrInvalidPromptListen = errors.New("warden: invalid prompt listen address")

// ResolvePromptListen maps a configured prompt_listen value onto a
// concrete network and address. Empty or "auto" selects a unix socket
// under the user runtime directory, "unix://<path>" forces a socket
// path, and anything else must normalize to a loopback TCP endpoint.
func ResolvePromptListen(raw string) (network, addr string, err error) {
	value := strings.TrimSpace(raw)
	if value == "" || strings.EqualFold(value, "auto") {
		return "unix", defaultSocketPath(), nil
	}
	if path, ok := strings.CutPrefix(value, "unix://"); ok {
		path = strings.TrimSpace(path)
		if path == "" {
			return "", "", fmt.Errorf("%w: empty socket path", ErrInvalidPromptListen)
		}
		return "unix", path, nil
	}
	addr, err = NormalizeLoopbackAddr(value)
	if err != nil {
		return "", "", err
	}
	return "tcp", addr, nil
}

// NormalizeLoopbackAddr resolves a host:port string to a stable loopback
// endpoint. The prompt socket and the introspection server both refuse
// to bind anywhere the rest of the machine can reach.
func NormalizeLoopbackAddr(rawAddr string) (string, error) {
	addr := strings.TrimSpace(rawAddr)
	if addr == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidPromptListen)
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPromptListen, addr)
	}
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	if port == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPromptListen, addr)
	}
	if host == "" || strings.EqualFold(host, "localhost") {
		return net.JoinHostPort("127.0.0.1", port), nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("%w: %q is not a loopback address", ErrInvalidPromptListen, addr)
	}
	if !ip.IsLoopback() {
		return "", fmt.Errorf("%w: %q is not a loopback address", ErrInvalidPromptListen, addr)
	}
	return net.JoinHostPort(ip.String(), port), nil
}

// ListenPrompt resolves and binds the prompt endpoint. Unix sockets get
// their parent directory created 0700, any stale socket file removed,
// and the bound socket tightened to 0600 so only the owning user can
// drive prompts.
func ListenPrompt(raw string) (net.Listener, error) {
	network, addr, err := ResolvePromptListen(raw)
	if err != nil {
		return nil, err
	}
	if network != "unix" {
		return net.Listen(network, addr)
	}
	if err := os.MkdirAll(filepath.Dir(addr), 0o700); err != nil {
		return nil, fmt.Errorf("warden: prompt socket dir: %w", err)
	}
	if err := os.Remove(addr); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("warden: stale prompt socket: %w", err)
	}
	ln, err := net.Listen("unix", addr)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(addr, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("warden: prompt socket mode: %w", err)
	}
	return ln, nil
}

func defaultSocketPath() string {
	if base := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); base != "" {
		return filepath.Join(base, "warden", promptSocketName)
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("warden-%d", os.Getuid()), promptSocketName)
}
