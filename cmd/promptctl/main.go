package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/danmuck/warden/internal/auth"
	"github.com/danmuck/warden/internal/config"
	"github.com/danmuck/warden/internal/promptwire"
	"github.com/danmuck/warden/internal/warden"
	"golang.org/x/term"
)

// clientOptions resolve from the config file first; flags win.
type clientOptions struct {
	Connect   string
	TokenFile string
	Name      string
	Secret    string
	CancelAll bool
}

func main() {
	configPath := flag.String("config", "", "path to promptctl config.toml")
	connect := flag.String("connect", "", "prompt endpoint: auto, unix://<path>, or host:port")
	tokenFile := flag.String("token-file", "", "file holding the prompt socket token")
	name := flag.String("name", "", "client name for the handshake")
	secret := flag.String("secret", "", "answer every prompt with this secret instead of reading the terminal")
	cancel := flag.Bool("cancel", false, "dismiss every prompt instead of answering")
	flag.Parse()

	opts, err := resolveOptions(*configPath, *connect, *tokenFile, *name, *secret, *cancel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "promptctl: %v\n", err)
		os.Exit(1)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "promptctl: %v\n", err)
		os.Exit(1)
	}
}

func resolveOptions(configPath, connect, tokenFile, name, secret string, cancelAll bool) (clientOptions, error) {
	opts := clientOptions{Connect: "auto", Name: "promptctl"}
	if configPath != "" {
		cfg, err := config.LoadPromptClientConfig(configPath)
		if err != nil {
			return clientOptions{}, err
		}
		if strings.TrimSpace(cfg.Connect) != "" {
			opts.Connect = strings.TrimSpace(cfg.Connect)
		}
		opts.TokenFile = strings.TrimSpace(cfg.TokenFile)
		opts.Name = cfg.ClientName
	}
	if strings.TrimSpace(connect) != "" {
		opts.Connect = strings.TrimSpace(connect)
	}
	if strings.TrimSpace(tokenFile) != "" {
		opts.TokenFile = strings.TrimSpace(tokenFile)
	}
	if strings.TrimSpace(name) != "" {
		opts.Name = strings.TrimSpace(name)
	}
	opts.Secret = secret
	opts.CancelAll = cancelAll
	return opts, nil
}

func run(opts clientOptions) error {
	token := ""
	if opts.TokenFile != "" {
		loaded, err := auth.TokenFromFile(opts.TokenFile)
		if err != nil {
			return err
		}
		token = loaded
	}

	network, addr, err := warden.ResolvePromptListen(opts.Connect)
	if err != nil {
		return err
	}
	conn, err := net.Dial(network, addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	c := &client{
		opts:  opts,
		conn:  conn,
		r:     bufio.NewReader(conn),
		stdin: bufio.NewReader(os.Stdin),
	}
	if err := c.handshake(token); err != nil {
		return err
	}
	fmt.Printf("connected to %s\n", addr)
	return c.loop()
}

// client drives one prompt socket connection.
type client struct {
	opts  clientOptions
	conn  net.Conn
	r     *bufio.Reader
	stdin *bufio.Reader
}

func (c *client) handshake(token string) error {
	err := promptwire.Write(c.conn, promptwire.Envelope{
		Kind: promptwire.KindHello,
		Hello: &promptwire.Hello{
			ClientName: c.opts.Name,
			Token:      token,
			Protocol:   promptwire.ProtocolVersion,
		},
	})
	if err != nil {
		return err
	}
	env, err := promptwire.Read(c.r)
	if err != nil {
		return fmt.Errorf("handshake read: %w", err)
	}
	if env.Kind != promptwire.KindHelloAck {
		return fmt.Errorf("handshake reply was %s", env.Kind)
	}
	if env.HelloAck.Status != promptwire.AckStatusAccepted {
		return fmt.Errorf("agent rejected handshake: %s", env.HelloAck.Message)
	}
	fmt.Printf("agent %s accepted handshake\n", env.HelloAck.AgentID)
	return nil
}

func (c *client) loop() error {
	for {
		env, err := promptwire.Read(c.r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				fmt.Println("agent closed the connection")
				return nil
			}
			return err
		}
		switch env.Kind {
		case promptwire.KindShowPrompt:
			if err := c.answer(*env.ShowPrompt); err != nil {
				return err
			}
		case promptwire.KindHidePrompt:
			fmt.Printf("prompt for %s withdrawn\n", env.HidePrompt.SessionID)
		case promptwire.KindAck:
			if env.Ack.Status == promptwire.AckStatusRejected {
				fmt.Printf("answer rejected: %s\n", env.Ack.Message)
			}
		default:
			fmt.Printf("ignoring %s\n", env.Kind)
		}
	}
}

func (c *client) answer(p promptwire.ShowPrompt) error {
	fmt.Print(renderPrompt(p))
	if c.opts.CancelAll {
		fmt.Println("dismissing prompt")
		return c.sendCancel(p.SessionID)
	}

	secret := c.opts.Secret
	if secret == "" {
		read, cancelled, err := c.readSecret(p)
		if err != nil {
			return err
		}
		if cancelled {
			fmt.Println("dismissing prompt")
			return c.sendCancel(p.SessionID)
		}
		secret = read
	}
	return promptwire.Write(c.conn, promptwire.Envelope{
		Kind:   promptwire.KindSecret,
		Secret: &promptwire.Secret{SessionID: p.SessionID, Secret: secret},
	})
}

func (c *client) sendCancel(sessionID string) error {
	return promptwire.Write(c.conn, promptwire.Envelope{
		Kind:   promptwire.KindCancel,
		Cancel: &promptwire.Cancel{SessionID: sessionID},
	})
}

// readSecret prompts on stderr and reads the answer from stdin. Hidden
// echo disables the terminal echo; end of input dismisses the prompt.
func (c *client) readSecret(p promptwire.ShowPrompt) (string, bool, error) {
	fd := int(os.Stdin.Fd())
	fmt.Fprint(os.Stderr, "secret: ")
	if p.Echo == promptwire.EchoHidden && term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", true, nil
			}
			return "", false, fmt.Errorf("read secret: %w", err)
		}
		return string(raw), false, nil
	}
	line, err := c.stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", false, fmt.Errorf("read secret: %w", err)
	}
	if errors.Is(err, io.EOF) && line == "" {
		return "", true, nil
	}
	return strings.TrimRight(line, "\r\n"), false, nil
}

func renderPrompt(p promptwire.ShowPrompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n=== authentication required (attempt %d/%d) ===\n", p.Attempt, p.MaxAttempts)
	fmt.Fprintf(&b, "action:  %s\n", p.ActionID)
	if p.Prompt != "" {
		fmt.Fprintf(&b, "message: %s\n", p.Prompt)
	}
	keys := make([]string, 0, len(p.Details))
	for k := range p.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, p.Details[k])
	}
	return b.String()
}
