// Package promptwire defines the line-delimited JSON protocol between the
// agent and prompt UI clients. One JSON object per line, both directions.
// The wire shapes are deliberately self-contained: the daemon converts to
// and from its own types at the boundary.
package promptwire

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ProtocolVersion is bumped on any incompatible wire change. The server
// rejects hellos carrying a different version.
const ProtocolVersion = 1

const maxLineBytes = 128 * 1024

const (
	EchoHidden  = "hidden"
	EchoVisible = "visible"

	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"
)

var (
	ErrInvalidEnvelope = errors.New("promptwire: invalid envelope")
	ErrMessageTooLarge = errors.New("promptwire: message too large")
)

// Kind discriminates envelope payloads.
type Kind string

const (
	KindHello      Kind = "hello"
	KindHelloAck   Kind = "hello_ack"
	KindShowPrompt Kind = "show_prompt"
	KindHidePrompt Kind = "hide_prompt"
	KindSecret     Kind = "secret"
	KindCancel     Kind = "cancel"
	KindAck        Kind = "ack"
)

// Hello is the client's opening message.
type Hello struct {
	ClientName string `json:"client_name"`
	Token      string `json:"token,omitempty"`
	Protocol   int    `json:"protocol"`
}

func (h Hello) Validate() error {
	if strings.TrimSpace(h.ClientName) == "" {
		return fmt.Errorf("%w: missing client_name", ErrInvalidEnvelope)
	}
	if h.Protocol <= 0 {
		return fmt.Errorf("%w: missing protocol", ErrInvalidEnvelope)
	}
	return nil
}

// HelloAck is the server's handshake response.
type HelloAck struct {
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	AgentID     string `json:"agent_id"`
	TimestampMS uint64 `json:"timestamp_ms"`
}

func (a HelloAck) Validate() error {
	status := strings.TrimSpace(a.Status)
	if status != AckStatusAccepted && status != AckStatusRejected {
		return fmt.Errorf("%w: invalid hello_ack status", ErrInvalidEnvelope)
	}
	if strings.TrimSpace(a.AgentID) == "" {
		return fmt.Errorf("%w: missing agent_id", ErrInvalidEnvelope)
	}
	if a.TimestampMS == 0 {
		return fmt.Errorf("%w: missing timestamp_ms", ErrInvalidEnvelope)
	}
	return nil
}

// ShowPrompt asks the client to draw one challenge round.
type ShowPrompt struct {
	SessionID   string            `json:"session_id"`
	ActionID    string            `json:"action_id"`
	Prompt      string            `json:"prompt"`
	Echo        string            `json:"echo"`
	Attempt     int               `json:"attempt"`
	MaxAttempts int               `json:"max_attempts"`
	IconName    string            `json:"icon_name,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

func (p ShowPrompt) Validate() error {
	if strings.TrimSpace(p.SessionID) == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidEnvelope)
	}
	if strings.TrimSpace(p.ActionID) == "" {
		return fmt.Errorf("%w: missing action_id", ErrInvalidEnvelope)
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("%w: missing prompt", ErrInvalidEnvelope)
	}
	if p.Echo != EchoHidden && p.Echo != EchoVisible {
		return fmt.Errorf("%w: invalid echo %q", ErrInvalidEnvelope, p.Echo)
	}
	if p.Attempt <= 0 {
		return fmt.Errorf("%w: missing attempt", ErrInvalidEnvelope)
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("%w: missing max_attempts", ErrInvalidEnvelope)
	}
	return nil
}

// HidePrompt retracts a previously shown round.
type HidePrompt struct {
	SessionID string `json:"session_id"`
}

func (p HidePrompt) Validate() error {
	if strings.TrimSpace(p.SessionID) == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidEnvelope)
	}
	return nil
}

// Secret is the client's answer to a shown round. An empty secret is a
// legitimate empty credential.
type Secret struct {
	SessionID string `json:"session_id"`
	Secret    string `json:"secret"`
}

func (s Secret) Validate() error {
	if strings.TrimSpace(s.SessionID) == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidEnvelope)
	}
	return nil
}

// Cancel is the client reporting the subject dismissed the prompt.
type Cancel struct {
	SessionID string `json:"session_id"`
}

func (c Cancel) Validate() error {
	if strings.TrimSpace(c.SessionID) == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidEnvelope)
	}
	return nil
}

// Ack is the server's receipt for a secret or cancel.
type Ack struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

func (a Ack) Validate() error {
	if strings.TrimSpace(a.SessionID) == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidEnvelope)
	}
	status := strings.TrimSpace(a.Status)
	if status != AckStatusAccepted && status != AckStatusRejected {
		return fmt.Errorf("%w: invalid ack status", ErrInvalidEnvelope)
	}
	return nil
}

// Envelope is one wire message. Exactly the payload named by Kind is set.
type Envelope struct {
	Kind       Kind        `json:"kind"`
	Hello      *Hello      `json:"hello,omitempty"`
	HelloAck   *HelloAck   `json:"hello_ack,omitempty"`
	ShowPrompt *ShowPrompt `json:"show_prompt,omitempty"`
	HidePrompt *HidePrompt `json:"hide_prompt,omitempty"`
	Secret     *Secret     `json:"secret,omitempty"`
	Cancel     *Cancel     `json:"cancel,omitempty"`
	Ack        *Ack        `json:"ack,omitempty"`
}

func (e Envelope) Validate() error {
	switch e.Kind {
	case KindHello:
		if e.Hello == nil {
			return fmt.Errorf("%w: missing hello payload", ErrInvalidEnvelope)
		}
		return e.Hello.Validate()
	case KindHelloAck:
		if e.HelloAck == nil {
			return fmt.Errorf("%w: missing hello_ack payload", ErrInvalidEnvelope)
		}
		return e.HelloAck.Validate()
	case KindShowPrompt:
		if e.ShowPrompt == nil {
			return fmt.Errorf("%w: missing show_prompt payload", ErrInvalidEnvelope)
		}
		return e.ShowPrompt.Validate()
	case KindHidePrompt:
		if e.HidePrompt == nil {
			return fmt.Errorf("%w: missing hide_prompt payload", ErrInvalidEnvelope)
		}
		return e.HidePrompt.Validate()
	case KindSecret:
		if e.Secret == nil {
			return fmt.Errorf("%w: missing secret payload", ErrInvalidEnvelope)
		}
		return e.Secret.Validate()
	case KindCancel:
		if e.Cancel == nil {
			return fmt.Errorf("%w: missing cancel payload", ErrInvalidEnvelope)
		}
		return e.Cancel.Validate()
	case KindAck:
		if e.Ack == nil {
			return fmt.Errorf("%w: missing ack payload", ErrInvalidEnvelope)
		}
		return e.Ack.Validate()
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEnvelope, e.Kind)
	}
}

// Write emits one envelope as a single JSON line.
func Write(w io.Writer, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// Read consumes one JSON line and validates it. The size cap applies
// while the line buffers, so an oversized message is refused without
// holding more than maxLineBytes of it.
func Read(r *bufio.Reader) (Envelope, error) {
	line, err := readCappedLine(r)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func readCappedLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > maxLineBytes {
			return nil, ErrMessageTooLarge
		}
		line = append(line, chunk...)
		if err == nil {
			return line, nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
	}
}
