package warden

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/warden/internal/auth"
	"github.com/danmuck/warden/internal/challenge"
	"github.com/danmuck/warden/internal/clock"
	"github.com/danmuck/warden/internal/observability"
	"github.com/danmuck/warden/internal/promptwire"
	"github.com/danmuck/warden/internal/session"
	"github.com/rs/zerolog"
)

const (
	handshakeTimeout   = 10 * time.Second
	promptWriteTimeout = 5 * time.Second
)

var ErrNoPromptClient = errors.New("warden: no prompt client connected")

// DispatchFunc routes one UI-originated event to its session.
type DispatchFunc func(id string, ev session.Event) error

// PromptServer serves UI clients over the prompt socket and is the
// display surface interactive sessions draw on. One client drives
// prompts at a time; the most recent completed handshake wins.
type PromptServer struct {
	agentID   string
	validator auth.Validator
	dispatch  DispatchFunc
	clk       clock.Clock
	logger    zerolog.Logger

	mu      sync.Mutex
	current *promptClient

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	clientCount atomic.Int64
}

var _ challenge.Prompter = (*PromptServer)(nil)

// promptClient is one handshaken UI connection. The write mutex keeps
// concurrent session prompts from interleaving lines.
type promptClient struct {
	name string
	conn net.Conn
	wmu  sync.Mutex
}

func NewPromptServer(agentID string, validator auth.Validator, dispatch DispatchFunc, clk clock.Clock, logger zerolog.Logger) *PromptServer {
	if validator == nil {
		validator = auth.AllowAll{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &PromptServer{
		agentID:   strings.TrimSpace(agentID),
		validator: validator,
		dispatch:  dispatch,
		clk:       clk,
		logger:    logger,
		conns:     make(map[net.Conn]struct{}),
	}
}

// Serve accepts UI clients on ln until ctx ends.
func (s *PromptServer) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("prompt socket listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		go s.handleConn(conn)
	}
}

func (s *PromptServer) handleConn(conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()
	active := s.clientCount.Add(1)
	s.logger.Info().Str("remote", remote).Int64("active_clients", active).Msg("prompt client connected")
	defer func() {
		remaining := s.clientCount.Add(-1)
		s.logger.Info().Str("remote", remote).Int64("active_clients", remaining).Msg("prompt client disconnected")
	}()

	reader := bufio.NewReader(conn)
	client, err := s.handshake(conn, reader)
	if err != nil {
		s.logger.Warn().Str("remote", remote).Err(err).Msg("prompt handshake rejected")
		return
	}
	s.adopt(client)
	defer s.release(client)
	s.logger.Info().Str("remote", remote).Str("client", client.name).Msg("prompt client adopted")

	// UI clients sit idle between prompts, so reads run without a
	// deadline once the handshake is done.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		s.logger.Warn().Str("remote", remote).Err(err).Msg("clear deadline failed")
	}

	for {
		env, err := promptwire.Read(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn().Str("remote", remote).Err(err).Msg("prompt read failed")
			}
			return
		}
		if !s.handleEnvelope(client, env) {
			return
		}
	}
}

// handshake consumes the hello and answers it. Only an accepted hello
// yields a client.
func (s *PromptServer) handshake(conn net.Conn, reader *bufio.Reader) (*promptClient, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	env, err := promptwire.Read(reader)
	if err != nil {
		return nil, err
	}
	if env.Kind != promptwire.KindHello {
		return nil, fmt.Errorf("expected hello, got %s", env.Kind)
	}
	hello := env.Hello
	if hello.Protocol != promptwire.ProtocolVersion {
		s.reject(conn, fmt.Sprintf("unsupported protocol %d", hello.Protocol))
		return nil, fmt.Errorf("unsupported protocol %d from %q", hello.Protocol, hello.ClientName)
	}
	if err := s.validator.Validate(hello.Token); err != nil {
		s.reject(conn, "bad token")
		return nil, fmt.Errorf("client %q: %w", hello.ClientName, err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(promptWriteTimeout))
	err = promptwire.Write(conn, promptwire.Envelope{
		Kind: promptwire.KindHelloAck,
		HelloAck: &promptwire.HelloAck{
			Status:      promptwire.AckStatusAccepted,
			AgentID:     s.agentID,
			TimestampMS: uint64(s.clk.Now().UnixMilli()),
		},
	})
	_ = conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return nil, err
	}
	return &promptClient{name: strings.TrimSpace(hello.ClientName), conn: conn}, nil
}

func (s *PromptServer) reject(conn net.Conn, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(promptWriteTimeout))
	_ = promptwire.Write(conn, promptwire.Envelope{
		Kind: promptwire.KindHelloAck,
		HelloAck: &promptwire.HelloAck{
			Status:      promptwire.AckStatusRejected,
			Message:     reason,
			AgentID:     s.agentID,
			TimestampMS: uint64(s.clk.Now().UnixMilli()),
		},
	})
}

// adopt installs c as the prompt surface, displacing any previous
// client. Displacement closes the old connection; rounds shown there
// cannot resurface on the new client and resolve by cancel or timeout.
func (s *PromptServer) adopt(c *promptClient) {
	s.mu.Lock()
	prev := s.current
	s.current = c
	s.mu.Unlock()
	observability.SetPromptClients(1)
	if prev != nil {
		s.logger.Info().Str("old", prev.name).Str("new", c.name).Msg("prompt client replaced")
		_ = prev.conn.Close()
	}
}

func (s *PromptServer) release(c *promptClient) {
	s.mu.Lock()
	released := s.current == c
	if released {
		s.current = nil
	}
	s.mu.Unlock()
	if released {
		observability.SetPromptClients(0)
	}
}

// handleEnvelope applies one client message. A stale session id is the
// benign race with completion: the answer is acked and dropped.
func (s *PromptServer) handleEnvelope(c *promptClient, env promptwire.Envelope) bool {
	var sessionID string
	var ev session.Event
	switch env.Kind {
	case promptwire.KindSecret:
		sessionID = env.Secret.SessionID
		ev = session.Event{Kind: session.EventUserSecret, Secret: env.Secret.Secret}
	case promptwire.KindCancel:
		sessionID = env.Cancel.SessionID
		ev = session.Event{Kind: session.EventUserCancelled}
	default:
		s.logger.Warn().Str("client", c.name).Str("kind", string(env.Kind)).Msg("unexpected prompt envelope")
		return false
	}

	ack := promptwire.Ack{SessionID: sessionID, Status: promptwire.AckStatusAccepted}
	if err := s.dispatch(sessionID, ev); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			s.logger.Debug().Str("session_id", sessionID).Msg("answer for finished session dropped")
		} else {
			ack.Status = promptwire.AckStatusRejected
			ack.Message = err.Error()
		}
	}
	if err := s.writeEnvelope(c, promptwire.Envelope{Kind: promptwire.KindAck, Ack: &ack}); err != nil {
		s.logger.Warn().Str("client", c.name).Err(err).Msg("ack write failed")
		return false
	}
	return true
}

// ShowPrompt draws one round on the current client.
func (s *PromptServer) ShowPrompt(r challenge.Round) error {
	c := s.client()
	if c == nil {
		return ErrNoPromptClient
	}
	err := s.writeEnvelope(c, promptwire.Envelope{
		Kind: promptwire.KindShowPrompt,
		ShowPrompt: &promptwire.ShowPrompt{
			SessionID:   r.SessionID,
			ActionID:    r.ActionID,
			Prompt:      r.Prompt,
			Echo:        string(r.Echo),
			Attempt:     r.Attempt,
			MaxAttempts: r.MaxAttempts,
			IconName:    r.IconName,
			Details:     r.Details,
		},
	})
	if err != nil {
		_ = c.conn.Close()
		return fmt.Errorf("warden: show prompt: %w", err)
	}
	observability.RecordPromptShown()
	return nil
}

// HidePrompt retracts a round. Best effort: the client may already be
// gone, and the session is ending either way.
func (s *PromptServer) HidePrompt(sessionID string) {
	c := s.client()
	if c == nil {
		return
	}
	err := s.writeEnvelope(c, promptwire.Envelope{
		Kind:       promptwire.KindHidePrompt,
		HidePrompt: &promptwire.HidePrompt{SessionID: sessionID},
	})
	if err != nil {
		s.logger.Debug().Str("session_id", sessionID).Err(err).Msg("hide prompt write failed")
	}
}

func (s *PromptServer) client() *promptClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ClientCount reports connections past accept, handshaken or not.
func (s *PromptServer) ClientCount() int64 {
	return s.clientCount.Load()
}

func (s *PromptServer) writeEnvelope(c *promptClient, env promptwire.Envelope) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(promptWriteTimeout))
	defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	return promptwire.Write(c.conn, env)
}

func (s *PromptServer) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *PromptServer) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *PromptServer) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}
