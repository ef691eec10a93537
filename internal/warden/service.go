package warden

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/warden/internal/auth"
	"github.com/danmuck/warden/internal/challenge"
	"github.com/danmuck/warden/internal/clock"
	"github.com/danmuck/warden/internal/observability"
	"github.com/danmuck/warden/internal/polkit"
	"github.com/danmuck/warden/internal/session"
	"github.com/danmuck/warden/internal/verify"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidMode         = errors.New("warden: invalid mode")
	ErrMissingUnattended   = errors.New("warden: unattended mode needs a token file")
	ErrInvalidTickInterval = errors.New("warden: invalid tick interval")
)

// Mode selects how challenge rounds reach the subject.
type Mode string

const (
	// ModeInteractive drives rounds through prompt socket clients.
	ModeInteractive Mode = "interactive"
	// ModeUnattended answers every round with a provisioned token.
	ModeUnattended Mode = "unattended"
)

// VerifyConfig selects and configures the credential verifier backend.
type VerifyConfig struct {
	Backend      string
	HelperPath   string
	Timeout      time.Duration
	StaticSecret string
}

// ServiceConfig configures the agent daemon runtime.
type ServiceConfig struct {
	AgentID             string
	Locale              string
	Mode                Mode
	Session             session.Config
	PromptListen        string
	PromptTokenFile     string
	PromptEcho          challenge.EchoPolicy
	UnattendedTokenFile string
	HTTPAddr            string
	CORSOrigins         []string
	Verify              VerifyConfig
	TickInterval        time.Duration
	HeartbeatInterval   time.Duration
	LogLevel            string
	LogFormat           string
}

// Agent daemon defaults for standalone runtime configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		AgentID:           "warden",
		Locale:            polkit.DefaultLocale,
		Mode:              ModeInteractive,
		Session:           session.DefaultConfig(),
		PromptListen:      "",
		PromptEcho:        challenge.EchoHidden,
		HTTPAddr:          "127.0.0.1:9460",
		Verify:            VerifyConfig{Backend: "helper"},
		TickInterval:      time.Second,
		HeartbeatInterval: 30 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
	}
}

func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.AgentID) == "" {
		return errors.New("warden: agent id required")
	}
	switch c.Mode {
	case ModeInteractive, ModeUnattended:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode)
	}
	if c.Mode == ModeUnattended && strings.TrimSpace(c.UnattendedTokenFile) == "" {
		return ErrMissingUnattended
	}
	if c.PromptEcho != "" && c.PromptEcho != challenge.EchoHidden && c.PromptEcho != challenge.EchoVisible {
		return fmt.Errorf("warden: invalid prompt echo %q", c.PromptEcho)
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if c.TickInterval <= 0 || c.HeartbeatInterval <= 0 {
		return ErrInvalidTickInterval
	}
	if strings.TrimSpace(c.Verify.Backend) == "" {
		return errors.New("warden: verify backend required")
	}
	if _, err := NormalizeLoopbackAddr(c.HTTPAddr); err != nil {
		return err
	}
	if _, _, err := ResolvePromptListen(c.PromptListen); err != nil {
		return err
	}
	return nil
}

// Service runs the agent daemon lifecycle as a standalone process.
type Service struct {
	cfg    ServiceConfig
	clk    clock.Clock
	logger zerolog.Logger

	agent      *Agent
	prompts    *PromptServer
	registered atomic.Bool
}

// Agent daemon constructor using default standalone config.
func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

// Agent daemon constructor using explicit config.
func NewServiceWithConfig(cfg ServiceConfig) *Service {
	cfg.Session = cfg.Session.WithDefaults()
	if strings.TrimSpace(string(cfg.Mode)) == "" {
		cfg.Mode = ModeInteractive
	}
	if strings.TrimSpace(cfg.Locale) == "" {
		cfg.Locale = polkit.DefaultLocale
	}
	return &Service{
		cfg: cfg,
		clk: clock.New(),
	}
}

// Run blocks until process signal shutdown.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.run(ctx)
}

func (s *Service) run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	s.logger = observability.InitLogger(s.cfg.AgentID, s.cfg.LogLevel, s.cfg.LogFormat)
	observability.RegisterMetrics()

	verifier, err := verify.Resolve(s.cfg.Verify.Backend, verify.Options{
		HelperPath:  s.cfg.Verify.HelperPath,
		Timeout:     s.cfg.Verify.Timeout,
		StaticToken: s.cfg.Verify.StaticSecret,
	})
	if err != nil {
		return err
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("warden: connect system bus: %w", err)
	}
	defer conn.Close()

	subject, err := polkit.DiscoverSubject(ctx, conn)
	if err != nil {
		return err
	}
	authority := polkit.NewAuthority(conn)
	uid := uint32(os.Getuid())

	channel, err := s.buildChannel()
	if err != nil {
		return err
	}
	agent, err := NewAgent(AgentOptions{
		AgentID:  s.cfg.AgentID,
		UID:      uid,
		Session:  s.cfg.Session,
		Clock:    s.clk,
		Logger:   s.logger,
		Channel:  channel,
		Verifier: verifier,
		Sink:     newAuthoritySink(authority, uid),
		Echo:     s.cfg.PromptEcho,
	})
	if err != nil {
		return err
	}
	s.agent = agent

	httpSrv := NewHTTPServer(s.cfg.AgentID, s.cfg.HTTPAddr, s.cfg.CORSOrigins, agent, s.registered.Load)

	// The servers get their own contexts so shutdown can follow the
	// required order: unregister, drain sessions, then close the prompt
	// socket and the HTTP surface.
	promptCtx, stopPrompts := context.WithCancel(context.Background())
	defer stopPrompts()
	httpCtx, stopHTTP := context.WithCancel(context.Background())
	defer stopHTTP()

	g, gctx := errgroup.WithContext(ctx)
	if s.prompts != nil {
		ln, err := ListenPrompt(s.cfg.PromptListen)
		if err != nil {
			return err
		}
		prompts := s.prompts
		g.Go(func() error {
			return prompts.Serve(promptCtx, ln)
		})
	}
	g.Go(func() error {
		s.logger.Info().Str("addr", s.cfg.HTTPAddr).Msg("introspection server listening")
		return httpSrv.Serve(httpCtx)
	})
	g.Go(func() error {
		defer stopPrompts()
		defer stopHTTP()
		return s.serveAgent(gctx, conn, authority, subject)
	})
	return g.Wait()
}

// buildChannel wires the configured mode. The dispatch closure reads
// s.agent at call time, which breaks the construction cycle between
// the prompt server and the façade.
func (s *Service) buildChannel() (challenge.Channel, error) {
	if s.cfg.Mode == ModeUnattended {
		token, err := auth.TokenFromFile(s.cfg.UnattendedTokenFile)
		if err != nil {
			return nil, err
		}
		return challenge.NewUnattended(token, func(sessionID, secret string) {
			if err := s.agent.Dispatch(sessionID, session.Event{
				Kind:   session.EventUserSecret,
				Secret: secret,
			}); err != nil {
				s.logger.Warn().Str("session_id", sessionID).Err(err).Msg("unattended submit dropped")
			}
		}), nil
	}

	var validator auth.Validator = auth.AllowAll{}
	if file := strings.TrimSpace(s.cfg.PromptTokenFile); file != "" {
		token, err := auth.TokenFromFile(file)
		if err != nil {
			return nil, err
		}
		validator = auth.StaticToken{Token: token}
	}
	s.prompts = NewPromptServer(s.cfg.AgentID, validator, func(id string, ev session.Event) error {
		return s.agent.Dispatch(id, ev)
	}, s.clk, s.logger)
	return challenge.NewInteractive(s.prompts), nil
}

// serveAgent registers with the authority, drives the periodic sweeps,
// and unwinds in order when ctx ends.
func (s *Service) serveAgent(ctx context.Context, conn *dbus.Conn, authority *polkit.Authority, subject polkit.Subject) error {
	handler := newAgentHandler(s.agent, s.logger)
	if err := polkit.ExportAgent(conn, polkit.DefaultAgentPath, handler); err != nil {
		return err
	}
	if err := authority.Register(ctx, subject, s.cfg.Locale, polkit.DefaultAgentPath); err != nil {
		return err
	}
	s.registered.Store(true)
	s.logger.Info().
		Str("agent_id", s.cfg.AgentID).
		Str("subject", subject.Kind).
		Str("mode", string(s.cfg.Mode)).
		Msg("registered with authority")

	tick := s.clk.NewTicker(s.cfg.TickInterval)
	defer tick.Stop()
	heartbeat := s.clk.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown(authority, subject)
		case now := <-tick.C():
			s.agent.Tick(now)
			s.agent.FlushReports()
		case <-heartbeat.C():
			s.logger.Info().
				Int("live_sessions", s.agent.Live()).
				Int("pending_reports", len(s.agent.Reports())).
				Int64("prompt_clients", s.promptClients()).
				Msg("heartbeat")
		}
	}
}

// shutdown unregisters first so the authority stops handing us work,
// then flushes live sessions as cancelled.
func (s *Service) shutdown(authority *polkit.Authority, subject polkit.Subject) error {
	s.registered.Store(false)
	unregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := authority.Unregister(unregCtx, subject, polkit.DefaultAgentPath); err != nil {
		s.logger.Warn().Err(err).Msg("unregister failed")
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelDrain()
	if err := s.agent.Shutdown(drainCtx); err != nil {
		s.logger.Warn().Err(err).Msg("session drain incomplete")
		return nil
	}
	s.logger.Info().Msg("agent shut down")
	return nil
}

func (s *Service) promptClients() int64 {
	if s.prompts == nil {
		return 0
	}
	return s.prompts.ClientCount()
}
