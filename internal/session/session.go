package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/warden/internal/challenge"
	"github.com/danmuck/warden/internal/clock"
	"github.com/danmuck/warden/internal/observability"
	"github.com/danmuck/warden/internal/verify"
	"github.com/rs/zerolog"
)

const eventQueueDepth = 16

// CreateSpec describes one request admitted into the registry.
type CreateSpec struct {
	Cookie   string
	ActionID string
	Subject  string
	Prompt   string
	Echo     challenge.EchoPolicy
	IconName string
	Details  map[string]string
	Deadline time.Time
	Channel  challenge.Channel
	Verifier verify.Verifier
}

func (s CreateSpec) Validate() error {
	if strings.TrimSpace(s.Cookie) == "" {
		return fmt.Errorf("%w: missing cookie", ErrInvalidSpec)
	}
	if strings.TrimSpace(s.ActionID) == "" {
		return fmt.Errorf("%w: missing action_id", ErrInvalidSpec)
	}
	if strings.TrimSpace(s.Subject) == "" {
		return fmt.Errorf("%w: missing subject", ErrInvalidSpec)
	}
	if strings.TrimSpace(s.Prompt) == "" {
		return fmt.Errorf("%w: missing prompt", ErrInvalidSpec)
	}
	if s.Echo != "" && s.Echo != challenge.EchoHidden && s.Echo != challenge.EchoVisible {
		return fmt.Errorf("%w: invalid echo policy %q", ErrInvalidSpec, s.Echo)
	}
	if s.Channel == nil {
		return fmt.Errorf("%w: missing challenge channel", ErrInvalidSpec)
	}
	if s.Verifier == nil {
		return fmt.Errorf("%w: missing verifier", ErrInvalidSpec)
	}
	return nil
}

// Session is one in-flight authentication exchange. A single goroutine,
// launched by Start, owns every state transition; everything else talks
// to the session through buffered channels.
type Session struct {
	id       string
	cookie   string
	actionID string
	subject  string
	prompt   string
	echo     challenge.EchoPolicy
	iconName string
	details  map[string]string
	deadline time.Time

	cfg      Config
	clk      clock.Clock
	channel  challenge.Channel
	verifier verify.Verifier
	logger   zerolog.Logger
	registry *Registry

	ctx    context.Context
	cancel context.CancelFunc

	events   chan Event
	verdicts chan verify.Result
	done     chan struct{}

	started atomic.Bool

	mu        sync.Mutex
	state     State
	attempts  int
	createdAt time.Time
	updatedAt time.Time
}

// Snapshot is the introspection view of one live session. It never
// carries the cookie or any collected secret.
type Snapshot struct {
	ID        string    `json:"id"`
	ActionID  string    `json:"action_id"`
	Subject   string    `json:"subject"`
	State     State     `json:"state"`
	Attempts  int       `json:"attempts"`
	Deadline  time.Time `json:"deadline"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Session) ID() string       { return s.id }
func (s *Session) Cookie() string   { return s.cookie }
func (s *Session) ActionID() string { return s.actionID }

func (s *Session) Deadline() time.Time { return s.deadline }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:        s.id,
		ActionID:  s.actionID,
		Subject:   s.subject,
		State:     s.state,
		Attempts:  s.attempts,
		Deadline:  s.deadline,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}

// Start launches the session loop. The first challenge round goes out
// shortly after; completion is observed through the registry callback.
func (s *Session) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.registry.wg.Add(1)
	observability.RecordSessionStarted()
	s.logger.Info().
		Str("action_id", s.actionID).
		Str("subject", s.subject).
		Time("deadline", s.deadline).
		Msg("session started")
	go s.run()
	return nil
}

// enqueue hands an event to the session loop without blocking. A full
// queue means the caller is flooding this session and the event is
// refused rather than stalling the dispatcher.
func (s *Session) enqueue(ev Event) error {
	select {
	case s.events <- ev:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrEventOverflow, s.id)
	}
}

func (s *Session) run() {
	defer s.registry.wg.Done()
	res := s.exchange()
	s.finish(res)
}

// exchange drives rounds until a terminal outcome: prompt, wait for the
// answer, verify it, then either grant, fail, or pause and go again.
func (s *Session) exchange() Result {
	deadline := s.clk.NewTimer(s.deadline.Sub(s.clk.Now()))
	defer deadline.Stop()

	for {
		s.beginRound()
		if err := s.channel.Begin(s.ctx, s.round()); err != nil {
			if errors.Is(err, challenge.ErrNotInteractive) {
				return s.terminal(StateDenied, "no interactive channel and no provisioned token")
			}
			return s.terminal(StateErrored, fmt.Sprintf("challenge: %v", err))
		}

		secret, res, final := s.awaitSecret(deadline)
		if final {
			return res
		}

		res, retry := s.verifyRound(deadline, secret)
		if !retry {
			return res
		}

		if res, final := s.pauseBeforeRetry(deadline); final {
			return res
		}
	}
}

// beginRound moves to Prompting and counts the attempt.
func (s *Session) beginRound() {
	s.mu.Lock()
	s.attempts++
	s.state = StatePrompting
	s.updatedAt = s.clk.Now()
	n := s.attempts
	s.mu.Unlock()
	s.logger.Debug().Int("attempt", n).Msg("challenge round issued")
}

func (s *Session) round() challenge.Round {
	return challenge.Round{
		SessionID:   s.id,
		Attempt:     s.Attempts(),
		MaxAttempts: s.cfg.MaxAttempts,
		Prompt:      s.prompt,
		Echo:        s.echo,
		ActionID:    s.actionID,
		IconName:    s.iconName,
		Details:     s.details,
	}
}

// awaitSecret parks until the subject answers the round or something
// ends the session first.
func (s *Session) awaitSecret(deadline clock.Timer) (string, Result, bool) {
	var roundC <-chan time.Time
	if s.cfg.RoundTimeout > 0 {
		t := s.clk.NewTimer(s.cfg.RoundTimeout)
		defer t.Stop()
		roundC = t.C()
	}
	for {
		select {
		case ev := <-s.events:
			switch ev.Kind {
			case EventUserSecret:
				return ev.Secret, Result{}, false
			case EventUserCancelled:
				return "", s.terminal(StateCancelled, cancelReason(ev, "cancelled by user")), true
			case EventAuthorityRevoked:
				return "", s.terminal(StateCancelled, cancelReason(ev, "revoked by authority")), true
			case eventDeadline:
				if s.expired() {
					return "", s.terminal(StateTimedOut, "session deadline exceeded"), true
				}
			}
		case <-roundC:
			return "", s.terminal(StateTimedOut, "challenge round unanswered"), true
		case <-deadline.C():
			return "", s.terminal(StateTimedOut, "session deadline exceeded"), true
		}
	}
}

// verifyRound runs the verifier off-loop and applies its verdict. A
// cancellation that lands while the verdict is in flight wins over it.
func (s *Session) verifyRound(deadline clock.Timer, secret string) (Result, bool) {
	s.setState(StateVerifying)
	begun := s.clk.Now()
	go func() {
		res := s.verifier.Verify(s.ctx, s.subject, secret)
		select {
		case s.verdicts <- res:
		case <-s.done:
		}
	}()

	for {
		select {
		case ev := <-s.events:
			if res, final := s.applyInterrupt(ev); final {
				return res, false
			}
		case verdict := <-s.verdicts:
			if res, final := s.drainInterrupts(); final {
				return res, false
			}
			observability.RecordVerify(string(verdict.Status), s.clk.Now().Sub(begun))
			switch verdict.Status {
			case verify.StatusValid:
				return s.terminal(StateGranted, ""), false
			case verify.StatusInvalid:
				if s.Attempts() >= s.cfg.MaxAttempts {
					return s.terminal(StateDenied, "credential rejected"), false
				}
				s.setState(StateRetrying)
				s.logger.Debug().Int("attempt", s.Attempts()).Msg("credential rejected, retrying")
				return Result{}, true
			default:
				return s.terminal(StateErrored, verifyDetail(verdict)), false
			}
		case <-deadline.C():
			return s.terminal(StateTimedOut, "session deadline exceeded"), false
		}
	}
}

// applyInterrupt handles an event arriving outside Prompting. Secrets are
// unsolicited there and dropped.
func (s *Session) applyInterrupt(ev Event) (Result, bool) {
	switch ev.Kind {
	case EventUserCancelled:
		return s.terminal(StateCancelled, cancelReason(ev, "cancelled by user")), true
	case EventAuthorityRevoked:
		return s.terminal(StateCancelled, cancelReason(ev, "revoked by authority")), true
	case EventUserSecret:
		s.logger.Debug().Msg("unsolicited secret dropped")
	case eventDeadline:
		if s.expired() {
			return s.terminal(StateTimedOut, "session deadline exceeded"), true
		}
	}
	return Result{}, false
}

// drainInterrupts gives queued cancellations priority over a verdict that
// arrived in the same instant.
func (s *Session) drainInterrupts() (Result, bool) {
	for {
		select {
		case ev := <-s.events:
			if res, final := s.applyInterrupt(ev); final {
				return res, true
			}
		default:
			return Result{}, false
		}
	}
}

// pauseBeforeRetry enforces the minimum spacing between rounds while
// staying responsive to cancellation.
func (s *Session) pauseBeforeRetry(deadline clock.Timer) (Result, bool) {
	delay := NextRetryDelay(s.cfg.Retry, s.Attempts(), nil)
	if delay <= 0 {
		return Result{}, false
	}
	pause := s.clk.NewTimer(delay)
	defer pause.Stop()
	for {
		select {
		case <-pause.C():
			return Result{}, false
		case ev := <-s.events:
			if res, final := s.applyInterrupt(ev); final {
				return res, true
			}
		case <-deadline.C():
			return s.terminal(StateTimedOut, "session deadline exceeded"), true
		}
	}
}

// terminal records the final state and builds the session result.
func (s *Session) terminal(outcome State, reason string) Result {
	s.setState(outcome)
	return Result{
		SessionID:   s.id,
		Cookie:      s.cookie,
		ActionID:    s.actionID,
		Outcome:     outcome,
		Reason:      reason,
		Attempts:    s.Attempts(),
		CompletedAt: s.clk.Now(),
	}
}

// finish runs the exactly-once teardown: retract the prompt, release the
// verifier goroutine, then hand the result to the registry.
func (s *Session) finish(res Result) {
	s.cancel()
	s.channel.End(s.id)
	close(s.done)
	observability.RecordSessionOutcome(string(res.Outcome), res.Attempts)
	entry := s.logger.Info()
	if res.Outcome == StateErrored {
		entry = s.logger.Error()
	}
	entry.
		Str("outcome", string(res.Outcome)).
		Str("reason", res.Reason).
		Int("attempts", res.Attempts).
		Msg("session complete")
	s.registry.complete(s, res)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.updatedAt = s.clk.Now()
	s.mu.Unlock()
}

func (s *Session) expired() bool {
	return !s.clk.Now().Before(s.deadline)
}

func cancelReason(ev Event, fallback string) string {
	if strings.TrimSpace(ev.Reason) != "" {
		return ev.Reason
	}
	return fallback
}

func verifyDetail(res verify.Result) string {
	if strings.TrimSpace(res.Detail) != "" {
		return res.Detail
	}
	return "verifier failed"
}
