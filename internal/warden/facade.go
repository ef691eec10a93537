package warden

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/warden/internal/challenge"
	"github.com/danmuck/warden/internal/clock"
	"github.com/danmuck/warden/internal/observability"
	"github.com/danmuck/warden/internal/polkit"
	"github.com/danmuck/warden/internal/session"
	"github.com/danmuck/warden/internal/verify"
	"github.com/rs/zerolog"
)

var (
	ErrDuplicateCookie = errors.New("warden: cookie already in flight")
	ErrUnknownCookie   = errors.New("warden: no authentication in flight for cookie")
	ErrNoIdentity      = errors.New("warden: no usable identity offered")
)

const (
	maxReportDeliveries = 5
	reportRetryDelay    = 2 * time.Second
	deliverTimeout      = 5 * time.Second
)

// ReportSink finalizes one terminal report with the authority. Granted
// outcomes carry the identity the subject authenticated as.
type ReportSink interface {
	Deliver(ctx context.Context, rep session.PendingReport, identity polkit.Identity) error
}

// SinkFunc adapts a function into a ReportSink.
type SinkFunc func(ctx context.Context, rep session.PendingReport, identity polkit.Identity) error

func (f SinkFunc) Deliver(ctx context.Context, rep session.PendingReport, identity polkit.Identity) error {
	return f(ctx, rep, identity)
}

// AgentOptions configures the façade. A nil Sink confirms reports
// without any external delivery, which is what tests want.
type AgentOptions struct {
	AgentID  string
	UID      uint32
	Session  session.Config
	Clock    clock.Clock
	Logger   zerolog.Logger
	Channel  challenge.Channel
	Verifier verify.Verifier
	Sink     ReportSink
	Echo     challenge.EchoPolicy
}

// pendingAuth tracks one cookie from admission until its report is
// settled. The result channel is buffered and written exactly once.
type pendingAuth struct {
	sessionID string
	identity  polkit.Identity
	result    chan session.Result
}

// Agent is the façade between the authority boundary and the session
// engine. It owns the cookie index and report custody; every accepted
// begin call resolves to exactly one terminal result on its channel.
type Agent struct {
	agentID  string
	uid      uint32
	clk      clock.Clock
	logger   zerolog.Logger
	channel  challenge.Channel
	verifier verify.Verifier
	sink     ReportSink
	echo     challenge.EchoPolicy

	registry *session.Registry
	outbox   *session.ReportOutbox

	mu      sync.Mutex
	pending map[string]*pendingAuth
}

func NewAgent(opts AgentOptions) (*Agent, error) {
	if strings.TrimSpace(opts.AgentID) == "" {
		return nil, errors.New("warden: agent id required")
	}
	if opts.Channel == nil {
		return nil, errors.New("warden: challenge channel required")
	}
	if opts.Verifier == nil {
		return nil, errors.New("warden: verifier required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	sink := opts.Sink
	if sink == nil {
		sink = SinkFunc(func(context.Context, session.PendingReport, polkit.Identity) error {
			return nil
		})
	}
	a := &Agent{
		agentID:  strings.TrimSpace(opts.AgentID),
		uid:      opts.UID,
		clk:      clk,
		logger:   opts.Logger,
		channel:  opts.Channel,
		verifier: opts.Verifier,
		sink:     sink,
		echo:     opts.Echo,
		outbox:   session.NewReportOutbox(),
		pending:  make(map[string]*pendingAuth),
	}
	registry, err := session.NewRegistry(opts.Session, clk, opts.Logger, a.complete)
	if err != nil {
		return nil, err
	}
	a.registry = registry
	return a, nil
}

// Begin admits one authority request and returns the channel its
// terminal result arrives on. The outbox admission doubles as the
// duplicate-cookie gate: a cookie reports once, so a live cookie
// cannot be begun again.
func (a *Agent) Begin(req polkit.BeginRequest) (<-chan session.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	identity, ok := chooseIdentity(req.Identities, a.uid)
	if !ok {
		return nil, fmt.Errorf("%w: action %s", ErrNoIdentity, strings.TrimSpace(req.ActionID))
	}
	username, err := subjectUser(identity)
	if err != nil {
		return nil, err
	}

	cookie := strings.TrimSpace(req.Cookie)
	if err := a.outbox.Put(session.PendingReport{
		Cookie:   cookie,
		ActionID: strings.TrimSpace(req.ActionID),
		QueuedAt: a.clk.Now(),
	}); err != nil {
		if errors.Is(err, session.ErrDuplicateReport) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCookie, cookie)
		}
		return nil, err
	}

	s, err := a.registry.Create(session.CreateSpec{
		Cookie:   cookie,
		ActionID: strings.TrimSpace(req.ActionID),
		Subject:  username,
		Prompt:   strings.TrimSpace(req.Message),
		IconName: req.IconName,
		Details:  req.Details,
		Echo:     a.echo,
		Channel:  a.channel,
		Verifier: a.verifier,
	})
	if err != nil {
		a.outbox.Remove(cookie)
		return nil, err
	}

	entry := &pendingAuth{
		sessionID: s.ID(),
		identity:  identity,
		result:    make(chan session.Result, 1),
	}
	a.mu.Lock()
	a.pending[cookie] = entry
	a.mu.Unlock()

	if err := s.Start(); err != nil {
		a.mu.Lock()
		delete(a.pending, cookie)
		a.mu.Unlock()
		a.outbox.Remove(cookie)
		return nil, err
	}
	return entry.result, nil
}

// CancelByCookie revokes the session begun for cookie. Losing the race
// with completion is benign and reports success.
func (a *Agent) CancelByCookie(cookie string) error {
	key := strings.TrimSpace(cookie)
	a.mu.Lock()
	entry, ok := a.pending[key]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCookie, key)
	}
	err := a.registry.Dispatch(entry.sessionID, session.Event{
		Kind:   session.EventAuthorityRevoked,
		Reason: "cancelled by authority",
	})
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	return err
}

// Dispatch forwards one UI event to its session.
func (a *Agent) Dispatch(id string, ev session.Event) error {
	return a.registry.Dispatch(id, ev)
}

// complete runs on the finishing session's goroutine. Delivery happens
// before the waiter is released, so an authority response always lands
// before the method reply that depends on it.
func (a *Agent) complete(res session.Result) {
	rep, ok := a.outbox.Complete(res.Cookie, res)
	if !ok {
		a.logger.Warn().
			Str("cookie", res.Cookie).
			Str("session_id", res.SessionID).
			Msg("terminal result without report custody")
	}

	a.mu.Lock()
	entry := a.pending[res.Cookie]
	a.mu.Unlock()

	if ok {
		var identity polkit.Identity
		if entry != nil {
			identity = entry.identity
		}
		a.attemptDelivery(rep, identity)
	}

	if entry != nil {
		entry.result <- res
	}
}

// attemptDelivery runs the sink once and updates custody. A confirmed
// report is settled and never delivered again.
func (a *Agent) attemptDelivery(rep session.PendingReport, identity polkit.Identity) bool {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := a.sink.Deliver(ctx, rep, identity); err != nil {
		a.outbox.MarkAttempt(rep.Cookie, a.clk.Now(), err.Error())
		observability.RecordReportDelivery("failed")
		a.logger.Warn().
			Str("cookie", rep.Cookie).
			Str("outcome", string(rep.Outcome)).
			Err(err).
			Msg("report delivery failed")
		return false
	}
	a.settle(rep.Cookie)
	observability.RecordReportDelivery("delivered")
	return true
}

// settle drops all custody for a cookie, freeing it for reuse.
func (a *Agent) settle(cookie string) {
	a.outbox.Remove(cookie)
	a.mu.Lock()
	delete(a.pending, cookie)
	a.mu.Unlock()
}

// FlushReports retries undelivered terminal reports and abandons any
// past the delivery cap, so a dead authority cannot pin memory.
func (a *Agent) FlushReports() int {
	now := a.clk.Now()
	settled := 0
	for _, rep := range a.outbox.List() {
		if !rep.Completed() {
			continue
		}
		if now.Sub(rep.LastAttemptAt) < reportRetryDelay {
			continue
		}
		if rep.Deliveries >= maxReportDeliveries {
			a.settle(rep.Cookie)
			observability.RecordReportDelivery("abandoned")
			a.logger.Error().
				Str("cookie", rep.Cookie).
				Str("outcome", string(rep.Outcome)).
				Int("deliveries", rep.Deliveries).
				Msg("report abandoned")
			settled++
			continue
		}
		a.mu.Lock()
		entry := a.pending[rep.Cookie]
		a.mu.Unlock()
		var identity polkit.Identity
		if entry != nil {
			identity = entry.identity
		}
		if a.attemptDelivery(rep, identity) {
			settled++
		}
	}
	return settled
}

// Tick drives the registry deadline sweep.
func (a *Agent) Tick(now time.Time) int {
	return a.registry.Tick(now)
}

// Live reports the number of in-flight sessions.
func (a *Agent) Live() int {
	return a.registry.Len()
}

// Snapshots lists live sessions for introspection.
func (a *Agent) Snapshots() []session.Snapshot {
	return a.registry.Snapshots()
}

// Report exposes custody state for one cookie.
func (a *Agent) Report(cookie string) (session.PendingReport, bool) {
	return a.outbox.Get(cookie)
}

// Reports lists report custody, oldest admission first.
func (a *Agent) Reports() []session.PendingReport {
	return a.outbox.List()
}

// Shutdown flushes live sessions as cancelled and settles what reports
// it can before returning.
func (a *Agent) Shutdown(ctx context.Context) error {
	err := a.registry.Shutdown(ctx)
	a.FlushReports()
	return err
}

// chooseIdentity picks who the subject authenticates as: the identity
// matching the agent's own uid when offered, otherwise the first unix
// user in the list.
func chooseIdentity(ids []polkit.Identity, uid uint32) (polkit.Identity, bool) {
	var first polkit.Identity
	found := false
	for _, id := range ids {
		u, ok := id.UID()
		if !ok {
			continue
		}
		if u == uid {
			return id, true
		}
		if !found {
			first = id
			found = true
		}
	}
	return first, found
}

// subjectUser resolves the account name the verifier authenticates,
// the same name the setuid helper expects as its argument.
func subjectUser(identity polkit.Identity) (string, error) {
	uid, ok := identity.UID()
	if !ok {
		return "", ErrNoIdentity
	}
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return "", fmt.Errorf("warden: resolve uid %d: %w", uid, err)
	}
	return u.Username, nil
}
