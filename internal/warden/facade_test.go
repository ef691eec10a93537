package warden

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/warden/internal/challenge"
	"github.com/danmuck/warden/internal/clock"
	"github.com/danmuck/warden/internal/polkit"
	"github.com/danmuck/warden/internal/session"
	"github.com/danmuck/warden/internal/testutil/testlog"
	"github.com/danmuck/warden/internal/verify"
)

const waitTimeout = 2 * time.Second

// promptRecorder implements challenge.Channel and records every round.
type promptRecorder struct {
	mu     sync.Mutex
	ends   []string
	beginC chan challenge.Round
}

func newPromptRecorder() *promptRecorder {
	return &promptRecorder{beginC: make(chan challenge.Round, 16)}
}

func (p *promptRecorder) Begin(ctx context.Context, r challenge.Round) error {
	p.beginC <- r
	return nil
}

func (p *promptRecorder) End(sessionID string) {
	p.mu.Lock()
	p.ends = append(p.ends, sessionID)
	p.mu.Unlock()
}

func (p *promptRecorder) waitBegin(t *testing.T) challenge.Round {
	t.Helper()
	select {
	case r := <-p.beginC:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a challenge round")
		return challenge.Round{}
	}
}

func (p *promptRecorder) endCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ends)
}

// staticVerifier returns the same verdict for every attempt.
type staticVerifier struct {
	res verify.Result
}

func (v staticVerifier) Verify(ctx context.Context, subject, secret string) verify.Result {
	return v.res
}

// countingSink fails the first failures deliveries, then confirms.
type countingSink struct {
	mu        sync.Mutex
	failures  int
	calls     int
	delivered []session.PendingReport
}

func (s *countingSink) Deliver(ctx context.Context, rep session.PendingReport, identity polkit.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("authority unreachable")
	}
	s.delivered = append(s.delivered, rep)
	return nil
}

func (s *countingSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *countingSink) deliveredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func quickConfig() session.Config {
	return session.Config{
		MaxAttempts:    3,
		SessionTimeout: time.Minute,
		MaxConcurrent:  4,
	}
}

func newTestAgent(t *testing.T, cfg session.Config, ch challenge.Channel, v verify.Verifier, sink ReportSink, clk clock.Clock) *Agent {
	t.Helper()
	logger := testlog.Start(t)
	a, err := NewAgent(AgentOptions{
		AgentID:  "warden-test",
		UID:      uint32(os.Getuid()),
		Session:  cfg,
		Clock:    clk,
		Logger:   logger,
		Channel:  ch,
		Verifier: v,
		Sink:     sink,
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return a
}

func beginRequest(cookie string) polkit.BeginRequest {
	return polkit.BeginRequest{
		ActionID:   "org.example.run",
		Message:    "Authentication required",
		Cookie:     cookie,
		Identities: []polkit.Identity{polkit.UnixUserIdentity(uint32(os.Getuid()))},
	}
}

func waitResult(t *testing.T, ch <-chan session.Result) session.Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a terminal result")
		return session.Result{}
	}
}

func TestAgentGrantsAndSettlesReport(t *testing.T) {
	rec := newPromptRecorder()
	a := newTestAgent(t, quickConfig(), rec, staticVerifier{res: verify.Valid()}, nil, nil)

	results, err := a.Begin(beginRequest("cookie-1"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	round := rec.waitBegin(t)
	if round.Prompt != "Authentication required" {
		t.Fatalf("round prompt = %q", round.Prompt)
	}
	if round.ActionID != "org.example.run" {
		t.Fatalf("round action = %q", round.ActionID)
	}

	if err := a.Dispatch(round.SessionID, session.Event{Kind: session.EventUserSecret, Secret: "hunter2"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	res := waitResult(t, results)
	if res.Outcome != session.StateGranted {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Reason)
	}
	if res.Cookie != "cookie-1" || res.Attempts != 1 {
		t.Fatalf("result = %+v", res)
	}
	if _, ok := a.Report("cookie-1"); ok {
		t.Fatal("confirmed report still in custody")
	}
	if a.Live() != 0 {
		t.Fatalf("live = %d after terminal result", a.Live())
	}
	if rec.endCount() != 1 {
		t.Fatalf("end count = %d", rec.endCount())
	}
}

func TestAgentRejectsDuplicateCookie(t *testing.T) {
	rec := newPromptRecorder()
	a := newTestAgent(t, quickConfig(), rec, staticVerifier{res: verify.Valid()}, nil, nil)

	results, err := a.Begin(beginRequest("cookie-1"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	rec.waitBegin(t)

	if _, err := a.Begin(beginRequest("cookie-1")); !errors.Is(err, ErrDuplicateCookie) {
		t.Fatalf("duplicate begin err = %v", err)
	}

	if err := a.CancelByCookie("cookie-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	res := waitResult(t, results)
	if res.Outcome != session.StateCancelled {
		t.Fatalf("outcome = %s", res.Outcome)
	}
}

func TestAgentCapacityUnwindsReport(t *testing.T) {
	cfg := quickConfig()
	cfg.MaxConcurrent = 1
	rec := newPromptRecorder()
	a := newTestAgent(t, cfg, rec, staticVerifier{res: verify.Valid()}, nil, nil)

	results, err := a.Begin(beginRequest("cookie-1"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	rec.waitBegin(t)

	if _, err := a.Begin(beginRequest("cookie-2")); !errors.Is(err, session.ErrResourceExhausted) {
		t.Fatalf("over-capacity begin err = %v", err)
	}
	if _, ok := a.Report("cookie-2"); ok {
		t.Fatal("rejected begin left a report behind")
	}

	if err := a.CancelByCookie("cookie-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitResult(t, results)
}

func TestCancelByCookieCancelsSession(t *testing.T) {
	rec := newPromptRecorder()
	a := newTestAgent(t, quickConfig(), rec, staticVerifier{res: verify.Valid()}, nil, nil)

	results, err := a.Begin(beginRequest("cookie-1"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	rec.waitBegin(t)

	if err := a.CancelByCookie("cookie-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	res := waitResult(t, results)
	if res.Outcome != session.StateCancelled || res.Reason != "cancelled by authority" {
		t.Fatalf("result = %s (%s)", res.Outcome, res.Reason)
	}

	if err := a.CancelByCookie("cookie-1"); !errors.Is(err, ErrUnknownCookie) {
		t.Fatalf("cancel after settle err = %v", err)
	}
}

func TestBeginRejectsWithoutUsableIdentity(t *testing.T) {
	rec := newPromptRecorder()
	a := newTestAgent(t, quickConfig(), rec, staticVerifier{res: verify.Valid()}, nil, nil)

	req := beginRequest("cookie-1")
	req.Identities = []polkit.Identity{{Kind: polkit.IdentityKindUnixGroup}}
	if _, err := a.Begin(req); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("begin err = %v", err)
	}
	if _, ok := a.Report("cookie-1"); ok {
		t.Fatal("rejected begin left a report behind")
	}
}

func TestReportRetriedUntilConfirmed(t *testing.T) {
	clk := clock.NewFake()
	rec := newPromptRecorder()
	sink := &countingSink{failures: 2}
	a := newTestAgent(t, quickConfig(), rec, staticVerifier{res: verify.Valid()}, sink, clk)

	results, err := a.Begin(beginRequest("cookie-1"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	round := rec.waitBegin(t)
	if err := a.Dispatch(round.SessionID, session.Event{Kind: session.EventUserSecret, Secret: "hunter2"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	res := waitResult(t, results)
	if res.Outcome != session.StateGranted {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Reason)
	}

	rep, ok := a.Report("cookie-1")
	if !ok || rep.Deliveries != 1 || rep.LastError == "" {
		t.Fatalf("after first failure: report = %+v ok = %v", rep, ok)
	}

	// Within the retry spacing nothing is retried.
	if n := a.FlushReports(); n != 0 {
		t.Fatalf("flush inside retry delay settled %d", n)
	}
	if sink.callCount() != 1 {
		t.Fatalf("calls = %d", sink.callCount())
	}

	clk.Advance(reportRetryDelay)
	if n := a.FlushReports(); n != 0 {
		t.Fatalf("second delivery should fail, settled %d", n)
	}
	clk.Advance(reportRetryDelay)
	if n := a.FlushReports(); n != 1 {
		t.Fatalf("third delivery should confirm, settled %d", n)
	}

	if _, ok := a.Report("cookie-1"); ok {
		t.Fatal("confirmed report still in custody")
	}
	if sink.deliveredCount() != 1 || sink.callCount() != 3 {
		t.Fatalf("delivered = %d calls = %d", sink.deliveredCount(), sink.callCount())
	}

	// A confirmed report is never delivered again.
	clk.Advance(reportRetryDelay)
	if n := a.FlushReports(); n != 0 {
		t.Fatalf("flush after confirm settled %d", n)
	}
	if sink.callCount() != 3 {
		t.Fatalf("calls after confirm = %d", sink.callCount())
	}
}

func TestReportAbandonedAfterDeliveryCap(t *testing.T) {
	clk := clock.NewFake()
	rec := newPromptRecorder()
	sink := &countingSink{failures: 1 << 30}
	a := newTestAgent(t, quickConfig(), rec, staticVerifier{res: verify.Valid()}, sink, clk)

	results, err := a.Begin(beginRequest("cookie-1"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	round := rec.waitBegin(t)
	if err := a.Dispatch(round.SessionID, session.Event{Kind: session.EventUserSecret, Secret: "hunter2"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	waitResult(t, results)

	for i := 0; i < maxReportDeliveries-1; i++ {
		clk.Advance(reportRetryDelay)
		if n := a.FlushReports(); n != 0 {
			t.Fatalf("flush %d settled %d", i, n)
		}
	}
	if sink.callCount() != maxReportDeliveries {
		t.Fatalf("calls = %d", sink.callCount())
	}

	clk.Advance(reportRetryDelay)
	if n := a.FlushReports(); n != 1 {
		t.Fatalf("abandon flush settled %d", n)
	}
	if _, ok := a.Report("cookie-1"); ok {
		t.Fatal("abandoned report still in custody")
	}
	if sink.callCount() != maxReportDeliveries {
		t.Fatalf("abandon ran the sink again: calls = %d", sink.callCount())
	}
}

func TestShutdownFlushesAsCancelled(t *testing.T) {
	rec := newPromptRecorder()
	a := newTestAgent(t, quickConfig(), rec, staticVerifier{res: verify.Valid()}, nil, nil)

	first, err := a.Begin(beginRequest("cookie-1"))
	if err != nil {
		t.Fatalf("begin first: %v", err)
	}
	second, err := a.Begin(beginRequest("cookie-2"))
	if err != nil {
		t.Fatalf("begin second: %v", err)
	}
	rec.waitBegin(t)
	rec.waitBegin(t)

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	for _, ch := range []<-chan session.Result{first, second} {
		res := waitResult(t, ch)
		if res.Outcome != session.StateCancelled || res.Reason != "agent shutting down" {
			t.Fatalf("result = %s (%s)", res.Outcome, res.Reason)
		}
	}
	if a.Live() != 0 {
		t.Fatalf("live = %d after shutdown", a.Live())
	}
	if len(a.Reports()) != 0 {
		t.Fatalf("reports left after shutdown: %d", len(a.Reports()))
	}
}

func TestChooseIdentity(t *testing.T) {
	own := polkit.UnixUserIdentity(1000)
	other := polkit.UnixUserIdentity(0)
	group := polkit.Identity{Kind: polkit.IdentityKindUnixGroup}

	cases := []struct {
		name  string
		ids   []polkit.Identity
		want  uint32
		found bool
	}{
		{name: "own uid preferred", ids: []polkit.Identity{other, own}, want: 1000, found: true},
		{name: "first user fallback", ids: []polkit.Identity{group, other}, want: 0, found: true},
		{name: "groups skipped", ids: []polkit.Identity{group}, found: false},
		{name: "empty", ids: nil, found: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, ok := chooseIdentity(tc.ids, 1000)
			if ok != tc.found {
				t.Fatalf("found = %v, want %v", ok, tc.found)
			}
			if !ok {
				return
			}
			uid, _ := id.UID()
			if uid != tc.want {
				t.Fatalf("uid = %d, want %d", uid, tc.want)
			}
		})
	}
}
