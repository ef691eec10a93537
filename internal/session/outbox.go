package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrDuplicateReport = errors.New("session: duplicate report cookie")
	ErrInvalidReport   = errors.New("session: invalid report")
)

// PendingReport tracks one accepted request from admission until its
// verdict is delivered back to the authority.
type PendingReport struct {
	Cookie        string
	SessionID     string
	ActionID      string
	Outcome       State
	Reason        string
	Rounds        int
	QueuedAt      time.Time
	CompletedAt   time.Time
	Deliveries    int
	LastAttemptAt time.Time
	LastError     string
}

// Completed reports whether a terminal outcome has been recorded.
func (p PendingReport) Completed() bool {
	return p.Outcome.Terminal()
}

// ReportOutbox stores pending reports keyed by authority cookie. Cookies
// are unique per in-flight request, so a duplicate is rejected at
// admission rather than silently merged.
type ReportOutbox struct {
	mu    sync.RWMutex
	items map[string]PendingReport
}

func NewReportOutbox() *ReportOutbox {
	return &ReportOutbox{
		items: make(map[string]PendingReport),
	}
}

// Put admits a new report. The cookie must be non-empty and unused.
func (o *ReportOutbox) Put(item PendingReport) error {
	key := strings.TrimSpace(item.Cookie)
	if key == "" {
		return fmt.Errorf("%w: missing cookie", ErrInvalidReport)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.items[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateReport, key)
	}
	item.Cookie = key
	o.items[key] = item
	return nil
}

// Complete records the session verdict on the pending report.
func (o *ReportOutbox) Complete(cookie string, res Result) (PendingReport, bool) {
	key := strings.TrimSpace(cookie)
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[key]
	if !ok {
		return PendingReport{}, false
	}
	item.SessionID = res.SessionID
	item.Outcome = res.Outcome
	item.Reason = res.Reason
	item.Rounds = res.Attempts
	item.CompletedAt = res.CompletedAt
	o.items[key] = item
	return item, true
}

// MarkAttempt records one delivery try.
func (o *ReportOutbox) MarkAttempt(cookie string, at time.Time, lastErr string) (PendingReport, bool) {
	key := strings.TrimSpace(cookie)
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[key]
	if !ok {
		return PendingReport{}, false
	}
	item.Deliveries++
	item.LastAttemptAt = at
	item.LastError = strings.TrimSpace(lastErr)
	o.items[key] = item
	return item, true
}

func (o *ReportOutbox) Remove(cookie string) {
	key := strings.TrimSpace(cookie)
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.items, key)
}

func (o *ReportOutbox) Get(cookie string) (PendingReport, bool) {
	key := strings.TrimSpace(cookie)
	o.mu.RLock()
	defer o.mu.RUnlock()
	item, ok := o.items[key]
	return item, ok
}

// List returns pending reports ordered by admission time, then cookie.
func (o *ReportOutbox) List() []PendingReport {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PendingReport, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].QueuedAt.Before(out[j].QueuedAt)
		}
		return out[i].Cookie < out[j].Cookie
	})
	return out
}

func (o *ReportOutbox) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.items)
}
