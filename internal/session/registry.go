package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/warden/internal/challenge"
	"github.com/danmuck/warden/internal/clock"
	"github.com/danmuck/warden/internal/verify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CompletionFunc receives each session's terminal result, exactly once,
// on the session's own goroutine.
type CompletionFunc func(Result)

// Registry owns every live session and routes external events to them.
// A session is in the map exactly while it is live: removal and terminal
// completion happen together, so holding an id is holding a live session.
type Registry struct {
	cfg        Config
	clk        clock.Clock
	logger     zerolog.Logger
	onComplete CompletionFunc

	mu     sync.RWMutex
	items  map[string]*Session
	closed bool
	wg     sync.WaitGroup
}

func NewRegistry(cfg Config, clk clock.Clock, logger zerolog.Logger, onComplete CompletionFunc) (*Registry, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	if onComplete == nil {
		return nil, errors.New("session: completion callback required")
	}
	return &Registry{
		cfg:        cfg,
		clk:        clk,
		logger:     logger,
		onComplete: onComplete,
		items:      make(map[string]*Session),
	}, nil
}

// Create admits one request and returns its not-yet-started session.
func (r *Registry) Create(spec CreateSpec) (*Session, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrShuttingDown
	}
	if len(r.items) >= r.cfg.MaxConcurrent {
		return nil, fmt.Errorf("%w: %d sessions in flight", ErrResourceExhausted, len(r.items))
	}
	s := r.newSession(spec)
	r.items[s.id] = s
	r.logger.Debug().
		Str("session_id", s.id).
		Str("action_id", s.actionID).
		Int("live", len(r.items)).
		Msg("session admitted")
	return s, nil
}

func (r *Registry) newSession(spec CreateSpec) *Session {
	now := r.clk.Now()
	deadline := spec.Deadline
	if deadline.IsZero() {
		deadline = now.Add(r.cfg.SessionTimeout)
	}
	echo := spec.Echo
	if echo == "" {
		echo = challenge.EchoHidden
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := "sess." + uuid.NewString()
	return &Session{
		id:        id,
		cookie:    strings.TrimSpace(spec.Cookie),
		actionID:  strings.TrimSpace(spec.ActionID),
		subject:   strings.TrimSpace(spec.Subject),
		prompt:    spec.Prompt,
		echo:      echo,
		iconName:  spec.IconName,
		details:   maps.Clone(spec.Details),
		deadline:  deadline,
		cfg:       r.cfg,
		clk:       r.clk,
		channel:   spec.Channel,
		verifier:  spec.Verifier,
		logger:    r.logger.With().Str("session_id", id).Logger(),
		registry:  r,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan Event, eventQueueDepth),
		verdicts:  make(chan verify.Result, 1),
		done:      make(chan struct{}),
		state:     StateCreated,
		createdAt: now,
		updatedAt: now,
	}
}

// Dispatch routes one event to a live session. An unknown id is the
// benign race with completion and comes back as ErrNotFound.
func (r *Registry) Dispatch(id string, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	r.mu.RLock()
	s, ok := r.items[strings.TrimSpace(id)]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.enqueue(ev)
}

// Tick is the deadline sweep: every session at or past its deadline gets
// a timeout poke. Sessions also arm their own timers, so the sweep is a
// backstop rather than the only clock.
func (r *Registry) Tick(now time.Time) int {
	r.mu.RLock()
	var due []*Session
	for _, s := range r.items {
		if !now.Before(s.deadline) {
			due = append(due, s)
		}
	}
	r.mu.RUnlock()
	for _, s := range due {
		if err := s.enqueue(Event{Kind: eventDeadline}); err != nil {
			r.logger.Debug().Str("session_id", s.id).Err(err).Msg("deadline poke dropped")
		}
	}
	return len(due)
}

// complete removes the session and forwards its result. The pointer
// guard keeps a stale completion from evicting a newer session reusing
// the id.
func (r *Registry) complete(s *Session, res Result) {
	r.mu.Lock()
	if current, ok := r.items[s.id]; ok && current == s {
		delete(r.items, s.id)
	}
	r.mu.Unlock()
	r.onComplete(res)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Snapshots lists live sessions for introspection, oldest first.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.items))
	for _, s := range r.items {
		out = append(out, s.Snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Shutdown refuses new sessions, revokes every live one, and waits for
// their loops to deliver results or for ctx to give up.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	live := make([]*Session, 0, len(r.items))
	for _, s := range r.items {
		live = append(live, s)
	}
	r.mu.Unlock()

	for _, s := range live {
		if err := s.enqueue(Event{Kind: EventAuthorityRevoked, Reason: "agent shutting down"}); err != nil {
			r.logger.Warn().Str("session_id", s.id).Err(err).Msg("shutdown revoke not queued")
		}
	}

	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		if len(live) > 0 {
			r.logger.Info().Int("flushed", len(live)).Msg("session registry drained")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
