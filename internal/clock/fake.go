package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Timers and tickers fire only
// when Advance or Set moves the fake time past their deadline, in deadline
// order, so time-driven transitions become deterministic.
type Fake struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	clk      *Fake
	deadline time.Time
	period   time.Duration
	ch       chan time.Time
	stopped  bool
}

// NewFake returns a Fake pinned to a fixed, arbitrary start instant.
func NewFake() *Fake {
	f := &Fake{now: time.Unix(1700000000, 0)}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// NewFakeAt returns a Fake pinned to the given start instant.
func NewFakeAt(start time.Time) *Fake {
	f := &Fake{now: start}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	return f.NewTimer(d).C()
}

func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{
		clk:      f,
		deadline: f.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	if d <= 0 {
		w.ch <- f.now
		w.stopped = true
		return w
	}
	f.waiters = append(f.waiters, w)
	f.cond.Broadcast()
	return w
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{
		clk:      f,
		deadline: f.now.Add(d),
		period:   d,
		ch:       make(chan time.Time, 1),
	}
	f.waiters = append(f.waiters, w)
	f.cond.Broadcast()
	return fakeTicker{w}
}

// Advance moves the fake time forward and fires every waiter whose deadline
// has been reached, earliest first. Tickers re-arm at their period.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanceTo(f.now.Add(d))
}

// Set jumps the fake time to an absolute instant, firing due waiters.
func (f *Fake) Set(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if at.After(f.now) {
		f.advanceTo(at)
	} else {
		f.now = at
	}
}

// BlockUntil waits until at least n timers or tickers are armed. Tests use
// it to rendezvous with a goroutine before advancing time.
func (f *Fake) BlockUntil(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.liveWaiters() < n {
		f.cond.Wait()
	}
}

func (f *Fake) advanceTo(target time.Time) {
	for {
		next := f.nextDue(target)
		if next == nil {
			break
		}
		f.now = next.deadline
		select {
		case next.ch <- f.now:
		default:
		}
		if next.period > 0 {
			next.deadline = next.deadline.Add(next.period)
		} else {
			next.stopped = true
			f.dropWaiter(next)
		}
	}
	f.now = target
}

func (f *Fake) nextDue(target time.Time) *fakeWaiter {
	var due *fakeWaiter
	for _, w := range f.waiters {
		if w.stopped || w.deadline.After(target) {
			continue
		}
		if due == nil || w.deadline.Before(due.deadline) {
			due = w
		}
	}
	return due
}

func (f *Fake) liveWaiters() int {
	n := 0
	for _, w := range f.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}

func (f *Fake) dropWaiter(target *fakeWaiter) {
	kept := f.waiters[:0]
	for _, w := range f.waiters {
		if w != target {
			kept = append(kept, w)
		}
	}
	f.waiters = kept
	sort.SliceStable(f.waiters, func(i, j int) bool {
		return f.waiters[i].deadline.Before(f.waiters[j].deadline)
	})
}

func (w *fakeWaiter) C() <-chan time.Time {
	return w.ch
}

func (w *fakeWaiter) Stop() bool {
	w.clk.mu.Lock()
	defer w.clk.mu.Unlock()
	wasLive := !w.stopped
	w.stopped = true
	w.clk.dropWaiter(w)
	return wasLive
}

type fakeTicker struct {
	*fakeWaiter
}

func (t fakeTicker) Stop() {
	_ = t.fakeWaiter.Stop()
}
