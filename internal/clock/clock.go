// Package clock abstracts wall-clock time so deadline and retry behavior
// can be driven deterministically in tests.
package clock

import "time"

// Timer is the resettable single-fire timer surface used by session loops.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Ticker is the repeating tick surface used by service loops.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock is the time source injected into every time-dependent component.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
}

// Real is the production clock backed by package time.
type Real struct{}

func New() Real {
	return Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (Real) NewTimer(d time.Duration) Timer {
	return realTimer{t: time.NewTimer(d)}
}

func (Real) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) C() <-chan time.Time {
	return r.t.C
}

func (r realTimer) Stop() bool {
	return r.t.Stop()
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time {
	return r.t.C
}

func (r realTicker) Stop() {
	r.t.Stop()
}
