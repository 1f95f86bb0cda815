package clock

import (
	"sync"
	"time"
)

// Clock is the injectable time and timezone source for the dosing core.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

type SystemClock struct{}

func (SystemClock) Now() time.Time           { return time.Now() }
func (SystemClock) Location() *time.Location { return time.Local }

// Fake is a settable clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

func NewFake(now time.Time, loc *time.Location) *Fake {
	return &Fake{now: now, loc: loc}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Location() *time.Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loc
}

func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *Fake) SetLocation(loc *time.Location) {
	f.mu.Lock()
	f.loc = loc
	f.mu.Unlock()
}

var _ Clock = SystemClock{}
var _ Clock = (*Fake)(nil)

// Signal identifies an external clock event that invalidates cached
// session-key state.
type Signal int

const (
	SignalTimeChanged Signal = iota
	SignalZoneChanged
)

// Monitor fans out significant-time-change and timezone-change signals.
// The platform adapter emits, the session store subscribes.
type Monitor struct {
	mu   sync.Mutex
	subs []func(Signal)
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) Subscribe(fn func(Signal)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

func (m *Monitor) Emit(s Signal) {
	m.mu.Lock()
	subs := make([]func(Signal), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}
