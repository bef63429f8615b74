// Package timesource provides the notion of "now" used by all prediction components, so the
// system clock can be replaced with a settable clock when replaying recorded data or testing.
package timesource

import (
	"sync"
	"time"
)

// Source supplies the current time
type Source interface {
	Now() time.Time
}

// System uses the machine clock
type System struct{}

// Now returns time.Now()
func (System) Now() time.Time {
	return time.Now()
}

// Playback is a Source whose time only moves when Set or Advance is called.
type Playback struct {
	mu  sync.Mutex
	now time.Time
}

// MakePlayback builds a Playback starting at "at"
func MakePlayback(at time.Time) *Playback {
	return &Playback{now: at}
}

// Now returns the last time set on the Playback
func (p *Playback) Now() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

// Set moves the clock to "at". Moving backwards is allowed, replayed data is not always in order.
func (p *Playback) Set(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = at
}

// Advance moves the clock forward by d and returns the new time
func (p *Playback) Advance(d time.Duration) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = p.now.Add(d)
	return p.now
}
