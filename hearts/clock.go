package hearts

import (
	"sync"
	"time"
)

// =============================================================================
// CLOCK - Injectable time source
// =============================================================================

// Clock supplies the current wall-clock time. The pool never calls time.Now
// directly so tests can drive maturation and midnight boundaries precisely.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FakeClock is a settable clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// =============================================================================
// MIDNIGHT BOUNDARY
// =============================================================================

// LocalDate truncates t to its calendar date in loc.
func LocalDate(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// CrossedMidnight reports whether now is on a later local calendar date than
// last. A nil last means no baseline exists and reports false; the pool
// substitutes the signup date before calling, so a fresh account is never
// reset on its first day.
func CrossedMidnight(last *time.Time, now time.Time, loc *time.Location) bool {
	if last == nil {
		return false
	}
	return LocalDate(now, loc).After(LocalDate(*last, loc))
}
