package identity

import (
	"sync"
	"time"
)

// Clock abstracts wall time so schedulers, rate limiters, and the guardrail
// can be tested against a frozen instant. The zero-dependency default is
// WallClock.
type Clock interface {
	Now() time.Time
}

// WallClock is the production Clock. Now always returns UTC.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now().UTC() }

// FixedClock returns a constant instant, for tests.
type FixedClock struct {
	Instant time.Time
}

func (c FixedClock) Now() time.Time { return c.Instant.UTC() }

// StepClock is a mutable Clock for tests that walk time forward explicitly.
type StepClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStepClock(start time.Time) *StepClock {
	return &StepClock{now: start.UTC()}
}

func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *StepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ToUTC coerces t to UTC. All persisted timestamps and all day/window math
// go through this first; naive local times are a category of bug this
// system cannot afford.
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// DayKey returns the UTC calendar date of t in YYYY-MM-DD form. It keys
// usage aggregates, metric snapshots, and work diminishing-returns counters.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// SimulationDay is an alias for DayKey kept for call sites that talk about
// simulation days rather than usage days.
func SimulationDay(t time.Time) string {
	return DayKey(t)
}

// StartOfDay returns 00:00:00 UTC of t's calendar date.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// CrossedDayBoundary reports whether prev and now fall on different UTC
// calendar dates. The scheduler uses this to fire day-boundary jobs exactly
// once per date, restart-safe because the comparison is against persisted
// state rather than an in-process ticker count.
func CrossedDayBoundary(prev, now time.Time) bool {
	return DayKey(prev) != DayKey(now)
}

// WindowStart returns the start of the trailing window of the given length
// ending at now. Rate limiting counts actions with created_at >= WindowStart.
func WindowStart(now time.Time, window time.Duration) time.Time {
	return now.UTC().Add(-window)
}

// NextHourSlot returns the next top-of-hour boundary strictly after now,
// i.e. the instant the per-hour action budget rolls over.
func NextHourSlot(now time.Time) time.Time {
	u := now.UTC()
	return u.Truncate(time.Hour).Add(time.Hour)
}
