package clock

import "time"

// Clock is the single source of time for the engine. Every deadline check
// (template promotion, session expiry, sweep) goes through it so tests can
// drive time explicitly.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// System returns a Clock backed by the wall clock (UTC).
func System() Clock {
	return systemClock{}
}

// Manual is a test clock that returns a settable instant.
type Manual struct {
	Current time.Time
}

func NewManual(t time.Time) *Manual {
	return &Manual{Current: t}
}

func (m *Manual) Now() time.Time {
	return m.Current
}

// Advance moves the manual clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.Current = m.Current.Add(d)
}
