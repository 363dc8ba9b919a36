package attendance

import "time"

// Clock abstracts the system clock so time-window checks and day bucketing
// are deterministic in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NewClock returns a Clock backed by the system time.
func NewClock() Clock { return realClock{} }

// dayOf truncates a timestamp to midnight in its own location.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// clockTime formats a timestamp as a zero-padded HH:MM string for
// comparison against a location's allowed window.
func clockTime(t time.Time) string {
	return t.Format("15:04")
}
