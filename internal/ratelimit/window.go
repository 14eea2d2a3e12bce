package ratelimit

import "time"

// Window is one hour-aligned accounting epoch. All budget counters are
// partitioned by Window.Key, so counters reset naturally when a new hour
// begins without any explicit zeroing.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Key   string    `json:"key"`
}

// windowKeyLayout formats a window start into a stable partition key,
// e.g. "2025-06-01T14". Always UTC so that every process agrees on the
// key regardless of local zone.
const windowKeyLayout = "2006-01-02T15"

// CurrentWindow computes the hour-aligned window containing now.
//
// This is a pure function: no I/O, no shared state. Concurrent requests
// must agree on the active window without coordination, which is only
// possible because the result is fully determined by the clock value.
func CurrentWindow(now time.Time) Window {
	start := now.UTC().Truncate(time.Hour)
	return Window{
		Start: start,
		End:   start.Add(time.Hour),
		Key:   start.Format(windowKeyLayout),
	}
}

// PreviousWindow returns the window immediately before the one containing now.
// The rollover job archives this window once it has fully elapsed.
func PreviousWindow(now time.Time) Window {
	return CurrentWindow(now.UTC().Add(-time.Hour))
}

// WindowStatus is the lifecycle state of a durable window row. A window is
// active while its hour is live and becomes archived when the rollover job
// claims it.
type WindowStatus string

const (
	WindowStatusActive   WindowStatus = "active"
	WindowStatusArchived WindowStatus = "archived"
)
