package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock is the package-level time source for build timestamps. Tests and the
// fixture tools freeze it via SetClock for reproducible artifacts.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source. Pass nil to restore the real clock.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Now returns the current time from the package clock.
func Now() time.Time { return clock.Now() }
