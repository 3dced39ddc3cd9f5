// Package clock provides the wall-clock and timer source used by the
// countdown and retry machinery, plus a manually advanced fake for
// deterministic tests.
//
// Production code takes a Clock so that time-dependent behavior (tick
// cadence, backoff delays, expiry detection) can be driven explicitly
// in tests instead of sleeping.
package clock

import "time"

// Clock is the time source abstraction.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTicker returns a ticker that delivers ticks at the given interval.
	NewTicker(d time.Duration) Ticker

	// After returns a channel that delivers the current time once,
	// after the given duration has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Ticker delivers periodic ticks on its channel until stopped.
type Ticker interface {
	// C returns the tick delivery channel.
	C() <-chan time.Time

	// Stop shuts the ticker down. It does not close the channel.
	Stop()
}

// System returns a Clock backed by the real wall clock.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{ticker: time.NewTicker(d)}
}

func (systemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

type systemTicker struct {
	ticker *time.Ticker
}

func (t *systemTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t *systemTicker) Stop() {
	t.ticker.Stop()
}

// Compile-time interface satisfaction checks.
var (
	_ Clock  = systemClock{}
	_ Ticker = (*systemTicker)(nil)
)
