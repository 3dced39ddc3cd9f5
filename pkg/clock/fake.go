package clock

import (
	"sync"
	"time"
)

// Fake is a Clock whose time only moves when Advance is called.
// Tickers and After waiters fire synchronously inside Advance, so a test
// that advances past a deadline observes the resulting delivery without
// real waiting.
//
// Tick channels are buffered with capacity 1 and further deliveries are
// dropped while the buffer is full, matching time.Ticker's coalescing of
// missed ticks.
type Fake struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	waiters []*fakeWaiter
	tickers []*fakeTicker
}

// NewFake returns a Fake clock starting at the given instant.
func NewFake(start time.Time) *Fake {
	f := &Fake{now: start}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d, firing every ticker and After
// waiter whose deadline is reached. A single Advance across several tick
// intervals delivers at most one coalesced tick per ticker.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)

	// One-shot waiters
	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.deadline.After(f.now) {
			w.ch <- f.now
		} else {
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining

	// Tickers: catch each one up to now, coalescing into the buffer
	for _, t := range f.tickers {
		for !t.next.After(f.now) {
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.interval)
		}
	}
}

// NewTicker returns a ticker driven by Advance.
func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTicker{
		fake:     f,
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     f.now.Add(d),
	}
	f.tickers = append(f.tickers, t)
	f.cond.Broadcast()
	return t
}

// After returns a channel that fires when Advance reaches now+d.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := &fakeWaiter{
		ch:       make(chan time.Time, 1),
		deadline: f.now.Add(d),
	}
	if d <= 0 {
		w.ch <- f.now
		return w.ch
	}
	f.waiters = append(f.waiters, w)
	f.cond.Broadcast()
	return w.ch
}

// BlockUntil waits until at least n timers (tickers plus pending After
// waiters) exist. Tests use it to synchronize with a goroutine that is
// about to wait on the clock, before calling Advance.
func (f *Fake) BlockUntil(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.waiters)+len(f.tickers) < n {
		f.cond.Wait()
	}
}

type fakeWaiter struct {
	ch       chan time.Time
	deadline time.Time
}

type fakeTicker struct {
	fake     *Fake
	ch       chan time.Time
	interval time.Duration
	next     time.Time
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTicker) Stop() {
	f := t.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, other := range f.tickers {
		if other == t {
			f.tickers = append(f.tickers[:i], f.tickers[i+1:]...)
			return
		}
	}
}

// Compile-time interface satisfaction checks.
var (
	_ Clock  = (*Fake)(nil)
	_ Ticker = (*fakeTicker)(nil)
)
