package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scooked-app/scooked-go/pkg/clock"
)

// attemptRecorder counts invocations and records the fake-clock instant
// of each one.
type attemptRecorder struct {
	mu    sync.Mutex
	clk   *clock.Fake
	times []time.Time
	errs  []error
}

func (r *attemptRecorder) op(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.times = append(r.times, r.clk.Now())
	if len(r.errs) == 0 {
		return nil
	}
	err := r.errs[0]
	r.errs = r.errs[1:]
	return err
}

func (r *attemptRecorder) attemptTimes() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Time, len(r.times))
	copy(out, r.times)
	return out
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for Do to return")
		return nil
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	ex := NewExecutor(fake, DefaultConfig())
	rec := &attemptRecorder{clk: fake}

	if err := ex.Do(context.Background(), rec.op); err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if got := len(rec.attemptTimes()); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestDoRetriesWithExponentialDelays(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	ex := NewExecutor(fake, DefaultConfig())

	failure := errors.New("store unreachable")
	rec := &attemptRecorder{clk: fake, errs: []error{failure, failure}}

	done := make(chan error, 1)
	go func() {
		done <- ex.Do(context.Background(), rec.op)
	}()

	// First retry waits 1000ms, second waits 2000ms.
	fake.BlockUntil(1)
	fake.Advance(1 * time.Second)
	fake.BlockUntil(1)
	fake.Advance(2 * time.Second)

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Do() error after eventual success: %v", err)
	}

	times := rec.attemptTimes()
	if len(times) != 3 {
		t.Fatalf("attempts = %d, want 3", len(times))
	}

	wantOffsets := []time.Duration{0, 1 * time.Second, 3 * time.Second}
	for i, want := range wantOffsets {
		if got := times[i].Sub(time.Unix(0, 0)); got != want {
			t.Errorf("attempt %d at offset %v, want %v", i, got, want)
		}
	}
}

func TestDoPropagatesFinalErrorUnchanged(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	ex := NewExecutor(fake, DefaultConfig())

	finalErr := errors.New("permission denied")
	rec := &attemptRecorder{clk: fake, errs: []error{
		errors.New("transient"), errors.New("transient"), finalErr,
	}}

	done := make(chan error, 1)
	go func() {
		done <- ex.Do(context.Background(), rec.op)
	}()

	fake.BlockUntil(1)
	fake.Advance(1 * time.Second)
	fake.BlockUntil(1)
	fake.Advance(2 * time.Second)

	err := waitDone(t, done)
	if err != finalErr {
		t.Errorf("Do() error = %v, want the final attempt's error unchanged", err)
	}
	if got := len(rec.attemptTimes()); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestDoContextCancelDuringBackoff(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	ex := NewExecutor(fake, DefaultConfig())

	rec := &attemptRecorder{clk: fake, errs: []error{
		errors.New("transient"), errors.New("transient"), errors.New("transient"),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ex.Do(ctx, rec.op)
	}()

	// Cancel while the executor waits out the first backoff delay.
	fake.BlockUntil(1)
	cancel()

	err := waitDone(t, done)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if got := len(rec.attemptTimes()); got != 1 {
		t.Errorf("attempts = %d, want 1 (no attempt after cancel)", got)
	}
}

func TestDelays(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []time.Duration
	}{
		{
			"defaults",
			Config{},
			[]time.Duration{1 * time.Second, 2 * time.Second},
		},
		{
			"five attempts",
			Config{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Multiplier: 2},
			[]time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond},
		},
		{
			"constant",
			Config{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, Multiplier: 1},
			[]time.Duration{50 * time.Millisecond, 50 * time.Millisecond},
		},
		{
			"single attempt",
			Config{MaxAttempts: 1, BaseDelay: time.Second, Multiplier: 2},
			[]time.Duration{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Delays(tt.cfg)
			if len(got) != len(tt.want) {
				t.Fatalf("Delays() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Delays()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", cfg.MaxAttempts, DefaultMaxAttempts)
	}
	if cfg.BaseDelay != DefaultBaseDelay {
		t.Errorf("BaseDelay = %v, want %v", cfg.BaseDelay, DefaultBaseDelay)
	}
	if cfg.Multiplier != DefaultMultiplier {
		t.Errorf("Multiplier = %v, want %v", cfg.Multiplier, DefaultMultiplier)
	}
}
