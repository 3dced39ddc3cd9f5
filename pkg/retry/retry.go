// Package retry wraps fallible operations with bounded exponential
// backoff.
//
// Delays are scheduled on a clock.Clock rather than slept, so a caller
// running the executor off its event loop stays responsive during
// backoff, and tests drive the delay sequence deterministically.
//
// The executor is used for idempotent session-store writes only;
// subscription recovery is deliberately out of its scope.
package retry

import (
	"context"
	"time"

	"github.com/scooked-app/scooked-go/pkg/clock"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMultiplier  = 2.0
)

// Config controls the retry behavior.
type Config struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// Multiplier is the factor applied to the delay after each retry.
	Multiplier float64
}

// DefaultConfig returns the standard write-retry configuration:
// 3 attempts with delays of 1s and 2s between them.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = DefaultMultiplier
	}
	return c
}

// Delays returns the backoff sequence a Config produces: one delay per
// retry, MaxAttempts-1 entries in total.
func Delays(cfg Config) []time.Duration {
	cfg = cfg.withDefaults()

	delays := make([]time.Duration, 0, cfg.MaxAttempts-1)
	delay := cfg.BaseDelay
	for i := 0; i < cfg.MaxAttempts-1; i++ {
		delays = append(delays, delay)
		delay = time.Duration(float64(delay) * cfg.Multiplier)
	}
	return delays
}

// Operation is a single fallible attempt. Every attempt re-executes the
// full operation; no partial state is carried between attempts.
type Operation func(ctx context.Context) error

// Executor runs operations with the retry policy of its Config.
type Executor struct {
	cfg Config
	clk clock.Clock
}

// NewExecutor creates an Executor scheduling its delays on clk.
// A nil clk falls back to the system clock.
func NewExecutor(clk clock.Clock, cfg Config) *Executor {
	if clk == nil {
		clk = clock.System()
	}
	return &Executor{
		cfg: cfg.withDefaults(),
		clk: clk,
	}
}

// Do invokes op, retrying on failure with exponential backoff. The
// delay before retry n (1-based) is BaseDelay * Multiplier^(n-1),
// without jitter. After the final attempt fails, its error is returned
// unchanged. Cancelling ctx during a backoff wait returns ctx.Err().
func (e *Executor) Do(ctx context.Context, op Operation) error {
	var err error
	delay := e.cfg.BaseDelay

	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.clk.After(delay):
			}
			delay = time.Duration(float64(delay) * e.cfg.Multiplier)
		}

		if err = op(ctx); err == nil {
			return nil
		}
	}
	return err
}
