package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/scooked-app/scooked-go/pkg/clock"
)

func TestKeepAliveConfig(t *testing.T) {
	config := DefaultKeepAliveConfig()

	if config.PingInterval != DefaultPingInterval {
		t.Errorf("PingInterval = %v, want %v", config.PingInterval, DefaultPingInterval)
	}
	if config.PongTimeout != DefaultPongTimeout {
		t.Errorf("PongTimeout = %v, want %v", config.PongTimeout, DefaultPongTimeout)
	}
	if config.MaxMissedPongs != DefaultMaxMissedPongs {
		t.Errorf("MaxMissedPongs = %d, want %d", config.MaxMissedPongs, DefaultMaxMissedPongs)
	}

	// Verify detection delay calculation
	delay := config.DetectionDelay()
	expected := 30*time.Second*3 + 5*time.Second // 95 seconds
	if delay != expected {
		t.Errorf("DetectionDelay = %v, want %v", delay, expected)
	}
}

// startFakeKeepAlive starts a keep-alive on a fake clock and returns the
// channel its pings are delivered on. Receiving from the channel is the
// synchronization point: once a ping arrives, the loop has finished
// processing the tick that produced it.
func startFakeKeepAlive(t *testing.T, fake *clock.Fake, config KeepAliveConfig, onTimeout func()) (*KeepAlive, chan uint32) {
	t.Helper()

	pings := make(chan uint32, 16)
	config.Clock = fake

	ka := NewKeepAlive(config,
		func(seq uint32) error {
			pings <- seq
			return nil
		},
		onTimeout,
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(ka.Stop)

	ka.Start(ctx)
	fake.BlockUntil(1)

	return ka, pings
}

func expectPing(t *testing.T, pings chan uint32, want uint32) {
	t.Helper()
	select {
	case seq := <-pings:
		if seq != want {
			t.Fatalf("ping sequence = %d, want %d", seq, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for ping %d", want)
	}
}

func TestKeepAlivePingCadence(t *testing.T) {
	fake := clock.NewFake(time.Unix(1700000000, 0))
	config := KeepAliveConfig{
		PingInterval:   30 * time.Second,
		PongTimeout:    5 * time.Second,
		MaxMissedPongs: 3,
	}

	ka, pings := startFakeKeepAlive(t, fake, config, func() {
		t.Error("timeout should not be called")
	})

	// Initial ping goes out immediately
	expectPing(t, pings, 1)
	ka.PongReceived(1)
	waitForPong(t, ka)

	// Each interval produces the next ping
	fake.Advance(30 * time.Second)
	expectPing(t, pings, 2)
	ka.PongReceived(2)
	waitForPong(t, ka)

	fake.Advance(30 * time.Second)
	expectPing(t, pings, 3)
}

// waitForPong polls until the keep-alive has processed a pong.
func waitForPong(t *testing.T, ka *KeepAlive) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stats := ka.Stats()
		if !stats.LastPongTime.IsZero() && stats.MissedPongs == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timeout waiting for pong to be processed")
}

func TestKeepAliveTimeout(t *testing.T) {
	fake := clock.NewFake(time.Unix(1700000000, 0))
	timeoutCh := make(chan struct{})

	config := KeepAliveConfig{
		PingInterval:   30 * time.Second,
		PongTimeout:    5 * time.Second,
		MaxMissedPongs: 2,
	}

	_, pings := startFakeKeepAlive(t, fake, config, func() {
		close(timeoutCh)
	})

	// Never answer any ping
	expectPing(t, pings, 1)

	// First missed pong, next ping goes out
	fake.Advance(30 * time.Second)
	expectPing(t, pings, 2)

	// Second missed pong reaches the cutoff
	fake.Advance(30 * time.Second)

	select {
	case <-timeoutCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected timeout to be called")
	}
}

func TestKeepAlivePongResetsCounter(t *testing.T) {
	fake := clock.NewFake(time.Unix(1700000000, 0))

	config := KeepAliveConfig{
		PingInterval:   30 * time.Second,
		PongTimeout:    5 * time.Second,
		MaxMissedPongs: 2,
	}

	ka, pings := startFakeKeepAlive(t, fake, config, func() {
		t.Error("timeout should not be called")
	})

	expectPing(t, pings, 1)

	// Miss the first pong
	fake.Advance(30 * time.Second)
	expectPing(t, pings, 2)

	if stats := ka.Stats(); stats.MissedPongs != 1 {
		t.Errorf("MissedPongs = %d after one miss, want 1", stats.MissedPongs)
	}

	// Answer the second ping; the counter resets
	ka.PongReceived(2)
	waitForPong(t, ka)

	if stats := ka.Stats(); stats.MissedPongs != 0 {
		t.Errorf("MissedPongs = %d after pong, want 0", stats.MissedPongs)
	}

	// One more miss stays below the cutoff again
	fake.Advance(30 * time.Second)
	expectPing(t, pings, 3)
}

func TestKeepAliveStats(t *testing.T) {
	fake := clock.NewFake(time.Unix(1700000000, 0))

	config := KeepAliveConfig{
		PingInterval:   30 * time.Second,
		PongTimeout:    5 * time.Second,
		MaxMissedPongs: 3,
		Clock:          fake,
	}

	ka := NewKeepAlive(config,
		func(seq uint32) error { return nil },
		func() {},
	)

	// Initial stats
	stats := ka.Stats()
	if stats.CurrentSeq != 0 {
		t.Errorf("initial CurrentSeq = %d, want 0", stats.CurrentSeq)
	}
	if stats.MissedPongs != 0 {
		t.Errorf("initial MissedPongs = %d, want 0", stats.MissedPongs)
	}
	if !stats.LastPingTime.IsZero() {
		t.Error("initial LastPingTime should be zero")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ka.Start(ctx)
	defer ka.Stop()
	fake.BlockUntil(1)

	// Wait for the initial ping to be recorded
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stats = ka.Stats()
		if stats.CurrentSeq > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if stats.CurrentSeq == 0 {
		t.Error("CurrentSeq should be > 0 after ping")
	}
	if stats.LastPingTime.IsZero() {
		t.Error("LastPingTime should be set")
	}
}

func TestKeepAliveStartStop(t *testing.T) {
	ka := NewKeepAlive(DefaultKeepAliveConfig(),
		func(seq uint32) error { return nil },
		func() {},
	)

	if ka.IsRunning() {
		t.Error("should not be running initially")
	}

	ctx := context.Background()
	ka.Start(ctx)

	if !ka.IsRunning() {
		t.Error("should be running after Start")
	}

	// Start again should be no-op
	ka.Start(ctx)
	if !ka.IsRunning() {
		t.Error("should still be running")
	}

	ka.Stop()

	if ka.IsRunning() {
		t.Error("should not be running after Stop")
	}

	// Stop again should be no-op
	ka.Stop()
}

func TestKeepAliveContextCancel(t *testing.T) {
	fake := clock.NewFake(time.Unix(1700000000, 0))

	config := KeepAliveConfig{
		PingInterval:   30 * time.Second,
		PongTimeout:    5 * time.Second,
		MaxMissedPongs: 3,
	}

	ctx, cancel := context.WithCancel(context.Background())

	pings := make(chan uint32, 16)
	config.Clock = fake

	ka := NewKeepAlive(config,
		func(seq uint32) error {
			pings <- seq
			return nil
		},
		func() {},
	)
	ka.Start(ctx)
	defer ka.Stop()
	fake.BlockUntil(1)

	expectPing(t, pings, 1)

	// Cancel and give the loop a moment to observe it
	cancel()
	time.Sleep(20 * time.Millisecond)

	// Further ticks must not produce pings
	fake.Advance(30 * time.Second)
	fake.Advance(30 * time.Second)

	select {
	case seq := <-pings:
		t.Errorf("ping %d sent after context cancel", seq)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestKeepAliveSendFailureKeepsProbing(t *testing.T) {
	fake := clock.NewFake(time.Unix(1700000000, 0))

	attempts := make(chan uint32, 16)
	config := KeepAliveConfig{
		PingInterval:   30 * time.Second,
		PongTimeout:    5 * time.Second,
		MaxMissedPongs: 3,
		Clock:          fake,
	}

	// Every send fails; the prober keeps trying and leaves connection
	// teardown to the read loop.
	ka := NewKeepAlive(config,
		func(seq uint32) error {
			attempts <- seq
			return context.DeadlineExceeded
		},
		func() {},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ka.Start(ctx)
	defer ka.Stop()
	fake.BlockUntil(1)

	expectPing(t, attempts, 1)

	fake.Advance(30 * time.Second)
	expectPing(t, attempts, 2)

	fake.Advance(30 * time.Second)
	expectPing(t, attempts, 3)
}

func TestCalculateDetectionDelay(t *testing.T) {
	tests := []struct {
		pingInterval   time.Duration
		pongTimeout    time.Duration
		maxMissedPongs int
		expected       time.Duration
	}{
		{30 * time.Second, 5 * time.Second, 3, 95 * time.Second},
		{10 * time.Second, 2 * time.Second, 5, 52 * time.Second},
		{1 * time.Second, 1 * time.Second, 1, 2 * time.Second},
	}

	for _, tt := range tests {
		got := CalculateDetectionDelay(tt.pingInterval, tt.pongTimeout, tt.maxMissedPongs)
		if got != tt.expected {
			t.Errorf("CalculateDetectionDelay(%v, %v, %d) = %v, want %v",
				tt.pingInterval, tt.pongTimeout, tt.maxMissedPongs, got, tt.expected)
		}
	}
}

func TestKeepAliveLatencyCallback(t *testing.T) {
	fake := clock.NewFake(time.Unix(1700000000, 0))

	var mu sync.Mutex
	var receivedLatency time.Duration
	done := make(chan struct{})

	config := KeepAliveConfig{
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
		MaxMissedPongs: 3,
	}

	ka, pings := startFakeKeepAlive(t, fake, config, func() {})

	ka.SetPongReceivedCallback(func(seq uint32, latency time.Duration) {
		mu.Lock()
		receivedLatency = latency
		mu.Unlock()
		close(done)
	})

	expectPing(t, pings, 1)

	// Let exactly 3 seconds of fake time pass before the pong arrives.
	// No tick fires because the interval is longer.
	fake.Advance(3 * time.Second)
	ka.PongReceived(1)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("latency callback not called")
	}

	mu.Lock()
	if receivedLatency != 3*time.Second {
		t.Errorf("latency = %v, want exactly 3s", receivedLatency)
	}
	mu.Unlock()
}
