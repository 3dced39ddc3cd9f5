package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/scooked-app/scooked-go/pkg/clock"
	"github.com/scooked-app/scooked-go/pkg/log"
	"github.com/scooked-app/scooked-go/pkg/record"
	"github.com/scooked-app/scooked-go/pkg/retry"
	"github.com/scooked-app/scooked-go/pkg/store"
)

const (
	// DefaultDuration is the session length granted by Connect.
	DefaultDuration = 10 * time.Minute

	// DefaultTickInterval is the countdown resolution.
	DefaultTickInterval = time.Second

	// noticeSeconds is the remaining-time threshold for the one
	// minute warning.
	noticeSeconds = 60
)

// Manager lifecycle errors.
var (
	ErrAlreadyStarted  = errors.New("session manager already started")
	ErrNotStarted      = errors.New("session manager not started")
	ErrAlreadyAttached = errors.New("gateway already attached")
)

// Config holds the session manager configuration.
type Config struct {
	// Duration is the session length granted by Connect.
	Duration time.Duration

	// TickInterval is the countdown resolution.
	TickInterval time.Duration

	// Clock is the time source. Defaults to the system clock.
	Clock clock.Clock

	// Retry is the policy for store writes.
	Retry retry.Config

	// Logger receives session events. Defaults to a no-op logger.
	Logger log.Logger
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		Duration:     DefaultDuration,
		TickInterval: DefaultTickInterval,
		Retry:        retry.DefaultConfig(),
	}
}

type intentKind uint8

const (
	intentConnect intentKind = iota
	intentDisconnect
)

type intent struct {
	kind intentKind
	done chan struct{}
}

// Manager drives the session lifecycle. All state transitions happen on
// a single event loop, so ticks, Connect/Disconnect intents, and store
// pushes can never interleave. Store writes run off the loop through a
// retrying executor; their outcome is logged and never blocks or
// reorders the countdown.
//
// Callbacks run on the event loop and must not call Connect, Disconnect,
// or Stop.
type Manager struct {
	config   Config
	clk      clock.Clock
	logger   log.Logger
	executor *retry.Executor

	mu            sync.RWMutex
	started       bool
	state         State
	endTime       time.Time
	hasEnd        bool
	gateway       store.Gateway
	sub           store.Subscription
	onTick        func(remaining int64)
	onStateChange func(oldState, newState State, reason Reason)
	stopCh        chan struct{}
	doneCh        chan struct{}
	writeCtx      context.Context
	writeCancel   context.CancelFunc

	intents chan intent
	pushes  chan *record.Session
	subErrs chan error

	// Loop-owned, touched only by the run goroutine.
	ticker      clock.Ticker
	noticeFired bool
}

// NewManager returns a stopped Manager for the given configuration.
// Zero config fields fall back to defaults.
func NewManager(config Config) *Manager {
	if config.Duration <= 0 {
		config.Duration = DefaultDuration
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.System()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Manager{
		config:   config,
		clk:      clk,
		logger:   logger,
		executor: retry.NewExecutor(clk, config.Retry),
		intents:  make(chan intent),
		pushes:   make(chan *record.Session, 16),
		subErrs:  make(chan error, 4),
	}
}

// OnTick registers fn to receive the remaining whole seconds on every
// countdown tick. Set callbacks before Start.
func (m *Manager) OnTick(fn func(remaining int64)) {
	m.mu.Lock()
	m.onTick = fn
	m.mu.Unlock()
}

// OnStateChange registers fn to be called on every reported state
// transition. The transient EXPIRING state is not reported.
func (m *Manager) OnStateChange(fn func(oldState, newState State, reason Reason)) {
	m.mu.Lock()
	m.onStateChange = fn
	m.mu.Unlock()
}

// Start launches the event loop.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.writeCtx, m.writeCancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	go m.run()
	m.logEvent(log.SeverityInfo, "session manager started")
	return nil
}

// Stop ends the event loop and abandons in-flight store writes. No
// callbacks fire after Stop returns. A connected session's remote
// record is left as is; call Disconnect first for a user-visible stop.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	m.started = false
	stopCh := m.stopCh
	doneCh := m.doneCh
	cancel := m.writeCancel
	sub := m.sub
	m.sub = nil
	m.gateway = nil
	m.mu.Unlock()

	close(stopCh)
	<-doneCh
	cancel()
	if sub != nil {
		sub.Unsubscribe()
	}

	m.mu.Lock()
	m.state = StateDisconnected
	m.endTime = time.Time{}
	m.hasEnd = false
	m.mu.Unlock()

	m.logEvent(log.SeverityInfo, "session manager stopped")
	return nil
}

// Attach subscribes the manager to a store gateway. Store pushes then
// drive the session state, and Connect/Disconnect write through to the
// store. Without an attached gateway the manager runs as a purely local
// countdown.
//
// A failed subscribe leaves the manager unattached; the caller may keep
// using it in local-only mode.
func (m *Manager) Attach(ctx context.Context, gw store.Gateway) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if m.gateway != nil {
		m.mu.Unlock()
		return ErrAlreadyAttached
	}
	m.gateway = gw
	m.mu.Unlock()

	sub, err := gw.Subscribe(ctx, m.enqueuePush, m.enqueueSubscriptionError)
	if err != nil {
		m.mu.Lock()
		m.gateway = nil
		m.mu.Unlock()
		return fmt.Errorf("attach gateway: %w", err)
	}

	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()

	m.logEvent(log.SeverityInfo, "store gateway attached")
	return nil
}

// Connect grants a session of the configured duration, anchored to the
// current clock, and writes the end time to the store. Calling it while
// a session is active is a no-op.
func (m *Manager) Connect() error {
	return m.submit(intentConnect)
}

// Disconnect ends the active session and clears the remote end time.
// Calling it without an active session is a no-op.
func (m *Manager) Disconnect() error {
	return m.submit(intentDisconnect)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// EndTime returns the absolute session end time. The second return
// value is false when no session is active.
func (m *Manager) EndTime() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.endTime, m.hasEnd
}

// Remaining returns the whole seconds left in the session, or zero when
// none is active.
func (m *Manager) Remaining() int64 {
	m.mu.RLock()
	end := m.endTime
	has := m.hasEnd
	m.mu.RUnlock()
	if !has {
		return 0
	}
	return remainingSeconds(end, m.clk.Now())
}

func (m *Manager) submit(kind intentKind) error {
	m.mu.RLock()
	started := m.started
	stopCh := m.stopCh
	m.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	in := intent{kind: kind, done: make(chan struct{})}
	select {
	case m.intents <- in:
	case <-stopCh:
		return ErrNotStarted
	}
	select {
	case <-in.done:
		return nil
	case <-stopCh:
		return ErrNotStarted
	}
}

func (m *Manager) run() {
	m.mu.RLock()
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.mu.RUnlock()

	defer close(doneCh)
	defer m.stopTicker()

	for {
		var tickC <-chan time.Time
		if m.ticker != nil {
			tickC = m.ticker.C()
		}
		select {
		case <-stopCh:
			return
		case in := <-m.intents:
			m.handleIntent(in.kind)
			close(in.done)
		case rec := <-m.pushes:
			m.handlePush(rec)
		case err := <-m.subErrs:
			m.handleSubscriptionError(err)
		case <-tickC:
			m.handleTick()
		}
	}
}

func (m *Manager) handleIntent(kind intentKind) {
	switch kind {
	case intentConnect:
		m.handleConnect()
	case intentDisconnect:
		m.handleDisconnect()
	}
}

func (m *Manager) handleConnect() {
	if m.State() == StateConnected {
		m.logEvent(log.SeverityDebug, "connect ignored: already connected")
		return
	}
	now := m.clk.Now()
	end := now.Add(m.config.Duration)

	m.setSession(StateConnected, end)
	m.noticeFired = false
	m.startTicker()
	m.emitStateChange(StateDisconnected, StateConnected, ReasonNone)
	m.emitTick(remainingSeconds(end, now))

	rec := record.New(now, end)
	go m.persistPut(rec)
}

func (m *Manager) handleDisconnect() {
	if m.State() != StateConnected {
		m.logEvent(log.SeverityDebug, "disconnect ignored: no active session")
		return
	}

	// The ticker dies before the clear is issued, so no further tick
	// can race the stop.
	m.stopTicker()
	m.noticeFired = false
	m.setSession(StateDisconnected, time.Time{})
	m.emitStateChange(StateConnected, StateDisconnected, ReasonUserStopped)
	go m.persistClear("user stop")
}

func (m *Manager) handleTick() {
	if m.State() != StateConnected {
		return
	}
	now := m.clk.Now()
	end, _ := m.EndTime()
	if !end.After(now) {
		m.expire()
		return
	}

	remaining := remainingSeconds(end, now)
	m.emitTick(remaining)
	if remaining > 0 && remaining <= noticeSeconds && !m.noticeFired {
		m.noticeFired = true
		m.logCountdown(log.SeverityInfo, "one minute remaining", remaining, end)
	} else {
		m.logCountdown(log.SeverityDebug, "tick", remaining, end)
	}
}

// expire runs the full expiry sequence for the current end time: the
// final zero tick in the transient EXPIRING state, the transition to
// DISCONNECTED, and a single remote clear.
func (m *Manager) expire() {
	end, _ := m.EndTime()

	m.setSession(StateExpiring, end)
	m.emitTick(0)
	m.logCountdown(log.SeverityInfo, "session expired", 0, end)

	m.stopTicker()
	m.noticeFired = false
	m.setSession(StateDisconnected, time.Time{})
	m.emitStateChange(StateConnected, StateDisconnected, ReasonExpired)
	go m.persistClear("expiry")
}

// handlePush reconciles pushed store state with the local session. The
// pushed document is authoritative: a future end time re-anchors the
// countdown, a cleared or absent document ends the session, and a stale
// end time expires immediately.
func (m *Manager) handlePush(rec *record.Session) {
	if rec == nil || !rec.HasEndTime() {
		m.handleRemoteClear()
		return
	}

	end, _ := rec.EndTimeValue()
	now := m.clk.Now()
	state := m.State()

	if !end.After(now) {
		if state == StateConnected {
			m.setSession(StateConnected, end)
			m.expire()
			return
		}
		// Nothing runs locally; tidy up the stale remote field.
		m.logEvent(log.SeverityDebug, "stale remote end time, clearing")
		go m.persistClear("stale remote end time")
		return
	}

	remaining := remainingSeconds(end, now)

	if state == StateConnected {
		current, _ := m.EndTime()
		if current.Equal(end) {
			// Our own write echoed back.
			return
		}
		m.setSession(StateConnected, end)
		m.noticeFired = false
		m.logCountdown(log.SeverityInfo, "remote end time adopted", remaining, end)
		m.emitTick(remaining)
		return
	}

	m.setSession(StateConnected, end)
	m.noticeFired = false
	m.startTicker()
	m.emitStateChange(StateDisconnected, StateConnected, ReasonRemoteSync)
	m.logCountdown(log.SeverityInfo, "remote session adopted", remaining, end)
	m.emitTick(remaining)
}

func (m *Manager) handleRemoteClear() {
	if m.State() != StateConnected {
		return
	}
	m.stopTicker()
	m.noticeFired = false
	m.setSession(StateDisconnected, time.Time{})
	m.emitStateChange(StateConnected, StateDisconnected, ReasonRemoteSync)
}

// handleSubscriptionError reports a broken store subscription. The
// local countdown keeps running; writes are still attempted and fail on
// their own if the store is gone.
func (m *Manager) handleSubscriptionError(err error) {
	m.logError("subscription lost, continuing with local countdown", err)
}

func (m *Manager) persistPut(rec record.Session) {
	gw, ctx := m.writeTarget()
	if gw == nil {
		return
	}
	err := m.executor.Do(ctx, func(ctx context.Context) error {
		return gw.Put(ctx, rec)
	})
	switch {
	case err == nil:
		m.logEvent(log.SeverityDebug, "session record written")
	case errors.Is(err, context.Canceled):
		m.logEvent(log.SeverityDebug, "session record write abandoned")
	default:
		m.logError("session record write failed", err)
	}
}

func (m *Manager) persistClear(cause string) {
	gw, ctx := m.writeTarget()
	if gw == nil {
		return
	}
	err := m.executor.Do(ctx, func(ctx context.Context) error {
		return gw.ClearEndTime(ctx)
	})
	switch {
	case err == nil:
		m.logEvent(log.SeverityDebug, "session record cleared: "+cause)
	case errors.Is(err, context.Canceled):
		m.logEvent(log.SeverityDebug, "session record clear abandoned")
	default:
		m.logError("session record clear failed", err)
	}
}

func (m *Manager) writeTarget() (store.Gateway, context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.gateway == nil || m.writeCtx == nil {
		return nil, nil
	}
	return m.gateway, m.writeCtx
}

func (m *Manager) enqueuePush(rec *record.Session) {
	m.mu.RLock()
	stopCh := m.stopCh
	m.mu.RUnlock()
	if stopCh == nil {
		return
	}
	select {
	case m.pushes <- rec:
	case <-stopCh:
	}
}

func (m *Manager) enqueueSubscriptionError(err error) {
	m.mu.RLock()
	stopCh := m.stopCh
	m.mu.RUnlock()
	if stopCh == nil {
		return
	}
	select {
	case m.subErrs <- err:
	case <-stopCh:
	}
}

func (m *Manager) setSession(state State, end time.Time) {
	m.mu.Lock()
	m.state = state
	m.endTime = end
	m.hasEnd = !end.IsZero()
	m.mu.Unlock()
}

func (m *Manager) startTicker() {
	if m.ticker == nil {
		m.ticker = m.clk.NewTicker(m.config.TickInterval)
	}
}

func (m *Manager) stopTicker() {
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
}

func (m *Manager) emitTick(remaining int64) {
	m.mu.RLock()
	fn := m.onTick
	m.mu.RUnlock()
	if fn != nil {
		fn(remaining)
	}
}

func (m *Manager) emitStateChange(oldState, newState State, reason Reason) {
	m.mu.RLock()
	fn := m.onStateChange
	m.mu.RUnlock()
	if fn != nil {
		fn(oldState, newState, reason)
	}
	m.logger.Log(log.Event{
		Timestamp: m.clk.Now(),
		Severity:  log.SeverityInfo,
		Component: log.ComponentSession,
		Message:   "state changed",
		StateChange: &log.StateChangeEvent{
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   reason.String(),
		},
	})
}

func (m *Manager) logEvent(severity log.Severity, message string) {
	m.logger.Log(log.Event{
		Timestamp: m.clk.Now(),
		Severity:  severity,
		Component: log.ComponentSession,
		Message:   message,
	})
}

func (m *Manager) logError(message string, err error) {
	m.logger.Log(log.Event{
		Timestamp: m.clk.Now(),
		Severity:  log.SeverityWarn,
		Component: log.ComponentSession,
		Message:   message,
		Error: &log.ErrorEventData{
			Message: err.Error(),
			Context: message,
		},
	})
}

func (m *Manager) logCountdown(severity log.Severity, message string, remaining int64, end time.Time) {
	m.logger.Log(log.Event{
		Timestamp: m.clk.Now(),
		Severity:  severity,
		Component: log.ComponentSession,
		Message:   message,
		Countdown: &log.CountdownEvent{
			Remaining: remaining,
			EndTime:   record.Millis(end),
		},
	})
}

// remainingSeconds derives the whole seconds left from the absolute end
// time, so a missed or delayed tick cannot skew the countdown.
func remainingSeconds(end, now time.Time) int64 {
	ms := end.Sub(now).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return ms / 1000
}
