package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scooked-app/scooked-go/pkg/clock"
	"github.com/scooked-app/scooked-go/pkg/log"
	"github.com/scooked-app/scooked-go/pkg/record"
	"github.com/scooked-app/scooked-go/pkg/retry"
	"github.com/scooked-app/scooked-go/pkg/store"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestStateString(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnected, "CONNECTED"},
		{StateExpiring, "EXPIRING"},
		{State(99), "UNKNOWN"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}

func TestReasonString(t *testing.T) {
	cases := []struct {
		reason Reason
		want   string
	}{
		{ReasonNone, ""},
		{ReasonUserStopped, "user-stopped"},
		{ReasonExpired, "expired"},
		{ReasonRemoteSync, "remote-sync"},
		{Reason(99), ""},
	}
	for _, tc := range cases {
		if got := tc.reason.String(); got != tc.want {
			t.Errorf("Reason(%d).String() = %q, want %q", tc.reason, got, tc.want)
		}
	}
}

// fakeGateway is an in-memory store.Gateway with scriptable failures.
type fakeGateway struct {
	mu           sync.Mutex
	puts         []record.Session
	clears       int
	putErrs      []error
	clearErrs    []error
	prime        *record.Session
	subErr       error
	onChange     func(*record.Session)
	onError      func(error)
	unsubscribed bool

	calls chan string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: make(chan string, 64)}
}

func (g *fakeGateway) Put(ctx context.Context, rec record.Session) error {
	g.mu.Lock()
	g.puts = append(g.puts, rec.Clone())
	var err error
	if len(g.putErrs) > 0 {
		err = g.putErrs[0]
		g.putErrs = g.putErrs[1:]
	}
	g.mu.Unlock()
	g.calls <- "put"
	return err
}

func (g *fakeGateway) ClearEndTime(ctx context.Context) error {
	g.mu.Lock()
	g.clears++
	var err error
	if len(g.clearErrs) > 0 {
		err = g.clearErrs[0]
		g.clearErrs = g.clearErrs[1:]
	}
	g.mu.Unlock()
	g.calls <- "clear"
	return err
}

func (g *fakeGateway) Subscribe(ctx context.Context, onChange func(*record.Session), onError func(error)) (store.Subscription, error) {
	if g.subErr != nil {
		return nil, g.subErr
	}
	g.mu.Lock()
	g.onChange = onChange
	g.onError = onError
	prime := g.prime
	g.mu.Unlock()
	onChange(prime)
	return &fakeSubscription{gateway: g}, nil
}

func (g *fakeGateway) push(rec *record.Session) {
	g.mu.Lock()
	fn := g.onChange
	g.mu.Unlock()
	if fn != nil {
		fn(rec)
	}
}

func (g *fakeGateway) failSubscription(err error) {
	g.mu.Lock()
	fn := g.onError
	g.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (g *fakeGateway) putCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.puts)
}

func (g *fakeGateway) clearCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clears
}

func (g *fakeGateway) lastPut() record.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.puts[len(g.puts)-1].Clone()
}

func (g *fakeGateway) allPuts() []record.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]record.Session, 0, len(g.puts))
	for _, p := range g.puts {
		out = append(out, p.Clone())
	}
	return out
}

type fakeSubscription struct {
	gateway *fakeGateway
}

func (s *fakeSubscription) Unsubscribe() {
	s.gateway.mu.Lock()
	s.gateway.unsubscribed = true
	s.gateway.onChange = nil
	s.gateway.onError = nil
	s.gateway.mu.Unlock()
}

var _ store.Gateway = (*fakeGateway)(nil)

type transition struct {
	oldState State
	newState State
	reason   Reason
}

// recorder captures callback invocations both as slices for counting
// and as channels for synchronizing with the event loop.
type recorder struct {
	mu      sync.Mutex
	ticks   []int64
	changes []transition

	tickCh   chan int64
	changeCh chan transition
}

func newRecorder() *recorder {
	return &recorder{
		tickCh:   make(chan int64, 2048),
		changeCh: make(chan transition, 64),
	}
}

func (r *recorder) onTick(remaining int64) {
	r.mu.Lock()
	r.ticks = append(r.ticks, remaining)
	r.mu.Unlock()
	r.tickCh <- remaining
}

func (r *recorder) onStateChange(oldState, newState State, reason Reason) {
	tr := transition{oldState: oldState, newState: newState, reason: reason}
	r.mu.Lock()
	r.changes = append(r.changes, tr)
	r.mu.Unlock()
	r.changeCh <- tr
}

func (r *recorder) transitions() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transition, len(r.changes))
	copy(out, r.changes)
	return out
}

// eventLogger records emitted log events.
type eventLogger struct {
	mu     sync.Mutex
	events []log.Event
	ch     chan log.Event
}

func newEventLogger() *eventLogger {
	return &eventLogger{ch: make(chan log.Event, 8192)}
}

func (l *eventLogger) Log(event log.Event) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
	select {
	case l.ch <- event:
	default:
	}
}

func (l *eventLogger) countMessage(message string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Message == message {
			n++
		}
	}
	return n
}

type managerFixture struct {
	t        *testing.T
	clk      *clock.Fake
	manager  *Manager
	recorder *recorder
	logs     *eventLogger
	gateway  *fakeGateway
}

func newFixture(t *testing.T, opts ...func(*Config)) *managerFixture {
	t.Helper()

	clk := clock.NewFake(testStart)
	logs := newEventLogger()
	config := Config{
		Duration:     10 * time.Minute,
		TickInterval: time.Second,
		Clock:        clk,
		Logger:       logs,
		Retry:        retry.Config{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2},
	}
	for _, opt := range opts {
		opt(&config)
	}

	rec := newRecorder()
	m := NewManager(config)
	m.OnTick(rec.onTick)
	m.OnStateChange(rec.onStateChange)
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop() })

	return &managerFixture{t: t, clk: clk, manager: m, recorder: rec, logs: logs}
}

func (f *managerFixture) attach(gw *fakeGateway) {
	f.t.Helper()
	f.gateway = gw
	if err := f.manager.Attach(context.Background(), gw); err != nil {
		f.t.Fatalf("attach: %v", err)
	}
}

func (f *managerFixture) connect() {
	f.t.Helper()
	if err := f.manager.Connect(); err != nil {
		f.t.Fatalf("connect: %v", err)
	}
}

func (f *managerFixture) disconnect() {
	f.t.Helper()
	if err := f.manager.Disconnect(); err != nil {
		f.t.Fatalf("disconnect: %v", err)
	}
}

func (f *managerFixture) waitTick() int64 {
	f.t.Helper()
	select {
	case v := <-f.recorder.tickCh:
		return v
	case <-time.After(2 * time.Second):
		f.t.Fatalf("timed out waiting for tick")
		return 0
	}
}

// step advances the clock by one tick interval and returns the
// resulting tick value.
func (f *managerFixture) step() int64 {
	f.t.Helper()
	f.clk.Advance(time.Second)
	return f.waitTick()
}

func (f *managerFixture) waitTransition() transition {
	f.t.Helper()
	select {
	case tr := <-f.recorder.changeCh:
		return tr
	case <-time.After(2 * time.Second):
		f.t.Fatalf("timed out waiting for state change")
		return transition{}
	}
}

func (f *managerFixture) expectTransition(oldState, newState State, reason Reason) {
	f.t.Helper()
	tr := f.waitTransition()
	if tr.oldState != oldState || tr.newState != newState || tr.reason != reason {
		f.t.Fatalf("transition = %s -> %s (%q), want %s -> %s (%q)",
			tr.oldState, tr.newState, tr.reason, oldState, newState, reason)
	}
}

func (f *managerFixture) expectNoTick() {
	f.t.Helper()
	select {
	case v := <-f.recorder.tickCh:
		f.t.Fatalf("unexpected tick %d", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *managerFixture) expectNoTransition() {
	f.t.Helper()
	select {
	case tr := <-f.recorder.changeCh:
		f.t.Fatalf("unexpected transition %s -> %s (%q)", tr.oldState, tr.newState, tr.reason)
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *managerFixture) drainTicks(settle time.Duration) []int64 {
	var out []int64
	for {
		select {
		case v := <-f.recorder.tickCh:
			out = append(out, v)
		case <-time.After(settle):
			return out
		}
	}
}

func (f *managerFixture) waitCall(want string) {
	f.t.Helper()
	select {
	case got := <-f.gateway.calls:
		if got != want {
			f.t.Fatalf("gateway call = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		f.t.Fatalf("timed out waiting for gateway %q", want)
	}
}

func (f *managerFixture) expectNoCall() {
	f.t.Helper()
	select {
	case call := <-f.gateway.calls:
		f.t.Fatalf("unexpected gateway %q", call)
	case <-time.After(100 * time.Millisecond):
	}
}

func (f *managerFixture) waitLogMessage(message string) log.Event {
	f.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-f.logs.ch:
			if ev.Message == message {
				return ev
			}
		case <-deadline:
			f.t.Fatalf("timed out waiting for log %q", message)
			return log.Event{}
		}
	}
}

func TestManagerStartStop(t *testing.T) {
	clk := clock.NewFake(testStart)
	m := NewManager(Config{Clock: clk})

	if err := m.Connect(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Connect before Start = %v, want ErrNotStarted", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v, want ErrAlreadyStarted", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("second Stop = %v, want ErrNotStarted", err)
	}
	if err := m.Disconnect(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Disconnect after Stop = %v, want ErrNotStarted", err)
	}

	// A stopped manager can be started again.
	if err := m.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := m.Connect(); err != nil {
		t.Fatalf("Connect after restart: %v", err)
	}
	if got := m.State(); got != StateConnected {
		t.Fatalf("state after restart connect = %s", got)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("final Stop: %v", err)
	}
	if got := m.State(); got != StateDisconnected {
		t.Fatalf("state after Stop = %s", got)
	}
}

func TestManagerConnect(t *testing.T) {
	fx := newFixture(t)
	fx.attach(newFakeGateway())

	fx.connect()

	if got := fx.manager.State(); got != StateConnected {
		t.Fatalf("state = %s, want CONNECTED", got)
	}
	if got := fx.waitTick(); got != 600 {
		t.Fatalf("initial tick = %d, want 600", got)
	}
	fx.expectTransition(StateDisconnected, StateConnected, ReasonNone)

	end, ok := fx.manager.EndTime()
	if !ok {
		t.Fatal("no end time after connect")
	}
	if want := testStart.Add(10 * time.Minute); !end.Equal(want) {
		t.Fatalf("end time = %v, want %v", end, want)
	}
	if got := fx.manager.Remaining(); got != 600 {
		t.Fatalf("remaining = %d, want 600", got)
	}

	fx.waitCall("put")
	put := fx.gateway.lastPut()
	if put.StartedAt != record.Millis(testStart) {
		t.Fatalf("startedAt = %d, want %d", put.StartedAt, record.Millis(testStart))
	}
	putEnd, ok := put.EndTimeValue()
	if !ok || !putEnd.Equal(testStart.Add(10*time.Minute)) {
		t.Fatalf("written end time = %v (%v)", putEnd, ok)
	}
}

func TestManagerConnectIdempotent(t *testing.T) {
	fx := newFixture(t)
	fx.attach(newFakeGateway())

	fx.connect()
	fx.waitTick()
	fx.waitTransition()
	fx.waitCall("put")
	endBefore, _ := fx.manager.EndTime()

	if got := fx.step(); got != 599 {
		t.Fatalf("tick = %d, want 599", got)
	}

	// A second Connect must not restart the countdown or write again.
	fx.connect()
	fx.expectNoTransition()
	fx.expectNoCall()
	endAfter, _ := fx.manager.EndTime()
	if !endAfter.Equal(endBefore) {
		t.Fatalf("end time moved: %v -> %v", endBefore, endAfter)
	}
	if got := fx.gateway.putCount(); got != 1 {
		t.Fatalf("puts = %d, want 1", got)
	}
	if got := fx.step(); got != 598 {
		t.Fatalf("tick after duplicate connect = %d, want 598", got)
	}
}

func TestManagerTickDerivation(t *testing.T) {
	fx := newFixture(t)

	fx.connect()
	if got := fx.waitTick(); got != 600 {
		t.Fatalf("initial tick = %d, want 600", got)
	}
	for want := int64(599); want >= 597; want-- {
		if got := fx.step(); got != want {
			t.Fatalf("tick = %d, want %d", got, want)
		}
	}
	if got := fx.manager.Remaining(); got != 597 {
		t.Fatalf("remaining = %d, want 597", got)
	}
}

func TestManagerCoalescedTicks(t *testing.T) {
	fx := newFixture(t)

	fx.connect()
	fx.waitTick()

	// A single large advance coalesces ticks; every delivered tick
	// derives from the absolute end time, not from a tick count.
	fx.clk.Advance(5 * time.Second)
	if got := fx.waitTick(); got != 595 {
		t.Fatalf("tick after 5s advance = %d, want 595", got)
	}
	for _, v := range fx.drainTicks(100 * time.Millisecond) {
		if v != 595 {
			t.Fatalf("coalesced tick = %d, want 595", v)
		}
	}
	if got := fx.manager.Remaining(); got != 595 {
		t.Fatalf("remaining = %d, want 595", got)
	}
}

func TestManagerFullCountdownExpiry(t *testing.T) {
	fx := newFixture(t)
	fx.attach(newFakeGateway())

	fx.connect()
	if got := fx.waitTick(); got != 600 {
		t.Fatalf("initial tick = %d, want 600", got)
	}
	fx.waitTransition()
	fx.waitCall("put")

	for i := 1; i <= 539; i++ {
		want := int64(600 - i)
		if got := fx.step(); got != want {
			t.Fatalf("tick %d = %d, want %d", i, got, want)
		}
	}
	if n := fx.logs.countMessage("one minute remaining"); n != 0 {
		t.Fatalf("notice before the 60s boundary (count %d)", n)
	}

	if got := fx.step(); got != 60 {
		t.Fatalf("boundary tick = %d, want 60", got)
	}
	fx.waitLogMessage("one minute remaining")

	for i := 541; i <= 599; i++ {
		want := int64(600 - i)
		if got := fx.step(); got != want {
			t.Fatalf("tick %d = %d, want %d", i, got, want)
		}
	}
	if n := fx.logs.countMessage("one minute remaining"); n != 1 {
		t.Fatalf("notice count = %d, want 1", n)
	}

	// The tick at the end time delivers the final zero and expires.
	fx.clk.Advance(time.Second)
	if got := fx.waitTick(); got != 0 {
		t.Fatalf("final tick = %d, want 0", got)
	}
	fx.expectTransition(StateConnected, StateDisconnected, ReasonExpired)
	fx.waitCall("clear")

	if got := fx.manager.State(); got != StateDisconnected {
		t.Fatalf("state after expiry = %s", got)
	}
	if got := fx.manager.Remaining(); got != 0 {
		t.Fatalf("remaining after expiry = %d", got)
	}
	if _, ok := fx.manager.EndTime(); ok {
		t.Fatal("end time still set after expiry")
	}
	if got := fx.gateway.clearCount(); got != 1 {
		t.Fatalf("clears = %d, want 1", got)
	}
	if got := fx.gateway.putCount(); got != 1 {
		t.Fatalf("puts = %d, want 1", got)
	}

	// No ticks once expired.
	fx.clk.Advance(time.Second)
	fx.expectNoTick()

	expired := 0
	for _, tr := range fx.recorder.transitions() {
		if tr.reason == ReasonExpired {
			expired++
		}
	}
	if expired != 1 {
		t.Fatalf("expired transitions = %d, want 1", expired)
	}
}

func TestManagerDisconnect(t *testing.T) {
	fx := newFixture(t)
	fx.attach(newFakeGateway())

	fx.connect()
	fx.waitTick()
	fx.waitTransition()
	fx.waitCall("put")
	fx.step()

	fx.disconnect()
	fx.expectTransition(StateConnected, StateDisconnected, ReasonUserStopped)
	fx.waitCall("clear")

	if got := fx.manager.State(); got != StateDisconnected {
		t.Fatalf("state = %s, want DISCONNECTED", got)
	}
	if got := fx.manager.Remaining(); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}
	fx.clk.Advance(time.Second)
	fx.expectNoTick()

	// A second Disconnect is a no-op.
	fx.disconnect()
	fx.expectNoTransition()
	fx.expectNoCall()
	if got := fx.gateway.clearCount(); got != 1 {
		t.Fatalf("clears = %d, want 1", got)
	}
}

func TestManagerDisconnectWithoutSession(t *testing.T) {
	fx := newFixture(t)
	fx.attach(newFakeGateway())

	fx.disconnect()
	fx.expectNoTransition()
	fx.expectNoCall()
	if got := fx.manager.State(); got != StateDisconnected {
		t.Fatalf("state = %s, want DISCONNECTED", got)
	}
}

func TestManagerWriteRetryDelays(t *testing.T) {
	fx := newFixture(t)
	gw := newFakeGateway()
	errBoom := errors.New("boom")
	gw.putErrs = []error{errBoom, errBoom}
	fx.attach(gw)

	fx.connect()
	fx.waitCall("put")

	// Ticker plus the armed backoff timer.
	fx.clk.BlockUntil(2)
	fx.clk.Advance(time.Second)
	fx.waitCall("put")

	// The second backoff doubles; one more second must not fire it.
	fx.clk.BlockUntil(2)
	fx.clk.Advance(time.Second)
	fx.expectNoCall()
	fx.clk.Advance(time.Second)
	fx.waitCall("put")

	fx.waitLogMessage("session record written")
	puts := gw.allPuts()
	if len(puts) != 3 {
		t.Fatalf("put attempts = %d, want 3", len(puts))
	}
	for i, p := range puts {
		if p.StartedAt != puts[0].StartedAt || *p.EndTime != *puts[0].EndTime {
			t.Fatalf("attempt %d wrote a different record", i)
		}
	}
	if n := fx.logs.countMessage("session record write failed"); n != 0 {
		t.Fatalf("write reported as failed despite eventual success")
	}
}

func TestManagerWriteFailureKeepsCountdown(t *testing.T) {
	fx := newFixture(t)
	gw := newFakeGateway()
	errBoom := errors.New("boom")
	gw.putErrs = []error{errBoom, errBoom, errBoom}
	fx.attach(gw)

	fx.connect()
	if got := fx.waitTick(); got != 600 {
		t.Fatalf("initial tick = %d, want 600", got)
	}
	fx.waitCall("put")

	fx.clk.BlockUntil(2)
	fx.clk.Advance(time.Second)
	fx.waitCall("put")
	fx.clk.BlockUntil(2)
	fx.clk.Advance(2 * time.Second)
	fx.waitCall("put")

	ev := fx.waitLogMessage("session record write failed")
	if ev.Severity != log.SeverityWarn {
		t.Fatalf("failure severity = %s, want WARN", ev.Severity)
	}
	if ev.Error == nil || ev.Error.Message == "" {
		t.Fatalf("failure event carries no error detail: %+v", ev)
	}

	// The countdown never noticed.
	if got := fx.manager.State(); got != StateConnected {
		t.Fatalf("state = %s, want CONNECTED", got)
	}
	fx.drainTicks(50 * time.Millisecond)
	if got := fx.step(); got <= 0 || got >= 600 {
		t.Fatalf("tick after failed write = %d", got)
	}
	if got := gw.putCount(); got != 3 {
		t.Fatalf("put attempts = %d, want 3", got)
	}
}

func TestManagerStopAbandonsRetry(t *testing.T) {
	fx := newFixture(t)
	gw := newFakeGateway()
	errBoom := errors.New("boom")
	gw.putErrs = []error{errBoom, errBoom, errBoom}
	fx.attach(gw)

	fx.connect()
	fx.waitCall("put")
	fx.clk.BlockUntil(2)

	if err := fx.manager.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	fx.waitLogMessage("session record write abandoned")

	if got := gw.putCount(); got != 1 {
		t.Fatalf("put attempts after stop = %d, want 1", got)
	}
	if n := fx.logs.countMessage("session record write failed"); n != 0 {
		t.Fatalf("abandoned write reported as failed")
	}
}

func TestManagerRemotePush(t *testing.T) {
	fx := newFixture(t)
	gw := newFakeGateway()
	fx.attach(gw)

	end := testStart.Add(5 * time.Minute)
	rec := record.New(testStart, end)
	gw.push(&rec)

	fx.expectTransition(StateDisconnected, StateConnected, ReasonRemoteSync)
	if got := fx.waitTick(); got != 300 {
		t.Fatalf("tick = %d, want 300", got)
	}
	got, ok := fx.manager.EndTime()
	if !ok || !got.Equal(end) {
		t.Fatalf("end time = %v (%v), want %v", got, ok, end)
	}
	if got := fx.step(); got != 299 {
		t.Fatalf("tick = %d, want 299", got)
	}
	// Adopting a pushed session writes nothing back.
	fx.expectNoCall()
}

func TestManagerRemotePushReanchors(t *testing.T) {
	fx := newFixture(t)
	gw := newFakeGateway()
	fx.attach(gw)

	fx.connect()
	fx.waitTick()
	fx.waitTransition()
	fx.waitCall("put")

	end := testStart.Add(2 * time.Minute)
	rec := record.New(testStart, end)
	gw.push(&rec)

	// Still connected, but the countdown re-anchors to the pushed
	// end time.
	if got := fx.waitTick(); got != 120 {
		t.Fatalf("tick = %d, want 120", got)
	}
	fx.expectNoTransition()
	got, _ := fx.manager.EndTime()
	if !got.Equal(end) {
		t.Fatalf("end time = %v, want %v", got, end)
	}
	if got := fx.step(); got != 119 {
		t.Fatalf("tick = %d, want 119", got)
	}
}

func TestManagerRemoteClearWins(t *testing.T) {
	fx := newFixture(t)
	gw := newFakeGateway()
	fx.attach(gw)

	end := testStart.Add(5 * time.Minute)
	rec := record.New(testStart, end)
	gw.push(&rec)
	fx.waitTransition()
	fx.waitTick()

	// An absent document ends the session without a write back.
	gw.push(nil)
	fx.expectTransition(StateConnected, StateDisconnected, ReasonRemoteSync)
	fx.clk.Advance(time.Second)
	fx.expectNoTick()
	if got := gw.clearCount(); got != 0 {
		t.Fatalf("clears = %d, want 0", got)
	}

	// Same for a present document with a cleared end time.
	gw.push(&rec)
	fx.waitTransition()
	fx.waitTick()
	cleared := rec.Clone()
	cleared.ClearEndTime()
	gw.push(&cleared)
	fx.expectTransition(StateConnected, StateDisconnected, ReasonRemoteSync)
	fx.clk.Advance(time.Second)
	fx.expectNoTick()
}

func TestManagerEchoedWriteIgnored(t *testing.T) {
	fx := newFixture(t)
	gw := newFakeGateway()
	fx.attach(gw)

	fx.connect()
	fx.waitTick()
	fx.waitTransition()
	fx.waitCall("put")

	// The store pushes our own write back to us.
	echo := gw.lastPut()
	gw.push(&echo)

	fx.expectNoTransition()
	fx.expectNoTick()
	end, _ := fx.manager.EndTime()
	if !end.Equal(testStart.Add(10 * time.Minute)) {
		t.Fatalf("end time moved on echo: %v", end)
	}
}

func TestManagerStalePushWhileConnected(t *testing.T) {
	fx := newFixture(t)
	gw := newFakeGateway()
	fx.attach(gw)

	fx.connect()
	fx.waitTick()
	fx.waitTransition()
	fx.waitCall("put")

	stale := record.New(testStart.Add(-time.Hour), testStart.Add(-time.Second))
	gw.push(&stale)

	if got := fx.waitTick(); got != 0 {
		t.Fatalf("tick = %d, want 0", got)
	}
	fx.expectTransition(StateConnected, StateDisconnected, ReasonExpired)
	fx.waitCall("clear")
	fx.clk.Advance(time.Second)
	fx.expectNoTick()
}

func TestManagerStalePushWhileDisconnected(t *testing.T) {
	fx := newFixture(t)
	gw := newFakeGateway()
	fx.attach(gw)

	stale := record.New(testStart.Add(-time.Hour), testStart.Add(-time.Second))
	gw.push(&stale)

	// The stale field gets cleaned up; the local state never moves.
	fx.waitCall("clear")
	fx.expectNoTransition()
	fx.expectNoTick()
	if got := fx.manager.State(); got != StateDisconnected {
		t.Fatalf("state = %s, want DISCONNECTED", got)
	}
}

func TestManagerPrimingAdoptsRemoteSession(t *testing.T) {
	fx := newFixture(t)
	gw := newFakeGateway()
	end := testStart.Add(2 * time.Minute)
	prime := record.New(testStart.Add(-time.Minute), end)
	gw.prime = &prime

	fx.attach(gw)

	fx.expectTransition(StateDisconnected, StateConnected, ReasonRemoteSync)
	if got := fx.waitTick(); got != 120 {
		t.Fatalf("tick = %d, want 120", got)
	}
	if got := fx.manager.Remaining(); got != 120 {
		t.Fatalf("remaining = %d, want 120", got)
	}
}

func TestManagerSubSecondRemainder(t *testing.T) {
	fx := newFixture(t)
	gw := newFakeGateway()
	fx.attach(gw)

	end := testStart.Add(1500 * time.Millisecond)
	rec := record.New(testStart, end)
	gw.push(&rec)
	fx.waitTransition()
	if got := fx.waitTick(); got != 1 {
		t.Fatalf("tick = %d, want 1", got)
	}

	// 500ms remain: the floored value is zero but the session has
	// not expired yet.
	if got := fx.step(); got != 0 {
		t.Fatalf("tick = %d, want 0", got)
	}
	fx.expectNoTransition()
	if got := fx.manager.State(); got != StateConnected {
		t.Fatalf("state = %s, want CONNECTED", got)
	}

	if got := fx.step(); got != 0 {
		t.Fatalf("final tick = %d, want 0", got)
	}
	fx.expectTransition(StateConnected, StateDisconnected, ReasonExpired)
}

func TestManagerNoticeOncePerCountdown(t *testing.T) {
	fx := newFixture(t, func(c *Config) { c.Duration = 90 * time.Second })
	fx.attach(newFakeGateway())

	fx.connect()
	fx.waitTick()
	fx.waitTransition()
	fx.waitCall("put")

	for i := 1; i <= 30; i++ {
		fx.step()
	}
	fx.waitLogMessage("one minute remaining")
	for i := 31; i <= 40; i++ {
		fx.step()
	}
	if n := fx.logs.countMessage("one minute remaining"); n != 1 {
		t.Fatalf("notice count = %d, want 1", n)
	}

	fx.disconnect()
	fx.waitTransition()
	fx.waitCall("clear")

	// A fresh countdown warns again.
	fx.connect()
	fx.waitTick()
	fx.waitTransition()
	fx.waitCall("put")
	for i := 1; i <= 30; i++ {
		fx.step()
	}
	fx.waitLogMessage("one minute remaining")
	if n := fx.logs.countMessage("one minute remaining"); n != 2 {
		t.Fatalf("notice count after reconnect = %d, want 2", n)
	}
}

func TestManagerSubscriptionErrorKeepsCountdown(t *testing.T) {
	fx := newFixture(t)
	gw := newFakeGateway()
	fx.attach(gw)

	fx.connect()
	fx.waitTick()
	fx.waitTransition()
	fx.waitCall("put")

	gw.failSubscription(errors.New("stream broken"))
	ev := fx.waitLogMessage("subscription lost, continuing with local countdown")
	if ev.Severity != log.SeverityWarn {
		t.Fatalf("severity = %s, want WARN", ev.Severity)
	}

	if got := fx.manager.State(); got != StateConnected {
		t.Fatalf("state = %s, want CONNECTED", got)
	}
	if got := fx.step(); got != 599 {
		t.Fatalf("tick after subscription loss = %d, want 599", got)
	}
}

func TestManagerLocalOnly(t *testing.T) {
	fx := newFixture(t)

	fx.connect()
	if got := fx.waitTick(); got != 600 {
		t.Fatalf("tick = %d, want 600", got)
	}
	fx.expectTransition(StateDisconnected, StateConnected, ReasonNone)
	fx.step()

	fx.disconnect()
	fx.expectTransition(StateConnected, StateDisconnected, ReasonUserStopped)
	fx.clk.Advance(time.Second)
	fx.expectNoTick()
}

func TestManagerAttachErrors(t *testing.T) {
	t.Run("NotStarted", func(t *testing.T) {
		m := NewManager(Config{Clock: clock.NewFake(testStart)})
		err := m.Attach(context.Background(), newFakeGateway())
		if !errors.Is(err, ErrNotStarted) {
			t.Fatalf("Attach = %v, want ErrNotStarted", err)
		}
	})

	t.Run("SubscribeFails", func(t *testing.T) {
		fx := newFixture(t)
		gw := newFakeGateway()
		subErr := errors.New("no subscription")
		gw.subErr = subErr

		err := fx.manager.Attach(context.Background(), gw)
		if !errors.Is(err, subErr) {
			t.Fatalf("Attach = %v, want wrapped %v", err, subErr)
		}

		// The manager stays usable in local-only mode.
		fx.gateway = gw
		fx.connect()
		if got := fx.waitTick(); got != 600 {
			t.Fatalf("tick = %d, want 600", got)
		}
		fx.expectNoCall()
	})

	t.Run("AlreadyAttached", func(t *testing.T) {
		fx := newFixture(t)
		fx.attach(newFakeGateway())
		err := fx.manager.Attach(context.Background(), newFakeGateway())
		if !errors.Is(err, ErrAlreadyAttached) {
			t.Fatalf("second Attach = %v, want ErrAlreadyAttached", err)
		}
	})
}

func TestManagerUnsubscribesOnStop(t *testing.T) {
	fx := newFixture(t)
	gw := newFakeGateway()
	fx.attach(gw)

	if err := fx.manager.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	gw.mu.Lock()
	unsubscribed := gw.unsubscribed
	gw.mu.Unlock()
	if !unsubscribed {
		t.Fatal("gateway subscription survived Stop")
	}
}

func TestManagerTwoObserversConverge(t *testing.T) {
	clk := clock.NewFake(testStart)
	gw := store.NewMemoryGateway()
	ctx := context.Background()

	newObserver := func() (*Manager, *recorder) {
		t.Helper()
		rec := newRecorder()
		m := NewManager(Config{
			Duration:     10 * time.Minute,
			TickInterval: time.Second,
			Clock:        clk,
			Retry:        retry.Config{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2},
		})
		m.OnTick(rec.onTick)
		m.OnStateChange(rec.onStateChange)
		if err := m.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		t.Cleanup(func() { _ = m.Stop() })
		if err := m.Attach(ctx, gw); err != nil {
			t.Fatalf("attach: %v", err)
		}
		return m, rec
	}

	waitTransition := func(r *recorder) transition {
		t.Helper()
		select {
		case tr := <-r.changeCh:
			return tr
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for state change")
			return transition{}
		}
	}

	waitTick := func(r *recorder) int64 {
		t.Helper()
		select {
		case v := <-r.tickCh:
			return v
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for tick")
			return 0
		}
	}

	a, ra := newObserver()
	b, rb := newObserver()

	if err := a.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if tr := waitTransition(ra); tr.newState != StateConnected || tr.reason != ReasonNone {
		t.Fatalf("a transition = %+v", tr)
	}
	if tr := waitTransition(rb); tr.newState != StateConnected || tr.reason != ReasonRemoteSync {
		t.Fatalf("b transition = %+v", tr)
	}

	endA, okA := a.EndTime()
	endB, okB := b.EndTime()
	if !okA || !okB {
		t.Fatalf("end times missing: a=%v b=%v", okA, okB)
	}
	if !endA.Equal(endB) {
		t.Fatalf("observers disagree: a=%v b=%v", endA, endB)
	}

	// Both countdowns tick against the same absolute end time.
	waitTick(ra)
	waitTick(rb)
	clk.Advance(time.Second)
	tickA := waitTick(ra)
	tickB := waitTick(rb)
	if tickA != 599 || tickB != 599 {
		t.Fatalf("ticks diverge: a=%d b=%d", tickA, tickB)
	}

	if err := a.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if tr := waitTransition(ra); tr.reason != ReasonUserStopped {
		t.Fatalf("a stop transition = %+v", tr)
	}
	if tr := waitTransition(rb); tr.newState != StateDisconnected || tr.reason != ReasonRemoteSync {
		t.Fatalf("b stop transition = %+v", tr)
	}
	if got := b.Remaining(); got != 0 {
		t.Fatalf("b remaining after remote stop = %d", got)
	}
}
