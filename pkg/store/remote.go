package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scooked-app/scooked-go/pkg/log"
	"github.com/scooked-app/scooked-go/pkg/record"
	"github.com/scooked-app/scooked-go/pkg/transport"
	"github.com/scooked-app/scooked-go/pkg/wire"
)

// DefaultRequestTimeout bounds each request round trip to the store.
const DefaultRequestTimeout = 10 * time.Second

// RemoteGatewayConfig configures a RemoteGateway.
type RemoteGatewayConfig struct {
	// Scope is the application scope in document paths.
	// Defaults to record.DefaultScope.
	Scope string

	// Identity is the identity token owning the session document.
	// Required.
	Identity string

	// RequestTimeout bounds each request round trip (default: 10s).
	RequestTimeout time.Duration

	// Connection configures the underlying transport connection.
	Connection transport.ConnectionConfig

	// Logger receives gateway events (optional).
	Logger log.Logger
}

// DefaultRemoteGatewayConfig returns the default gateway configuration.
// Identity must still be set by the caller.
func DefaultRemoteGatewayConfig() RemoteGatewayConfig {
	return RemoteGatewayConfig{
		Scope:          record.DefaultScope,
		RequestTimeout: DefaultRequestTimeout,
		Connection:     transport.DefaultConnectionConfig(),
	}
}

// StatusError is an error response reported by the store.
type StatusError struct {
	Status wire.Status
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Status, e.Detail)
	}
	return e.Status.String()
}

// RemoteGateway is a Gateway backed by a store daemon over a managed
// transport connection.
//
// All incoming frames arrive on the connection's read loop: responses
// are matched to waiting requests by message ID, notifications are
// dispatched to the owning subscription. A connection loss fails every
// pending request and reports ErrSubscription once per live
// subscription; the gateway never reconnects on its own.
type RemoteGateway struct {
	config RemoteGatewayConfig
	logger log.Logger
	conn   *transport.Connection

	nextMsgID atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan *wire.Response

	subsMu sync.Mutex
	subs   map[uint32]*remoteSubscription
	// unclaimed buffers the latest push for a subscription ID whose
	// Subscribe call has not registered its handle yet. Pushes carry
	// absolute state, so only the latest matters.
	unclaimed map[uint32]unclaimedPush

	closed atomic.Bool
}

type unclaimedPush struct {
	rec *record.Session
}

// NewRemoteGateway creates a gateway for the configured scope and
// identity. Call Connect before issuing requests.
func NewRemoteGateway(config RemoteGatewayConfig) (*RemoteGateway, error) {
	if config.Scope == "" {
		config.Scope = record.DefaultScope
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.Logger == nil {
		config.Logger = log.NoopLogger{}
	}

	// Surface malformed scope or identity now rather than on the
	// first request.
	if _, err := record.Path(config.Scope, config.Identity); err != nil {
		return nil, err
	}

	g := &RemoteGateway{
		config:    config,
		logger:    config.Logger,
		pending:   make(map[uint32]chan *wire.Response),
		subs:      make(map[uint32]*remoteSubscription),
		unclaimed: make(map[uint32]unclaimedPush),
	}

	connConfig := config.Connection
	if connConfig.Logger == nil {
		connConfig.Logger = config.Logger
	}
	g.conn = transport.NewConnection(connConfig, &gatewayHandler{gateway: g})

	return g, nil
}

// Connect dials the store daemon.
func (g *RemoteGateway) Connect(ctx context.Context, address string) error {
	if g.closed.Load() {
		return ErrGatewayClosed
	}
	return g.conn.Connect(ctx, address)
}

// State returns the underlying connection state.
func (g *RemoteGateway) State() transport.ConnectionState {
	return g.conn.State()
}

// Close tears the connection down. Pending requests fail and
// subscriptions go quiet without an error report.
func (g *RemoteGateway) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}

	g.failPending()
	for _, sub := range g.takeSubscriptions() {
		sub.quiesce()
	}

	return g.conn.Close()
}

// Put durably replaces the session record. Failures wrap
// ErrPersistence; context cancellation passes through unchanged.
func (g *RemoteGateway) Put(ctx context.Context, rec record.Session) error {
	req := &wire.Request{
		Operation: wire.OpPut,
		Record:    &rec,
	}

	resp, err := g.sendRequest(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: %v", ErrPersistence, responseError(resp))
	}
	return nil
}

// ClearEndTime durably clears the endTime field. Clearing an absent
// document succeeds. Failures wrap ErrPersistence.
func (g *RemoteGateway) ClearEndTime(ctx context.Context) error {
	req := &wire.Request{
		Operation: wire.OpClear,
	}

	resp, err := g.sendRequest(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: %v", ErrPersistence, responseError(resp))
	}
	return nil
}

// Get fetches the current session record. A nil record with a nil
// error means the document is absent.
func (g *RemoteGateway) Get(ctx context.Context) (*record.Session, error) {
	req := &wire.Request{
		Operation: wire.OpGet,
	}

	resp, err := g.sendRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, responseError(resp)
	}
	return resp.Record, nil
}

// Subscribe registers for pushes of the session record. onChange is
// primed with the store's current state before Subscribe returns.
func (g *RemoteGateway) Subscribe(ctx context.Context, onChange func(*record.Session), onError func(error)) (Subscription, error) {
	req := &wire.Request{
		Operation: wire.OpSubscribe,
	}

	resp, err := g.sendRequest(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSubscription, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: %v", ErrSubscription, responseError(resp))
	}

	sub := &remoteSubscription{
		gateway:  g,
		id:       resp.SubscriptionID,
		onChange: onChange,
		onError:  onError,
	}

	// Hold the subscription's delivery lock through registration and
	// priming so a push racing ahead of us cannot be delivered before
	// the priming snapshot.
	sub.mu.Lock()
	g.subsMu.Lock()
	g.subs[sub.id] = sub
	buffered, hasBuffered := g.unclaimed[sub.id]
	delete(g.unclaimed, sub.id)
	g.subsMu.Unlock()

	sub.deliverLocked(resp.Record)
	if hasBuffered {
		// The buffered push was serialized after the subscribe
		// response by the store, so it is newer than the priming
		// snapshot.
		sub.deliverLocked(buffered.rec)
	}
	sub.mu.Unlock()

	return sub, nil
}

// sendRequest fills in the request envelope, sends it, and waits for
// the matching response.
func (g *RemoteGateway) sendRequest(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if g.closed.Load() {
		return nil, ErrGatewayClosed
	}

	req.Kind = wire.KindRequest
	req.MessageID = g.nextMsgID.Add(1)
	req.Scope = g.config.Scope
	req.Identity = g.config.Identity

	respCh := make(chan *wire.Response, 1)

	g.pendingMu.Lock()
	g.pending[req.MessageID] = respCh
	g.pendingMu.Unlock()

	defer func() {
		g.pendingMu.Lock()
		delete(g.pending, req.MessageID)
		g.pendingMu.Unlock()
	}()

	data, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	if err := g.conn.Send(data); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(g.config.RequestTimeout):
		return nil, ErrRequestTimeout
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrGatewayClosed
		}
		return resp, nil
	}
}

// handleMessage dispatches one incoming frame from the read loop.
func (g *RemoteGateway) handleMessage(data []byte) {
	kind, err := wire.PeekKind(data)
	if err != nil {
		g.logEvent(log.SeverityWarn, fmt.Sprintf("dropping unreadable frame: %v", err))
		return
	}

	switch kind {
	case wire.KindResponse:
		resp, err := wire.DecodeResponse(data)
		if err != nil {
			g.logEvent(log.SeverityWarn, fmt.Sprintf("dropping malformed response: %v", err))
			return
		}
		g.dispatchResponse(resp)
	case wire.KindNotification:
		notif, err := wire.DecodeNotification(data)
		if err != nil {
			g.logEvent(log.SeverityWarn, fmt.Sprintf("dropping malformed notification: %v", err))
			return
		}
		g.dispatchNotification(notif)
	default:
		g.logEvent(log.SeverityWarn, fmt.Sprintf("dropping unexpected %s frame", kind))
	}
}

// dispatchResponse hands the response to the waiting request. A
// channel is either sent to once here or closed once in failPending,
// never both: whoever removes it from the map owns it.
func (g *RemoteGateway) dispatchResponse(resp *wire.Response) {
	g.pendingMu.Lock()
	ch, ok := g.pending[resp.MessageID]
	if ok {
		delete(g.pending, resp.MessageID)
	}
	g.pendingMu.Unlock()

	if !ok {
		g.logEvent(log.SeverityDebug, fmt.Sprintf("unmatched response for message %d", resp.MessageID))
		return
	}
	ch <- resp
}

func (g *RemoteGateway) dispatchNotification(notif *wire.Notification) {
	g.subsMu.Lock()
	sub, ok := g.subs[notif.SubscriptionID]
	if !ok {
		g.unclaimed[notif.SubscriptionID] = unclaimedPush{rec: notif.Record}
		g.subsMu.Unlock()
		return
	}
	g.subsMu.Unlock()

	sub.deliver(notif.Record)
}

// handleConnectionDown fails pending requests and reports the
// subscription break. Called from the connection's state handler.
func (g *RemoteGateway) handleConnectionDown() {
	if g.closed.Load() {
		return
	}

	g.failPending()

	err := fmt.Errorf("%w: connection lost", ErrSubscription)
	for _, sub := range g.takeSubscriptions() {
		sub.fail(err)
	}
}

// failPending wakes every waiting request with ErrGatewayClosed.
func (g *RemoteGateway) failPending() {
	g.pendingMu.Lock()
	for id, ch := range g.pending {
		delete(g.pending, id)
		close(ch)
	}
	g.pendingMu.Unlock()
}

// takeSubscriptions empties the subscription registry and returns the
// removed subscriptions.
func (g *RemoteGateway) takeSubscriptions() []*remoteSubscription {
	g.subsMu.Lock()
	defer g.subsMu.Unlock()

	subs := make([]*remoteSubscription, 0, len(g.subs))
	for id, sub := range g.subs {
		delete(g.subs, id)
		subs = append(subs, sub)
	}
	for id := range g.unclaimed {
		delete(g.unclaimed, id)
	}
	return subs
}

func (g *RemoteGateway) logEvent(severity log.Severity, message string) {
	g.logger.Log(log.Event{
		Timestamp: time.Now(),
		Severity:  severity,
		Component: log.ComponentStore,
		Message:   message,
		Identity:  g.config.Identity,
	})
}

// responseError converts an error response into a StatusError.
func responseError(resp *wire.Response) error {
	return &StatusError{Status: resp.Status, Detail: resp.Detail}
}

// gatewayHandler adapts the gateway to the transport's handler
// interface.
type gatewayHandler struct {
	gateway *RemoteGateway
}

func (h *gatewayHandler) OnMessage(msg []byte) {
	h.gateway.handleMessage(msg)
}

func (h *gatewayHandler) OnStateChange(oldState, newState transport.ConnectionState) {
	if newState == transport.StateDisconnected && oldState != transport.StateDisconnected {
		h.gateway.handleConnectionDown()
	}
}

func (h *gatewayHandler) OnError(err error) {
	h.gateway.logEvent(log.SeverityWarn, fmt.Sprintf("connection error: %v", err))
}

type remoteSubscription struct {
	gateway  *RemoteGateway
	id       uint32
	mu       sync.Mutex
	dead     bool
	onChange func(*record.Session)
	onError  func(error)
	errOnce  sync.Once
}

func (s *remoteSubscription) deliver(rec *record.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliverLocked(rec)
}

// deliverLocked invokes onChange. Caller holds s.mu.
func (s *remoteSubscription) deliverLocked(rec *record.Session) {
	if s.dead {
		return
	}
	if s.onChange != nil {
		s.onChange(rec)
	}
}

// fail reports the error once and stops deliveries.
func (s *remoteSubscription) fail(err error) {
	s.errOnce.Do(func() {
		s.mu.Lock()
		s.dead = true
		s.mu.Unlock()
		if s.onError != nil {
			s.onError(err)
		}
	})
}

// quiesce stops deliveries without reporting an error. Used when the
// gateway itself is being closed.
func (s *remoteSubscription) quiesce() {
	s.errOnce.Do(func() {})
	s.mu.Lock()
	s.dead = true
	s.mu.Unlock()
}

// Unsubscribe detaches the listener and tells the store, best effort.
func (s *remoteSubscription) Unsubscribe() {
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return
	}
	s.dead = true
	s.mu.Unlock()

	g := s.gateway
	g.subsMu.Lock()
	delete(g.subs, s.id)
	g.subsMu.Unlock()

	// The store drops the registration when the connection goes away,
	// so a failed unsubscribe only costs dead notifications until then.
	ctx, cancel := context.WithTimeout(context.Background(), g.config.RequestTimeout)
	defer cancel()

	req := &wire.Request{
		Operation:      wire.OpUnsubscribe,
		SubscriptionID: s.id,
	}
	if _, err := g.sendRequest(ctx, req); err != nil {
		g.logEvent(log.SeverityDebug, fmt.Sprintf("unsubscribe %d failed: %v", s.id, err))
	}
}

var (
	_ Gateway                     = (*RemoteGateway)(nil)
	_ Subscription                = (*remoteSubscription)(nil)
	_ transport.ConnectionHandler = (*gatewayHandler)(nil)
)
