package service

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scooked-app/scooked-go/pkg/discovery"
	"github.com/scooked-app/scooked-go/pkg/log"
	"github.com/scooked-app/scooked-go/pkg/persistence"
	"github.com/scooked-app/scooked-go/pkg/record"
	"github.com/scooked-app/scooked-go/pkg/transport"
	"github.com/scooked-app/scooked-go/pkg/wire"
)

// StoreService runs a store daemon: a TCP server holding the session
// document table, answering Put/Clear/Get/Subscribe requests and
// pushing change notifications to subscribers.
//
// The document table is the authority; the snapshot file only carries
// it across restarts. Writes are applied to the table first and the
// snapshot is saved best effort afterwards.
type StoreService struct {
	mu sync.RWMutex

	config StoreServiceConfig
	state  ServiceState

	// storeID names this instance in mDNS advertisements.
	storeID string

	server *transport.Server
	logger log.Logger

	// Document table, keyed by record.Path.
	docsMu sync.RWMutex
	docs   map[string]record.Session

	// Live subscriptions across all connections.
	subs *subscriptionRegistry

	// Snapshot persistence (nil when disabled).
	snapshots *persistence.SnapshotStore

	// mDNS advertisement (nil until started, or injected for tests).
	advertiser discovery.Advertiser

	ctx    context.Context
	cancel context.CancelFunc
}

// NewStoreService creates a new store daemon service.
func NewStoreService(config StoreServiceConfig) (*StoreService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = log.NoopLogger{}
	}

	storeID := config.StoreID
	if storeID == "" {
		storeID = uuid.New().String()[:8]
	}

	s := &StoreService{
		config:  config,
		state:   StateIdle,
		storeID: storeID,
		logger:  config.Logger,
		docs:    make(map[string]record.Session),
		subs:    newSubscriptionRegistry(),
	}

	if config.SnapshotPath != "" {
		s.snapshots = persistence.NewSnapshotStore(config.SnapshotPath)
	}

	return s, nil
}

// State returns the current service state.
func (s *StoreService) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// StoreID returns the identifier used in mDNS advertisements.
func (s *StoreService) StoreID() string {
	return s.storeID
}

// Addr returns the listen address, or nil before Start.
func (s *StoreService) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.server == nil {
		return nil
	}
	return s.server.Addr()
}

// DocumentCount returns the number of documents in the table.
func (s *StoreService) DocumentCount() int {
	s.docsMu.RLock()
	defer s.docsMu.RUnlock()
	return len(s.docs)
}

// SubscriptionCount returns the number of live subscriptions.
func (s *StoreService) SubscriptionCount() int {
	return s.subs.Count()
}

// SetAdvertiser sets the mDNS advertiser (for testing/DI).
func (s *StoreService) SetAdvertiser(advertiser discovery.Advertiser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advertiser = advertiser
}

// Start loads the snapshot, starts listening, and begins advertising.
func (s *StoreService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.snapshots != nil {
		snap, err := s.snapshots.Load()
		if err != nil {
			s.rollback()
			return fmt.Errorf("loading snapshot: %w", err)
		}
		if snap != nil {
			s.docsMu.Lock()
			for path, doc := range snap.Documents {
				s.docs[path] = doc.Clone()
			}
			s.docsMu.Unlock()
			s.logEvent(log.SeverityInfo, fmt.Sprintf("restored %d documents from snapshot", len(snap.Documents)))
		}
	}

	server := transport.NewServer(transport.ServerConfig{
		Address:        s.config.ListenAddress,
		MaxMessageSize: s.config.MaxMessageSize,
		Logger:         s.logger,
		OnDisconnect:   s.handleDisconnect,
		OnMessage:      s.handleMessage,
		OnError:        s.handleTransportError,
	})
	if err := server.Start(s.ctx); err != nil {
		s.rollback()
		return err
	}

	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	if s.config.Advertise {
		if err := s.startAdvertising(s.ctx, server); err != nil {
			// The daemon still serves fixed-address clients.
			s.logEvent(log.SeverityWarn, fmt.Sprintf("mdns advertising failed: %v", err))
		}
	}

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()

	s.logEvent(log.SeverityInfo, fmt.Sprintf("store daemon %s listening on %s", s.storeID, server.Addr()))
	return nil
}

// Stop withdraws the advertisement, closes all connections, and saves
// a final snapshot.
func (s *StoreService) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.state = StateStopping
	advertiser := s.advertiser
	server := s.server
	s.mu.Unlock()

	if advertiser != nil {
		advertiser.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if server != nil {
		server.Stop()
	}

	s.subs.ClearAll()
	s.saveSnapshot()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.logEvent(log.SeverityInfo, "store daemon stopped")
	return nil
}

// rollback returns the service to idle after a failed start.
func (s *StoreService) rollback() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

func (s *StoreService) startAdvertising(ctx context.Context, server *transport.Server) error {
	s.mu.Lock()
	advertiser := s.advertiser
	if advertiser == nil {
		mdns, err := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{
			Interface: s.config.Interface,
			TTL:       s.config.TTL,
		})
		if err != nil {
			s.mu.Unlock()
			return err
		}
		advertiser = mdns
		s.advertiser = mdns
	}
	s.mu.Unlock()

	port := uint16(transport.DefaultPort)
	if addr, ok := server.Addr().(*net.TCPAddr); ok {
		port = uint16(addr.Port)
	}

	return advertiser.Advertise(ctx, &discovery.StoreInfo{
		StoreID: s.storeID,
		Scope:   s.config.Scope,
		Port:    port,
	})
}

// handleDisconnect drops the connection's subscriptions.
func (s *StoreService) handleDisconnect(conn *transport.ServerConn) {
	s.subs.RemoveConn(conn.ConnID())
}

func (s *StoreService) handleTransportError(conn *transport.ServerConn, err error) {
	connID := ""
	if conn != nil {
		connID = conn.ConnID()
	}
	s.logger.Log(log.Event{
		Timestamp:    time.Now(),
		Severity:     log.SeverityDebug,
		Component:    log.ComponentService,
		Message:      fmt.Sprintf("transport error: %v", err),
		ConnectionID: connID,
	})
}

// handleMessage dispatches one frame from a client connection.
func (s *StoreService) handleMessage(conn *transport.ServerConn, data []byte) {
	kind, err := wire.PeekKind(data)
	if err != nil {
		s.logEvent(log.SeverityWarn, fmt.Sprintf("dropping unreadable frame: %v", err))
		return
	}
	if kind != wire.KindRequest {
		s.logEvent(log.SeverityWarn, fmt.Sprintf("dropping unexpected %s frame", kind))
		return
	}

	// Decode leniently so malformed requests still get a status
	// response instead of silence.
	var req wire.Request
	if err := wire.Unmarshal(data, &req); err != nil {
		s.logEvent(log.SeverityWarn, fmt.Sprintf("dropping malformed request: %v", err))
		return
	}
	if req.MessageID == 0 {
		// Nothing to correlate a response to.
		s.logEvent(log.SeverityWarn, "dropping request with reserved message id 0")
		return
	}

	resp := s.handleRequest(conn, &req)

	payload, err := wire.EncodeResponse(resp)
	if err != nil {
		s.logEvent(log.SeverityError, fmt.Sprintf("encode response: %v", err))
		return
	}
	if err := conn.Send(payload); err != nil {
		s.logEvent(log.SeverityDebug, fmt.Sprintf("response send failed: %v", err))
	}
}

// handleRequest processes a store request and returns the response.
func (s *StoreService) handleRequest(conn *transport.ServerConn, req *wire.Request) *wire.Response {
	resp := &wire.Response{MessageID: req.MessageID}

	path, err := record.Path(req.Scope, req.Identity)
	if err != nil {
		resp.Status = wire.StatusInvalidPath
		resp.Detail = err.Error()
		return resp
	}

	// One store serves one scope; that scope is what the daemon
	// advertises.
	if req.Scope != s.config.Scope {
		resp.Status = wire.StatusInvalidPath
		resp.Detail = fmt.Sprintf("scope %q not served here", req.Scope)
		return resp
	}

	switch req.Operation {
	case wire.OpPut:
		return s.handlePut(path, req, resp)
	case wire.OpClear:
		return s.handleClear(path, resp)
	case wire.OpGet:
		return s.handleGet(path, resp)
	case wire.OpSubscribe:
		return s.handleSubscribe(conn, path, resp)
	case wire.OpUnsubscribe:
		return s.handleUnsubscribe(conn, req, resp)
	default:
		resp.Status = wire.StatusUnsupported
		resp.Detail = fmt.Sprintf("unsupported operation %d", req.Operation)
		return resp
	}
}

// handlePut replaces the document. Last write wins.
func (s *StoreService) handlePut(path string, req *wire.Request, resp *wire.Response) *wire.Response {
	if req.Record == nil {
		resp.Status = wire.StatusInvalidRecord
		resp.Detail = "put without record"
		return resp
	}

	rec := req.Record.Clone()

	s.docsMu.Lock()
	s.docs[path] = rec
	s.docsMu.Unlock()

	s.logEvent(log.SeverityDebug, fmt.Sprintf("put %s", path))
	s.notify(path, &rec)
	s.saveSnapshot()

	resp.Status = wire.StatusSuccess
	return resp
}

// handleClear clears the document's end time. Clearing an absent
// document, or one whose end time is already clear, succeeds without
// a notification.
func (s *StoreService) handleClear(path string, resp *wire.Response) *wire.Response {
	s.docsMu.Lock()
	doc, exists := s.docs[path]
	changed := exists && doc.HasEndTime()
	if changed {
		doc.ClearEndTime()
		s.docs[path] = doc
	}
	s.docsMu.Unlock()

	if changed {
		s.logEvent(log.SeverityDebug, fmt.Sprintf("clear %s", path))
		cleared := doc.Clone()
		s.notify(path, &cleared)
		s.saveSnapshot()
	}

	resp.Status = wire.StatusSuccess
	return resp
}

// handleGet returns the current document; no record key means the
// document is absent.
func (s *StoreService) handleGet(path string, resp *wire.Response) *wire.Response {
	s.docsMu.RLock()
	doc, exists := s.docs[path]
	s.docsMu.RUnlock()

	resp.Status = wire.StatusSuccess
	if exists {
		rec := doc.Clone()
		resp.Record = &rec
	}
	return resp
}

// handleSubscribe registers the connection for pushes on the path and
// primes it with the current document in the response.
func (s *StoreService) handleSubscribe(conn *transport.ServerConn, path string, resp *wire.Response) *wire.Response {
	id := s.subs.Add(path, conn)

	s.docsMu.RLock()
	doc, exists := s.docs[path]
	s.docsMu.RUnlock()

	resp.Status = wire.StatusSuccess
	resp.SubscriptionID = id
	if exists {
		rec := doc.Clone()
		resp.Record = &rec
	}

	s.logEvent(log.SeverityDebug, fmt.Sprintf("subscription %d on %s", id, path))
	return resp
}

func (s *StoreService) handleUnsubscribe(conn *transport.ServerConn, req *wire.Request, resp *wire.Response) *wire.Response {
	if req.SubscriptionID == 0 || !s.subs.Remove(req.SubscriptionID, conn.ConnID()) {
		resp.Status = wire.StatusInvalidSubscription
		resp.Detail = fmt.Sprintf("unknown subscription %d", req.SubscriptionID)
		return resp
	}

	s.logEvent(log.SeverityDebug, fmt.Sprintf("subscription %d cancelled", req.SubscriptionID))
	resp.Status = wire.StatusSuccess
	return resp
}

// notify pushes the new document state to every subscriber of the
// path.
func (s *StoreService) notify(path string, rec *record.Session) {
	for _, reg := range s.subs.Matching(path) {
		payload, err := wire.EncodeNotification(&wire.Notification{
			SubscriptionID: reg.ID,
			Record:         rec,
		})
		if err != nil {
			s.logEvent(log.SeverityError, fmt.Sprintf("encode notification: %v", err))
			return
		}
		if err := reg.Conn.Send(payload); err != nil {
			// The connection is going away; its disconnect callback
			// cleans up the registration.
			s.logEvent(log.SeverityDebug, fmt.Sprintf("notification to %s dropped: %v", reg.ConnID, err))
		}
	}
}

// saveSnapshot writes the document table to disk, best effort.
func (s *StoreService) saveSnapshot() {
	if s.snapshots == nil {
		return
	}

	s.docsMu.RLock()
	docs := make(map[string]record.Session, len(s.docs))
	for path, doc := range s.docs {
		docs[path] = doc.Clone()
	}
	s.docsMu.RUnlock()

	if err := s.snapshots.Save(&persistence.StoreSnapshot{Documents: docs}); err != nil {
		s.logEvent(log.SeverityWarn, fmt.Sprintf("snapshot save failed: %v", err))
	}
}

func (s *StoreService) logEvent(severity log.Severity, message string) {
	s.logger.Log(log.Event{
		Timestamp: time.Now(),
		Severity:  severity,
		Component: log.ComponentService,
		Message:   message,
	})
}
