package service

import (
	"sync"
	"sync/atomic"

	"github.com/scooked-app/scooked-go/pkg/transport"
)

// registration is one live subscription on the store side.
type registration struct {
	ID     uint32
	Path   string
	ConnID string
	Conn   *transport.ServerConn
}

// subscriptionRegistry tracks which connections subscribed to which
// document paths. IDs are allocated from a single counter so they stay
// unique across connections.
type subscriptionRegistry struct {
	mu     sync.RWMutex
	byID   map[uint32]*registration
	nextID atomic.Uint32
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{
		byID: make(map[uint32]*registration),
	}
}

// Add registers a subscription and returns its assigned ID.
func (r *subscriptionRegistry) Add(path string, conn *transport.ServerConn) uint32 {
	id := r.nextID.Add(1)

	r.mu.Lock()
	r.byID[id] = &registration{
		ID:     id,
		Path:   path,
		ConnID: conn.ConnID(),
		Conn:   conn,
	}
	r.mu.Unlock()

	return id
}

// Remove drops a subscription by ID. The connection ID must match the
// owner; a subscriber cannot cancel someone else's subscription.
// Returns true if the subscription existed and was removed.
func (r *subscriptionRegistry) Remove(id uint32, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, exists := r.byID[id]
	if !exists || reg.ConnID != connID {
		return false
	}
	delete(r.byID, id)
	return true
}

// RemoveConn drops every subscription owned by the connection.
func (r *subscriptionRegistry) RemoveConn(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, reg := range r.byID {
		if reg.ConnID == connID {
			delete(r.byID, id)
		}
	}
}

// Matching returns the subscriptions watching the given path.
func (r *subscriptionRegistry) Matching(path string) []*registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*registration
	for _, reg := range r.byID {
		if reg.Path == path {
			matches = append(matches, reg)
		}
	}
	return matches
}

// Count returns the number of live subscriptions.
func (r *subscriptionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// ClearAll drops every subscription.
func (r *subscriptionRegistry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[uint32]*registration)
}
