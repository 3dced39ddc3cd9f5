package store

import (
	"context"
	"sync"

	"github.com/scooked-app/scooked-go/pkg/record"
)

// MemoryGateway is an in-process Gateway. It holds a single session
// document and pushes changes to subscribers synchronously.
type MemoryGateway struct {
	mu        sync.Mutex
	doc       *record.Session
	subs      map[uint32]*memorySubscription
	nextSubID uint32
}

// NewMemoryGateway creates an empty in-process gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		subs: make(map[uint32]*memorySubscription),
	}
}

// Put replaces the session record.
func (g *MemoryGateway) Put(ctx context.Context, rec record.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	clone := rec.Clone()
	g.doc = &clone
	subs := g.subscribers()
	g.mu.Unlock()

	g.notify(subs)
	return nil
}

// ClearEndTime clears the endTime field. Clearing an absent document
// or an already-clear record is a success no-op without notification.
func (g *MemoryGateway) ClearEndTime(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	if g.doc == nil || g.doc.EndTime == nil {
		g.mu.Unlock()
		return nil
	}
	g.doc.ClearEndTime()
	subs := g.subscribers()
	g.mu.Unlock()

	g.notify(subs)
	return nil
}

// Subscribe registers onChange and primes it with the current state
// before returning. onError never fires: there is no transport to
// break.
func (g *MemoryGateway) Subscribe(ctx context.Context, onChange func(*record.Session), onError func(error)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &memorySubscription{gateway: g, onChange: onChange}

	// Hold the subscription's delivery lock through registration and
	// priming so a concurrent Put cannot deliver ahead of the priming
	// snapshot.
	sub.mu.Lock()
	g.mu.Lock()
	g.nextSubID++
	sub.id = g.nextSubID
	g.subs[sub.id] = sub
	snapshot := g.cloneDocLocked()
	g.mu.Unlock()

	sub.deliverLocked(snapshot)
	sub.mu.Unlock()

	return sub, nil
}

// Current returns a copy of the stored record, or nil when the
// document is absent.
func (g *MemoryGateway) Current() *record.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cloneDocLocked()
}

// cloneDocLocked returns a copy of the document. Caller holds g.mu.
func (g *MemoryGateway) cloneDocLocked() *record.Session {
	if g.doc == nil {
		return nil
	}
	clone := g.doc.Clone()
	return &clone
}

// subscribers snapshots the subscriber list. Caller holds g.mu.
func (g *MemoryGateway) subscribers() []*memorySubscription {
	subs := make([]*memorySubscription, 0, len(g.subs))
	for _, sub := range g.subs {
		subs = append(subs, sub)
	}
	return subs
}

// notify delivers the current state to each subscriber outside g.mu.
// Each subscriber gets its own copy.
func (g *MemoryGateway) notify(subs []*memorySubscription) {
	for _, sub := range subs {
		g.mu.Lock()
		snapshot := g.cloneDocLocked()
		g.mu.Unlock()
		sub.deliver(snapshot)
	}
}

type memorySubscription struct {
	gateway  *MemoryGateway
	id       uint32
	mu       sync.Mutex
	dead     bool
	onChange func(*record.Session)
}

func (s *memorySubscription) deliver(rec *record.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliverLocked(rec)
}

// deliverLocked invokes onChange. Caller holds s.mu.
func (s *memorySubscription) deliverLocked(rec *record.Session) {
	if s.dead {
		return
	}
	if s.onChange != nil {
		s.onChange(rec)
	}
}

// Unsubscribe detaches the listener. Idempotent.
func (s *memorySubscription) Unsubscribe() {
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return
	}
	s.dead = true
	s.mu.Unlock()

	g := s.gateway
	g.mu.Lock()
	delete(g.subs, s.id)
	g.mu.Unlock()
}

var (
	_ Gateway      = (*MemoryGateway)(nil)
	_ Subscription = (*memorySubscription)(nil)
)
