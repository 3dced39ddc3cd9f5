package store

import (
	"context"
	"errors"

	"github.com/scooked-app/scooked-go/pkg/record"
)

// Gateway errors.
var (
	// ErrPersistence wraps write failures (Put or ClearEndTime). The
	// caller's countdown is unaffected; the write is simply not durable.
	ErrPersistence = errors.New("persistence failed")

	// ErrSubscription wraps a broken push channel. It is reported at
	// most once per subscription and is terminal: the gateway never
	// resubscribes on its own.
	ErrSubscription = errors.New("subscription broken")

	// ErrGatewayClosed is returned for operations on a closed gateway.
	ErrGatewayClosed = errors.New("gateway is closed")

	// ErrRequestTimeout is returned when the store does not answer a
	// request in time.
	ErrRequestTimeout = errors.New("request timed out")
)

// Gateway is the session store as seen by the session manager.
type Gateway interface {
	// Put durably replaces the session record for this identity.
	// Last write wins. Failures wrap ErrPersistence.
	Put(ctx context.Context, rec record.Session) error

	// ClearEndTime durably clears the endTime field, leaving the rest
	// of the record in place. Clearing an absent document succeeds as
	// a no-op, so retries are safe. Failures wrap ErrPersistence.
	ClearEndTime(ctx context.Context) error

	// Subscribe registers onChange for pushes of the session record.
	// onChange is primed with the current state before Subscribe
	// returns; a nil record means the document is absent. onError
	// fires at most once, after which no further pushes arrive.
	Subscribe(ctx context.Context, onChange func(*record.Session), onError func(error)) (Subscription, error)
}

// Subscription is the handle returned by Gateway.Subscribe.
type Subscription interface {
	// Unsubscribe detaches the listener. Idempotent.
	Unsubscribe()
}
