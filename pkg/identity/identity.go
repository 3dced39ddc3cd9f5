// Package identity derives the stable opaque token that scopes a
// client's session document in the store.
//
// The token is not an account: it is a per-installation identifier that
// keeps one client's document separate from another's. FileProvider
// derives it from a random device secret kept on disk, so the token
// survives restarts without any registration step.
package identity

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no identity can be produced. Callers
// treat it as non-fatal: the session manager keeps running with local
// countdowns only.
var ErrUnavailable = errors.New("identity unavailable")

// Provider yields the identity token used in document paths.
type Provider interface {
	// Identity returns the stable opaque token for this installation.
	Identity(ctx context.Context) (string, error)
}

// StaticProvider returns a pre-provisioned token.
type StaticProvider struct {
	token string
}

// NewStaticProvider creates a provider that always returns token.
func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{token: token}
}

// Identity returns the configured token.
func (p *StaticProvider) Identity(ctx context.Context) (string, error) {
	if p.token == "" {
		return "", ErrUnavailable
	}
	return p.token, nil
}

var _ Provider = (*StaticProvider)(nil)
