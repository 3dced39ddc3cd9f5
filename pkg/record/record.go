// Package record defines the session document shared between clients and
// the session store, and the identity-scoped path it lives at.
package record

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultScope is the app scope used when none is configured.
const DefaultScope = "scooked"

// Path segments below the identity. Every identity owns exactly one
// session document.
const (
	collectionSegment = "scooked_session"
	documentSegment   = "active_session"
)

// Path construction errors.
var (
	ErrEmptyScope     = errors.New("scope is empty")
	ErrEmptyIdentity  = errors.New("identity is empty")
	ErrInvalidSegment = errors.New("path segment contains '/'")
)

// Session is the remote session document, one per identity.
//
// EndTime is the absolute session end in milliseconds since the Unix
// epoch, or nil when no session is active. Its presence, not its value
// relative to now, signals that a session was requested; staleness is
// detected by the observer. The document itself is never deleted, a
// stop or expiry only clears the endTime field.
//
// StartedAt records when the session was created and is informational.
type Session struct {
	EndTime   *int64 `cbor:"1,keyasint" json:"endTime"`
	StartedAt int64  `cbor:"2,keyasint" json:"startedAt"`
}

// New returns a Session starting at startedAt and ending at endTime.
func New(startedAt, endTime time.Time) Session {
	end := Millis(endTime)
	return Session{
		EndTime:   &end,
		StartedAt: Millis(startedAt),
	}
}

// HasEndTime reports whether an end time is set.
func (s Session) HasEndTime() bool {
	return s.EndTime != nil
}

// EndTimeValue returns the end time as a time.Time.
// The second return value is false when no end time is set.
func (s Session) EndTimeValue() (time.Time, bool) {
	if s.EndTime == nil {
		return time.Time{}, false
	}
	return FromMillis(*s.EndTime), true
}

// StartedAtTime returns the creation instant as a time.Time.
func (s Session) StartedAtTime() time.Time {
	return FromMillis(s.StartedAt)
}

// ActiveAt reports whether the session has an end time that is still in
// the future at the given instant.
func (s Session) ActiveAt(now time.Time) bool {
	end, ok := s.EndTimeValue()
	if !ok {
		return false
	}
	return end.After(now)
}

// ClearEndTime removes the end time, leaving startedAt untouched.
func (s *Session) ClearEndTime() {
	s.EndTime = nil
}

// Clone returns a copy that shares no pointers with the receiver.
func (s Session) Clone() Session {
	out := Session{StartedAt: s.StartedAt}
	if s.EndTime != nil {
		end := *s.EndTime
		out.EndTime = &end
	}
	return out
}

// Millis converts a time.Time to milliseconds since the Unix epoch.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts milliseconds since the Unix epoch to a time.Time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// Path returns the document path for an identity within an app scope:
//
//	<scope>/<identity>/scooked_session/active_session
func Path(scope, identity string) (string, error) {
	if scope == "" {
		return "", ErrEmptyScope
	}
	if identity == "" {
		return "", ErrEmptyIdentity
	}
	if strings.Contains(scope, "/") {
		return "", fmt.Errorf("%w: scope %q", ErrInvalidSegment, scope)
	}
	if strings.Contains(identity, "/") {
		return "", fmt.Errorf("%w: identity %q", ErrInvalidSegment, identity)
	}
	return scope + "/" + identity + "/" + collectionSegment + "/" + documentSegment, nil
}
