package log

import (
	"fmt"
	"strings"
	"time"
)

// Event represents a session trace event captured by any component.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// Severity classifies how serious the event is.
	Severity Severity `cbor:"2,keyasint"`

	// Component that emitted the event.
	Component Component `cbor:"3,keyasint"`

	// Message is the human-readable event text.
	Message string `cbor:"4,keyasint"`

	// Identity is the session identity token (populated once resolved).
	Identity string `cbor:"5,keyasint,omitempty"`

	// ConnectionID uniquely identifies the store connection (UUID).
	ConnectionID string `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (at most one of these will be set).
	StateChange *StateChangeEvent `cbor:"8,keyasint,omitempty"`  // Lifecycle transitions
	Countdown   *CountdownEvent   `cbor:"9,keyasint,omitempty"`  // Timer ticks
	Error       *ErrorEventData   `cbor:"10,keyasint,omitempty"` // Failures at any component
	Frame       *FrameEvent       `cbor:"11,keyasint,omitempty"` // Wire frames
}

// Severity classifies how serious an event is.
type Severity uint8

const (
	// SeverityDebug marks diagnostic chatter (timer ticks, frame traffic).
	SeverityDebug Severity = 0
	// SeverityInfo marks normal operation.
	SeverityInfo Severity = 1
	// SeverityWarn marks degraded but recoverable conditions.
	SeverityWarn Severity = 2
	// SeverityError marks failures.
	SeverityError Severity = 3
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch {
	case strings.EqualFold(s, "debug"):
		return SeverityDebug, nil
	case strings.EqualFold(s, "info"):
		return SeverityInfo, nil
	case strings.EqualFold(s, "warn"), strings.EqualFold(s, "warning"):
		return SeverityWarn, nil
	case strings.EqualFold(s, "error"):
		return SeverityError, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}

// Component indicates which part of the stack emitted the event.
type Component uint8

const (
	// ComponentSession is the session lifecycle manager.
	ComponentSession Component = 0
	// ComponentStore is the store gateway (client side).
	ComponentStore Component = 1
	// ComponentTransport is the framing layer.
	ComponentTransport Component = 2
	// ComponentDiscovery is mDNS advertisement and browsing.
	ComponentDiscovery Component = 3
	// ComponentService is the store daemon service layer.
	ComponentService Component = 4
	// ComponentIdentity is identity resolution.
	ComponentIdentity Component = 5
)

// String returns the component name.
func (c Component) String() string {
	switch c {
	case ComponentSession:
		return "SESSION"
	case ComponentStore:
		return "STORE"
	case ComponentTransport:
		return "TRANSPORT"
	case ComponentDiscovery:
		return "DISCOVERY"
	case ComponentService:
		return "SERVICE"
	case ComponentIdentity:
		return "IDENTITY"
	default:
		return "UNKNOWN"
	}
}

// ParseComponent parses a component name, case-insensitively.
func ParseComponent(s string) (Component, error) {
	switch {
	case strings.EqualFold(s, "session"):
		return ComponentSession, nil
	case strings.EqualFold(s, "store"):
		return ComponentStore, nil
	case strings.EqualFold(s, "transport"):
		return ComponentTransport, nil
	case strings.EqualFold(s, "discovery"):
		return ComponentDiscovery, nil
	case strings.EqualFold(s, "service"):
		return ComponentService, nil
	case strings.EqualFold(s, "identity"):
		return ComponentIdentity, nil
	default:
		return 0, fmt.Errorf("unknown component %q", s)
	}
}

// StateChangeEvent captures session and connection lifecycle transitions.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the state entered.
	NewState string `cbor:"2,keyasint"`

	// Reason for the transition (if one applies).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// CountdownEvent captures one countdown tick.
type CountdownEvent struct {
	// Remaining is the whole seconds left until expiry.
	Remaining int64 `cbor:"1,keyasint"`

	// EndTime is the expiry instant in Unix milliseconds.
	EndTime int64 `cbor:"2,keyasint,omitempty"`
}

// ErrorEventData captures a failure.
type ErrorEventData struct {
	// Message is the error text.
	Message string `cbor:"1,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"2,keyasint,omitempty"`
}

// Direction indicates whether a frame was sent or received.
type Direction uint8

const (
	// DirectionIn marks a received frame.
	DirectionIn Direction = 0
	// DirectionOut marks a sent frame.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures one wire frame passing through the framing layer.
type FrameEvent struct {
	// Direction of the frame relative to this process.
	Direction Direction `cbor:"1,keyasint"`

	// Size is the total frame size in bytes, length prefix included.
	Size int `cbor:"2,keyasint"`

	// Data is the frame payload, possibly truncated for large frames.
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Truncated reports whether Data was cut to the trace size limit.
	Truncated bool `cbor:"4,keyasint,omitempty"`
}
