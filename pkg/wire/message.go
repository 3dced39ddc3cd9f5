package wire

import (
	"fmt"

	"github.com/scooked-app/scooked-go/pkg/record"
)

// CBOR map keys shared by all message kinds.
// Every scooked message is a CBOR map whose key 1 names the kind;
// the remaining keys depend on the kind and are documented on each
// message struct.
const (
	KeyKind      = 1
	KeyMessageID = 2 // correlation ID (request/response); subscription ID (notification); control type (control)
)

// Kind identifies the message kind carried in key 1.
type Kind uint8

const (
	// KindUnknown is the zero value; never valid on the wire.
	KindUnknown Kind = 0

	// KindRequest is a client-to-store request.
	KindRequest Kind = 1

	// KindResponse is a store-to-client response.
	KindResponse Kind = 2

	// KindNotification is a store-to-client subscription update.
	KindNotification Kind = 3

	// KindControl is a transport-level control message (ping/pong/close).
	KindControl Kind = 4
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	case KindControl:
		return "control"
	default:
		return "unknown"
	}
}

// IsValid returns true if the kind is a valid wire kind.
func (k Kind) IsValid() bool {
	return k >= KindRequest && k <= KindControl
}

// Request represents a client-to-store request.
//
// CBOR encoding:
//
//	{
//	  1: kind,        // uint8: 1 = request
//	  2: messageId,   // uint32: nonzero, echoed in the response
//	  3: operation,   // uint8: 1=Put, 2=Clear, 3=Get, 4=Subscribe, 5=Unsubscribe
//	  4: scope,       // string: application scope
//	  5: identity,    // string: identity token
//	  6: record,      // session record (Put only)
//	  7: subscriptionId // uint32 (Unsubscribe only)
//	}
type Request struct {
	Kind           Kind            `cbor:"1,keyasint"`
	MessageID      uint32          `cbor:"2,keyasint"`
	Operation      Operation       `cbor:"3,keyasint"`
	Scope          string          `cbor:"4,keyasint"`
	Identity       string          `cbor:"5,keyasint"`
	Record         *record.Session `cbor:"6,keyasint,omitempty"`
	SubscriptionID uint32          `cbor:"7,keyasint,omitempty"`
}

// Validate checks if the request is valid.
func (r *Request) Validate() error {
	if r.Kind != KindRequest {
		return fmt.Errorf("wrong kind for request: %d", r.Kind)
	}
	if r.MessageID == 0 {
		return fmt.Errorf("messageId 0 is reserved")
	}
	if !r.Operation.IsValid() {
		return fmt.Errorf("invalid operation: %d", r.Operation)
	}
	if r.Scope == "" {
		return fmt.Errorf("missing scope")
	}
	if r.Identity == "" {
		return fmt.Errorf("missing identity")
	}
	if r.Operation == OpPut && r.Record == nil {
		return fmt.Errorf("put request without record")
	}
	if r.Operation == OpUnsubscribe && r.SubscriptionID == 0 {
		return fmt.Errorf("unsubscribe request without subscription id")
	}
	return nil
}

// Response represents a store-to-client response.
//
// A Get or Subscribe response with no record key means the document
// is absent, which is a valid state (not an error).
//
// CBOR encoding:
//
//	{
//	  1: kind,           // uint8: 2 = response
//	  2: messageId,      // uint32: matches the request
//	  3: status,         // uint8: 0 = success, or error code
//	  4: record,         // session record (Get/Subscribe, when present)
//	  5: subscriptionId, // uint32 (Subscribe only)
//	  6: detail          // string: human-readable error detail
//	}
type Response struct {
	Kind           Kind            `cbor:"1,keyasint"`
	MessageID      uint32          `cbor:"2,keyasint"`
	Status         Status          `cbor:"3,keyasint"`
	Record         *record.Session `cbor:"4,keyasint,omitempty"`
	SubscriptionID uint32          `cbor:"5,keyasint,omitempty"`
	Detail         string          `cbor:"6,keyasint,omitempty"`
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status.IsSuccess()
}

// Notification represents a subscription update pushed by the store.
//
// An absent record key means the document is absent. A present record
// whose endTime is null means the session exists with no end time;
// the two cases are distinct on purpose.
//
// CBOR encoding:
//
//	{
//	  1: kind,           // uint8: 3 = notification
//	  2: subscriptionId, // uint32
//	  3: record          // session record, absent if document absent
//	}
type Notification struct {
	Kind           Kind            `cbor:"1,keyasint"`
	SubscriptionID uint32          `cbor:"2,keyasint"`
	Record         *record.Session `cbor:"3,keyasint,omitempty"`
}

// ControlMessage represents a transport-level control message.
// These are separate from the request/response/notification model.
//
// CBOR encoding:
//
//	{
//	  1: kind,     // uint8: 4 = control
//	  2: type,     // uint8: 1=ping, 2=pong, 3=close
//	  3: sequence  // uint32
//	}
type ControlMessage struct {
	Kind     Kind               `cbor:"1,keyasint"`
	Type     ControlMessageType `cbor:"2,keyasint"`
	Sequence uint32             `cbor:"3,keyasint,omitempty"`
}

// ControlMessageType represents the type of control message.
type ControlMessageType uint8

const (
	// ControlPing is sent to check connection liveness.
	ControlPing ControlMessageType = 1

	// ControlPong is the response to a ping.
	ControlPong ControlMessageType = 2

	// ControlClose initiates graceful connection close.
	ControlClose ControlMessageType = 3
)

// String returns the control message type name.
func (t ControlMessageType) String() string {
	switch t {
	case ControlPing:
		return "ping"
	case ControlPong:
		return "pong"
	case ControlClose:
		return "close"
	default:
		return "unknown"
	}
}
