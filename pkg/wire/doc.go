// Package wire defines the CBOR wire format for the scooked store protocol.
//
// Messages use CBOR (RFC 8949) with integer keys for efficient encoding.
// All messages are length-prefixed and transmitted over TCP.
//
// # Message Kinds
//
// Every message is a CBOR map whose key 1 names its kind:
//   - Request: Client to store (Put, Clear, Get, Subscribe, Unsubscribe)
//   - Response: Store to client (success or error, echoes the request's
//     message ID)
//   - Notification: Store to client (subscription updates)
//   - Control: Transport-level ping/pong/close
//
// Carrying the kind explicitly makes demultiplexing exact; PeekKind never
// has to guess from the shape of the remaining keys.
//
// # Nullable vs Absent
//
// The protocol distinguishes between nullable values and absent keys:
//   - Record key absent: the session document does not exist
//   - Record present, endTime null: the session exists with no end time
//   - Record present, endTime set: the session counts down to that instant
package wire
