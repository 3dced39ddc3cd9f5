// Package transport provides the framed TCP transport between session
// clients and the store daemon.
//
// The transport layer handles:
//   - Length-prefixed message framing
//   - Keep-alive ping/pong for connection liveness
//   - Connection state management
//   - Optional frame tracing through pkg/log
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      CBOR Messages             │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// Each frame is a 4-byte big-endian length prefix followed by one CBOR
// message. Frames larger than the configured maximum (64 KB default)
// are rejected on both sides.
//
// # Connection Roles
//
// The store daemon runs a Server, which accepts connections and invokes
// the configured OnConnect/OnMessage/OnDisconnect/OnError callbacks.
// Session clients use either Connection (full duplex, handler driven,
// with integrated keep-alive) or ClientConn (synchronous send/receive,
// for one-shot commands and tests).
//
// # Keep-Alive
//
// Connection liveness is monitored using ping/pong control messages:
//   - Ping interval: 30 seconds
//   - Pong timeout: 5 seconds
//   - Max missed pongs: 3
//   - Maximum detection delay: 95 seconds
//
// The server answers pings but never initiates them; probing is the
// client's job.
package transport
