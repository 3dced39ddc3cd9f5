// Package store connects the session manager to the remote document
// store.
//
// The Gateway interface is the manager's entire view of the store:
// durable Put, idempotent ClearEndTime, and a Subscribe that primes the
// listener with the current record and then pushes every change. A nil
// record in a push means the document is absent, which is a valid state
// distinct from a record whose end time is cleared.
//
// Two implementations are provided:
//
//   - RemoteGateway speaks the wire protocol over a managed transport
//     connection: request/response correlation by message ID, a single
//     receive pump dispatching responses and notifications, and
//     at-most-once error reporting per subscription.
//   - MemoryGateway keeps the document in process. It backs tests and
//     store-less operation with the exact same contract.
//
// Gateway failures are never fatal to the session manager: writes that
// fail after retries degrade to a local-only countdown, and a broken
// subscription is reported once and never reattached.
package store
