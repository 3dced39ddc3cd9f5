// Package persistence provides snapshot persistence for the store daemon.
//
// This package handles the JSON serialization of the document table that
// must survive daemon restarts. The session record is the only durable
// state in the system, so the daemon snapshots it on every mutation and
// reloads it at boot.
package persistence
