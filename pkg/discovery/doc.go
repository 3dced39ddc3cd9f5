// Package discovery implements mDNS/DNS-SD discovery of session store
// daemons on the local network.
//
// A store daemon advertises one service of type _scooked-store._tcp in
// the local domain. Instance name format: scooked-<store-id>.
// TXT records carry: v (protocol version), scope (app scope), and
// id (store ID).
//
// Clients browse for stores, aggregate addresses across interfaces,
// and skip advertisements whose protocol major version differs from
// their own.
package discovery
