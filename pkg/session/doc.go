// Package session implements the local session lifecycle: a countdown
// against an absolute end time, driven by a single event loop that
// serializes ticks, user intents, and remote store pushes.
//
// A Manager starts disconnected. Connect grants a session of the
// configured duration and writes the end time to the attached store
// gateway; the countdown itself runs against the local clock, so a
// failed or slow write degrades to an offline timer instead of blocking
// the session. Remaining time is re-derived from the absolute end time
// on every tick, which keeps the countdown accurate across missed or
// coalesced ticks.
//
// Pushed store state always wins over local state: a pushed end time
// re-anchors the countdown to that instant, and a pushed clear ends the
// session immediately.
package session
