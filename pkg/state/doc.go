// Package state implements the per-session key/value store that drives
// re-rendering.
//
// Every value lives in a cell addressed by a string key. Reading a key
// through [Store.Get] subscribes the reader (identified by its context sid),
// and writing a key through [Store.Set] marks exactly the current subscribers
// dirty. The session drains the dirty set with [Store.PopPendingUpdates] once
// per update pass, so any number of writes between two passes collapse into
// one re-render per affected context.
//
// Keys are namespaced by prefix:
//
//	#name   ephemeral, purged by Cleanup once nothing subscribes to it
//	!name   protocol (location, headers), never part of a snapshot
//	name    durable, included in Snapshot and therefore in the state token
//
// A [Signal] is asserted whenever the dirty set becomes non-empty. The
// session loop waits on it while idle.
package state
