// Package chat owns the server side of the line-oriented chat relay.
//
// Ownership boundary:
// - accept loop and per-connection sessions
// - handle registry (claim/release, delivery sinks)
// - broadcast and whisper routing
// - admin HTTP and WebSocket gateway surfaces
//
// Wire protocol (one line per message, newline terminated):
//
//	server -> client  SUBMITNAME | NAMEACCEPTED | MESSAGE <text>
//	client -> server  <handle> | <text> | <target/>text
//
// Payloads are not escaped. A payload that spells a directive is relayed as-is.
package chat
