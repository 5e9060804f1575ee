// Package session routes a connection's realtime events.
//
// A Router authenticates each new connection through the identity gate.
// Success binds the connection to an identity: the identity joins presence,
// its room in the hub points at the connection, and the full online set is
// broadcast to everyone. Failure closes the connection with a policy
// violation before any handler runs.
//
// A Session moves Unauthenticated -> Bound -> Closed. While Bound it handles
// frames strictly in arrival order:
//
//   - "message-page" sends the target's profile and shared history to the requester
//   - "new message" stores a message and fans out messages and conversation lists to both participants
//   - "sidebar" sends the requester's conversation list
//   - "seen" marks the peer's messages seen and refreshes both lists
//
// Unknown events and malformed payloads are dropped and reported to the
// Observer; the session stays bound. Closing unbinds the identity unless a
// newer connection for the same identity already replaced this one.
package session
