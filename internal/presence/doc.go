// Package presence tracks which users are reachable and through which live
// connections.
//
// # Overview
//
// The presence package is the leaf of the messaging core: the lifecycle
// engine asks it which connections to fan a message out to, and the transport
// layer registers and releases connections as clients come and go. Presence
// state is never persisted; it is reconstructed per process lifetime.
//
// # Registry
//
// The Registry tracks per-user presence entries:
//
//	reg := presence.NewRegistry(logger)
//
// Key operations:
//
//   - Touch(userID): Create a presence entry at authentication
//   - Authenticate(conn): Register a live connection, announce reachability
//   - Release(conn): Remove a connection on disconnect, record last-seen
//   - Resolve(userID): Live connections for fan-out (empty when unreachable)
//   - PushToUser(userID, ev): Deliver an event to all of a user's connections
//
// # Connection
//
// Connection is one live channel of a user (a user may hold several, e.g.
// multiple devices). Each carries a buffered outbound Event channel that the
// transport drains; pushes never block, slow consumers drop events instead.
package presence
