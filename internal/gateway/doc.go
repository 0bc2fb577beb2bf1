// ABOUTME: Package documentation for the gateway package
// ABOUTME: Describes the HTTP API surface and component wiring

// Package gateway wires the messaging core together and exposes it to
// clients over HTTP.
//
// Clients authenticate with POST /api/authenticate, open a Server-Sent
// Events stream at GET /api/events, and operate on conversations through
// POST /api/join, /api/send, /api/read, /api/edit, and /api/delete. The
// event stream is the reachability signal: a user is reachable while at
// least one stream is open. Live messages, read receipts, edits, deletions,
// and presence changes arrive as SSE events; history replays on connect
// cover anything missed while unreachable.
package gateway
