// ABOUTME: Package documentation for the client package
// ABOUTME: Describes client-side send reconciliation and replay dedupe

// Package client holds the client-side pieces of the messaging protocol: an
// outbox for reconciling optimistic sends against server delivery acks, and
// a seen-tracker for deduplicating history replays against live events.
//
// A send is a two-phase commit from the client's point of view: Compose
// renders the message locally under a provisional ID, the ID travels with
// the send request, and the delivery ack carries it back alongside the
// server-assigned message ID so Commit can reconcile the local copy.
package client
