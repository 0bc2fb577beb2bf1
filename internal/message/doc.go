// Package message is the lifecycle engine of the messaging core.
//
// # State machine
//
// Delivery status advances sent -> delivered -> read and never backward:
//
//   - sent: accepted server-side; also the terminal state while no recipient
//     is reachable (delivery degradation is a status, not an error)
//   - delivered: fan-out reached at least one live non-sender connection
//   - read: every non-sender participant appears in the read-by set
//
// The edited and deleted flags are orthogonal side-states, not part of the
// delivery progression. Edits are sender-only and bounded by a wall-clock
// window from creation; deletes are sender-only with no window and tombstone
// the message permanently.
//
// # Working set and durability
//
// The Engine owns an in-memory working set of every message touched this
// process lifetime and writes through to the durable store after each state
// change. The working set is authoritative: a failed write logs at
// fatal-class severity and the Snapshotter retries it on the next flush.
// History replay merges the durable copy with the working set so a client
// joining mid-lifetime sees everything.
package message
