// Package conversation derives conversation identity and manages
// conversation metadata.
//
// A dyadic conversation's identifier is a pure function of its two
// participant identifiers (sorted, joined with a fixed separator), so
// repeated joins by either participant always resolve to the same
// conversation without a lookup table. Group conversations get a generated
// identifier instead.
//
// Conversations are created lazily on first join or first send and never
// deleted. The Resolver keeps a write-through in-memory cache over the
// durable store; malformed references are rejected rather than turned into
// corrupt records.
package conversation
