// Package store provides durable storage for parley-server using SQLite.
//
// # Architecture
//
// The Store interface covers conversation and message persistence. Saves are
// upserts: the lifecycle engine writes through after every state-changing
// operation, and the periodic snapshot re-writes the whole in-memory working
// set as a safety net, so every save must be idempotent.
//
// SQLiteStore is the single implementation, backed by modernc.org/sqlite with
// WAL mode enabled. Timestamps are stored as RFC3339 UTC text; the
// participant list and read-by set are stored as JSON arrays in TEXT columns.
//
// # Data Models
//
//   - Conversation: dyadic or group channel with participants and activity times
//   - Message: content plus delivery status (sent/delivered/read), read-by set,
//     and edit/delete tombstone state
//
// Messages are never physically removed: deletion replaces content with
// DeletedPlaceholder and sets a permanent flag.
package store
