// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			kind            TEXT NOT NULL,
			name            TEXT NOT NULL DEFAULT '',
			participants    TEXT NOT NULL,
			creator_id      TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			last_message_at TEXT NOT NULL,

			CHECK (kind IN ('dyadic', 'group'))
		);

		CREATE TABLE IF NOT EXISTS messages (
			id               TEXT PRIMARY KEY,
			conversation_id  TEXT NOT NULL,
			sender_id        TEXT NOT NULL,
			content          TEXT NOT NULL,
			status           TEXT NOT NULL,
			read_by          TEXT NOT NULL DEFAULT '[]',
			edited           INTEGER NOT NULL DEFAULT 0,
			original_content TEXT NOT NULL DEFAULT '',
			edited_at        TEXT,
			deleted          INTEGER NOT NULL DEFAULT 0,
			created_at       TEXT NOT NULL,

			CHECK (status IN ('sent', 'delivered', 'read')),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveConversation inserts or updates a conversation record.
func (s *SQLiteStore) SaveConversation(ctx context.Context, conv *Conversation) error {
	participants, err := json.Marshal(conv.Participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}

	query := `
		INSERT INTO conversations (id, kind, name, participants, creator_id, created_at, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			participants = excluded.participants,
			last_message_at = excluded.last_message_at
	`

	_, err = s.db.ExecContext(ctx, query,
		conv.ID,
		conv.Kind,
		conv.Name,
		string(participants),
		conv.CreatorID,
		conv.CreatedAt.UTC().Format(time.RFC3339),
		conv.LastMessageAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	s.logger.Debug("saved conversation", "id", conv.ID, "kind", conv.Kind)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, kind, name, participants, creator_id, created_at, last_message_at
		FROM conversations
		WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns all conversations that include the given participant,
// most recently active first.
func (s *SQLiteStore) ListConversations(ctx context.Context, participantID string) ([]*Conversation, error) {
	// Participants are a JSON array; match on the quoted element
	query := `
		SELECT id, kind, name, participants, creator_id, created_at, last_message_at
		FROM conversations
		WHERE participants LIKE '%' || ? || '%'
		ORDER BY last_message_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, fmt.Sprintf("%q", participantID))
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		// LIKE is a coarse filter over the JSON text; confirm actual membership
		for _, p := range conv.Participants {
			if p == participantID {
				convs = append(convs, conv)
				break
			}
		}
	}
	return convs, rows.Err()
}

// SaveMessage inserts or updates a message record.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	readBy, err := json.Marshal(msg.ReadBy)
	if err != nil {
		return fmt.Errorf("encoding read_by: %w", err)
	}
	if msg.ReadBy == nil {
		readBy = []byte("[]")
	}

	var editedAt interface{}
	if msg.EditedAt != nil {
		editedAt = msg.EditedAt.UTC().Format(time.RFC3339)
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, status, read_by,
			edited, original_content, edited_at, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			status = excluded.status,
			read_by = excluded.read_by,
			edited = excluded.edited,
			original_content = excluded.original_content,
			edited_at = excluded.edited_at,
			deleted = excluded.deleted
	`

	_, err = s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.Content,
		msg.Status,
		string(readBy),
		boolToInt(msg.Edited),
		msg.OriginalContent,
		editedAt,
		boolToInt(msg.Deleted),
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "status", msg.Status)
	return nil
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	query := messageSelect + ` WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// ListConversationMessages returns all messages for a conversation in creation
// order. Used to backfill a client on join.
func (s *SQLiteStore) ListConversationMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	query := messageSelect + ` WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

const messageSelect = `
	SELECT id, conversation_id, sender_id, content, status, read_by,
		edited, original_content, edited_at, deleted, created_at
	FROM messages`

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var conv Conversation
	var participantsJSON, createdAtStr, lastMessageAtStr string

	err := row.Scan(
		&conv.ID,
		&conv.Kind,
		&conv.Name,
		&participantsJSON,
		&conv.CreatorID,
		&createdAtStr,
		&lastMessageAtStr,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(participantsJSON), &conv.Participants); err != nil {
		return nil, fmt.Errorf("decoding participants: %w", err)
	}
	if conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.LastMessageAt, err = time.Parse(time.RFC3339, lastMessageAtStr); err != nil {
		return nil, fmt.Errorf("parsing last_message_at: %w", err)
	}
	return &conv, nil
}

func scanMessage(row scanner) (*Message, error) {
	var msg Message
	var readByJSON, createdAtStr string
	var editedAtStr sql.NullString
	var edited, deleted int

	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Content,
		&msg.Status,
		&readByJSON,
		&edited,
		&msg.OriginalContent,
		&editedAtStr,
		&deleted,
		&createdAtStr,
	)
	if err != nil {
		return nil, err
	}

	msg.Edited = edited != 0
	msg.Deleted = deleted != 0

	if err := json.Unmarshal([]byte(readByJSON), &msg.ReadBy); err != nil {
		return nil, fmt.Errorf("decoding read_by: %w", err)
	}
	if msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if editedAtStr.Valid {
		t, err := time.Parse(time.RFC3339, editedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing edited_at: %w", err)
		}
		msg.EditedAt = &t
	}
	return &msg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
