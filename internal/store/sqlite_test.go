// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers conversation/message upserts, read-by round-trips, and history ordering

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestSaveAndGetConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &Conversation{
		ID:            "alice|bob",
		Kind:          KindDyadic,
		Participants:  []string{"alice", "bob"},
		CreatorID:     "alice",
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
		LastMessageAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := s.SaveConversation(ctx, conv); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	got, err := s.GetConversation(ctx, "alice|bob")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Kind != KindDyadic {
		t.Errorf("Kind mismatch: got %q, want %q", got.Kind, KindDyadic)
	}
	if len(got.Participants) != 2 || got.Participants[0] != "alice" || got.Participants[1] != "bob" {
		t.Errorf("Participants mismatch: got %v", got.Participants)
	}
	if !got.CreatedAt.Equal(conv.CreatedAt) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, conv.CreatedAt)
	}
}

func TestSaveConversation_UpsertBumpsActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	conv := &Conversation{
		ID:            "alice|bob",
		Kind:          KindDyadic,
		Participants:  []string{"alice", "bob"},
		CreatorID:     "alice",
		CreatedAt:     created,
		LastMessageAt: created,
	}
	if err := s.SaveConversation(ctx, conv); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	conv.LastMessageAt = created.Add(30 * time.Minute)
	if err := s.SaveConversation(ctx, conv); err != nil {
		t.Fatalf("second SaveConversation failed: %v", err)
	}

	got, err := s.GetConversation(ctx, "alice|bob")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if !got.LastMessageAt.Equal(conv.LastMessageAt) {
		t.Errorf("LastMessageAt not updated: got %v, want %v", got.LastMessageAt, conv.LastMessageAt)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed on upsert: got %v, want %v", got.CreatedAt, created)
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetConversation(context.Background(), "missing")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListConversations_ByParticipant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for _, conv := range []*Conversation{
		{ID: "alice|bob", Kind: KindDyadic, Participants: []string{"alice", "bob"}, CreatorID: "alice", CreatedAt: now, LastMessageAt: now},
		{ID: "bob|carol", Kind: KindDyadic, Participants: []string{"bob", "carol"}, CreatorID: "carol", CreatedAt: now, LastMessageAt: now.Add(time.Minute)},
		{ID: "grp-1", Kind: KindGroup, Name: "team", Participants: []string{"alice", "carol"}, CreatorID: "alice", CreatedAt: now, LastMessageAt: now},
	} {
		if err := s.SaveConversation(ctx, conv); err != nil {
			t.Fatalf("SaveConversation failed: %v", err)
		}
	}

	convs, err := s.ListConversations(ctx, "bob")
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations for bob, got %d", len(convs))
	}
	// Most recently active first
	if convs[0].ID != "bob|carol" {
		t.Errorf("expected bob|carol first, got %q", convs[0].ID)
	}
}

func TestSaveAndGetMessage_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	editedAt := now.Add(10 * time.Second)

	msg := &Message{
		ID:              "msg-1",
		ConversationID:  "alice|bob",
		SenderID:        "alice",
		Content:         "hello (edited)",
		Status:          StatusRead,
		ReadBy:          []string{"bob"},
		Edited:          true,
		OriginalContent: "hello",
		EditedAt:        &editedAt,
		CreatedAt:       now,
	}

	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	got, err := s.GetMessage(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.Content != msg.Content {
		t.Errorf("Content mismatch: got %q, want %q", got.Content, msg.Content)
	}
	if got.Status != StatusRead {
		t.Errorf("Status mismatch: got %q, want %q", got.Status, StatusRead)
	}
	if len(got.ReadBy) != 1 || got.ReadBy[0] != "bob" {
		t.Errorf("ReadBy mismatch: got %v", got.ReadBy)
	}
	if !got.Edited || got.OriginalContent != "hello" {
		t.Errorf("edit state mismatch: edited=%v original=%q", got.Edited, got.OriginalContent)
	}
	if got.EditedAt == nil || !got.EditedAt.Equal(editedAt) {
		t.Errorf("EditedAt mismatch: got %v, want %v", got.EditedAt, editedAt)
	}
	if got.Deleted {
		t.Error("Deleted should be false")
	}
}

func TestSaveMessage_UpsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	msg := &Message{
		ID:             "msg-1",
		ConversationID: "alice|bob",
		SenderID:       "alice",
		Content:        "hello",
		Status:         StatusSent,
		CreatedAt:      now,
	}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	msg.Status = StatusDelivered
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("second SaveMessage failed: %v", err)
	}

	got, err := s.GetMessage(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.Status != StatusDelivered {
		t.Errorf("Status mismatch after upsert: got %q, want %q", got.Status, StatusDelivered)
	}
	if got.ReadBy != nil && len(got.ReadBy) != 0 {
		t.Errorf("expected empty ReadBy, got %v", got.ReadBy)
	}
}

func TestGetMessage_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetMessage(context.Background(), "missing")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListConversationMessages_CreationOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	// Insert out of order; listing must come back in creation order
	for i, offset := range []int{2, 0, 1} {
		msg := &Message{
			ID:             []string{"msg-c", "msg-a", "msg-b"}[i],
			ConversationID: "alice|bob",
			SenderID:       "alice",
			Content:        "m",
			Status:         StatusSent,
			CreatedAt:      base.Add(time.Duration(offset) * time.Second),
		}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	// A message in another conversation must not leak in
	other := &Message{
		ID: "msg-x", ConversationID: "bob|carol", SenderID: "bob",
		Content: "x", Status: StatusSent, CreatedAt: base,
	}
	if err := s.SaveMessage(ctx, other); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	msgs, err := s.ListConversationMessages(ctx, "alice|bob")
	if err != nil {
		t.Fatalf("ListConversationMessages failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	want := []string{"msg-a", "msg-b", "msg-c"}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Errorf("position %d: got %q, want %q", i, msgs[i].ID, id)
		}
	}
}

func TestMessage_CloneIsIndependent(t *testing.T) {
	editedAt := time.Now()
	msg := &Message{ID: "m", ReadBy: []string{"bob"}, EditedAt: &editedAt}

	c := msg.Clone()
	c.ReadBy[0] = "mallory"
	*c.EditedAt = c.EditedAt.Add(time.Hour)

	if msg.ReadBy[0] != "bob" {
		t.Error("Clone shares ReadBy backing array")
	}
	if !msg.EditedAt.Equal(editedAt) {
		t.Error("Clone shares EditedAt pointer")
	}
}
