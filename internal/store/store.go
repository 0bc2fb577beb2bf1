// ABOUTME: Store interface and data types for parley-server persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface for durable storage

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when trying to create a conversation that already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ConversationKind constants
const (
	KindDyadic = "dyadic" // Two-party conversation, ID derived from the participant pair
	KindGroup  = "group"  // Multi-party conversation, ID generated at creation
)

// Delivery status constants. Status only ever advances sent -> delivered -> read.
const (
	StatusSent      = "sent"      // Accepted by the server, no live recipient reached yet
	StatusDelivered = "delivered" // At least one live recipient connection received it
	StatusRead      = "read"      // Every non-sender participant has read it
)

// DeletedPlaceholder replaces the content of a deleted message. The original
// content is gone for good; only identity and timestamps survive.
const DeletedPlaceholder = "[message deleted]"

// Conversation represents a channel between two or more participants.
type Conversation struct {
	ID            string
	Kind          string // "dyadic" or "group"
	Name          string // group conversations only
	Participants  []string
	CreatorID     string
	CreatedAt     time.Time
	LastMessageAt time.Time
}

// Message represents a single message within a conversation.
// Edited and Deleted are orthogonal flags, not part of the delivery progression.
type Message struct {
	ID              string
	ConversationID  string
	SenderID        string
	Content         string
	Status          string   // "sent", "delivered", "read"
	ReadBy          []string // participant IDs that have read this message
	Edited          bool
	OriginalContent string // content before the first edit, empty if never edited
	EditedAt        *time.Time
	Deleted         bool
	CreatedAt       time.Time
}

// HasRead reports whether the given participant is in the read-by set.
func (m *Message) HasRead(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the message. The engine hands copies to the
// transport layer so callers can't mutate the working set.
func (m *Message) Clone() *Message {
	c := *m
	c.ReadBy = append([]string(nil), m.ReadBy...)
	if m.EditedAt != nil {
		t := *m.EditedAt
		c.EditedAt = &t
	}
	return &c
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	cc := *c
	cc.Participants = append([]string(nil), c.Participants...)
	return &cc
}

// Store defines the interface for conversation and message persistence.
// Saves are upserts: the engine writes through after every state change and
// the snapshot loop re-writes the whole working set.
type Store interface {
	// Conversations
	SaveConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, participantID string) ([]*Conversation, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListConversationMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// Close releases any resources held by the store
	Close() error
}
