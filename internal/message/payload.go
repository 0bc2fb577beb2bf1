// ABOUTME: Wire payloads for real-time channel events and API responses
// ABOUTME: Converts store types into the JSON shapes clients consume

package message

import (
	"time"

	"github.com/parley-im/parley-server/internal/store"
)

// MessagePayload is the wire shape of a message on the real-time channel and
// in API responses. Timestamps are RFC3339 UTC.
type MessagePayload struct {
	ID              string   `json:"id"`
	ConversationID  string   `json:"conversation_id"`
	SenderID        string   `json:"sender_id"`
	Content         string   `json:"content"`
	Status          string   `json:"status"`
	ReadBy          []string `json:"read_by"`
	Edited          bool     `json:"edited"`
	OriginalContent string   `json:"original_content,omitempty"`
	EditedAt        string   `json:"edited_at,omitempty"`
	Deleted         bool     `json:"deleted"`
	CreatedAt       string   `json:"created_at"`
}

// ConversationPayload is the wire shape of conversation metadata.
type ConversationPayload struct {
	ID            string   `json:"id"`
	Kind          string   `json:"kind"`
	Name          string   `json:"name,omitempty"`
	Participants  []string `json:"participants"`
	CreatorID     string   `json:"creator_id"`
	CreatedAt     string   `json:"created_at"`
	LastMessageAt string   `json:"last_message_at"`
}

// ReadReceiptPayload is the wire shape of a read-receipt event.
type ReadReceiptPayload struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
	ReaderID       string   `json:"reader_id"`
}

// HistoryPayload is the wire shape of a history replay event: one
// conversation with its full message history in creation order.
type HistoryPayload struct {
	Conversation ConversationPayload `json:"conversation"`
	Messages     []MessagePayload    `json:"messages"`
}

// DeliveryAckPayload is the wire shape of a delivery-ack event sent back to
// the message sender. ProvisionalID echoes the client's local placeholder
// identifier so the client can swap it for the server-assigned one.
type DeliveryAckPayload struct {
	MessageID      string `json:"message_id"`
	ProvisionalID  string `json:"provisional_id,omitempty"`
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

// ToPayload converts a stored message into its wire shape.
func ToPayload(m *store.Message) MessagePayload {
	p := MessagePayload{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		Content:         m.Content,
		Status:          m.Status,
		ReadBy:          m.ReadBy,
		Edited:          m.Edited,
		OriginalContent: m.OriginalContent,
		Deleted:         m.Deleted,
		CreatedAt:       m.CreatedAt.UTC().Format(time.RFC3339),
	}
	if p.ReadBy == nil {
		p.ReadBy = []string{}
	}
	if m.EditedAt != nil {
		p.EditedAt = m.EditedAt.UTC().Format(time.RFC3339)
	}
	return p
}

// ToPayloads converts a message slice, preserving order.
func ToPayloads(msgs []*store.Message) []MessagePayload {
	out := make([]MessagePayload, len(msgs))
	for i, m := range msgs {
		out[i] = ToPayload(m)
	}
	return out
}

// ConversationToPayload converts a stored conversation into its wire shape.
func ConversationToPayload(c *store.Conversation) ConversationPayload {
	return ConversationPayload{
		ID:            c.ID,
		Kind:          c.Kind,
		Name:          c.Name,
		Participants:  c.Participants,
		CreatorID:     c.CreatorID,
		CreatedAt:     c.CreatedAt.UTC().Format(time.RFC3339),
		LastMessageAt: c.LastMessageAt.UTC().Format(time.RFC3339),
	}
}
