// ABOUTME: Message Lifecycle Engine driving the sent -> delivered -> read state machine
// ABOUTME: Accepts messages, fans out to live recipients, enforces edit/delete rules

package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/parley-im/parley-server/internal/presence"
	"github.com/parley-im/parley-server/internal/store"
)

// DefaultEditWindow bounds how long after creation a sender may edit a message.
const DefaultEditWindow = 60 * time.Second

// Engine errors
var (
	// ErrPermissionDenied means the requester is not allowed to perform the
	// operation (non-sender edit/delete, non-participant send).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrEditWindowExpired means the edit window has elapsed since creation.
	ErrEditWindowExpired = errors.New("edit window expired")

	// ErrMessageDeleted means the message is a tombstone and cannot be edited.
	ErrMessageDeleted = errors.New("message is deleted")
)

// MessageStore defines what the engine needs from durable storage.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *store.Message) error
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	ListConversationMessages(ctx context.Context, conversationID string) ([]*store.Message, error)
}

// Conversations defines what the engine needs from the conversation resolver.
type Conversations interface {
	Get(ctx context.Context, conversationID string) (*store.Conversation, error)
}

// Roster defines what the engine needs from the presence registry for fan-out.
type Roster interface {
	PushToUser(userID string, ev presence.Event) bool
}

// Engine drives the message lifecycle. It owns the in-memory working set of
// messages touched this process lifetime and writes through to the durable
// store after every state change. The working set is authoritative: a failed
// write is logged and retried by the snapshot loop, never surfaced to the
// requester.
//
// All mutation happens under one write lock, which preserves a total order of
// operations per conversation (and, incidentally, across conversations,
// though no cross-conversation order is promised).
type Engine struct {
	mu       sync.RWMutex
	messages map[string]*store.Message // working set by message ID
	byConv   map[string][]string       // conversation ID -> message IDs, creation order
	loaded   map[string]bool           // conversations whose history is fully in the working set

	store      MessageStore
	convs      Conversations
	roster     Roster
	editWindow time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewEngine creates a lifecycle engine. A zero editWindow selects the default.
func NewEngine(st MessageStore, convs Conversations, roster Roster, editWindow time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if editWindow <= 0 {
		editWindow = DefaultEditWindow
	}
	return &Engine{
		messages:   make(map[string]*store.Message),
		byConv:     make(map[string][]string),
		loaded:     make(map[string]bool),
		store:      st,
		convs:      convs,
		roster:     roster,
		editWindow: editWindow,
		now:        time.Now,
		logger:     logger.With("component", "lifecycle"),
	}
}

// Submit accepts a new message: assigns identity and creation timestamp, sets
// status sent, persists, then fans out to every other participant's live
// connections. If at least one live recipient connection takes the event the
// message advances to delivered; otherwise it stays sent, which is not an
// error: the recipient catches up from history on next join.
func (e *Engine) Submit(ctx context.Context, conversationID, senderID, content string) (*store.Message, error) {
	conv, err := e.convs.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !lo.Contains(conv.Participants, senderID) {
		return nil, fmt.Errorf("%w: %q is not a participant of %q", ErrPermissionDenied, senderID, conversationID)
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Status:         store.StatusSent,
		CreatedAt:      e.now(),
	}

	e.mu.Lock()
	e.insertLocked(msg)
	clone := msg.Clone()
	e.mu.Unlock()

	// Record first, then fan out: the message must be durable before any
	// recipient can observe it. Persist and fan-out work on a clone taken
	// under the lock; the working-set copy may be mutated concurrently.
	e.persist(clone)

	delivered := e.fanOut(conv, clone)
	if delivered {
		e.mu.Lock()
		if msg.Status == store.StatusSent {
			msg.Status = store.StatusDelivered
		}
		clone = msg.Clone()
		e.mu.Unlock()
		e.persist(clone)
	}

	e.logger.Debug("message submitted",
		"message_id", msg.ID,
		"conversation_id", conversationID,
		"sender", senderID,
		"status", clone.Status,
	)

	return clone, nil
}

// MarkDelivered advances a message from sent to delivered. Idempotent: a
// message already delivered or read is left untouched.
func (e *Engine) MarkDelivered(ctx context.Context, messageID string) error {
	e.mu.Lock()
	msg, err := e.getLocked(ctx, messageID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if msg.Status != store.StatusSent {
		e.mu.Unlock()
		return nil
	}
	msg.Status = store.StatusDelivered
	clone := msg.Clone()
	e.mu.Unlock()

	e.persist(clone)
	return nil
}

// MarkRead records that readerID has read the targeted messages. A nil or
// empty messageIDs targets every message in the conversation. The reader is
// never added to the read-by set of their own messages. A message advances to
// read once every other participant is present in its read-by set.
//
// Returns every message this call actually changed, meaning the read-by set
// grew, whether or not the status flipped yet: in a group the first reader's
// receipt is announced while the status is still delivered, so the sender
// sees who has read it before everyone has. Repeat reads, sender self-reads,
// and foreign IDs change nothing, return nothing, and announce nothing.
func (e *Engine) MarkRead(ctx context.Context, conversationID string, messageIDs []string, readerID string) ([]*store.Message, error) {
	conv, err := e.convs.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !lo.Contains(conv.Participants, readerID) {
		return nil, fmt.Errorf("%w: %q is not a participant of %q", ErrPermissionDenied, readerID, conversationID)
	}

	others := lo.Filter(conv.Participants, func(id string, _ int) bool { return id != readerID })

	e.mu.Lock()
	var targets []*store.Message
	if len(messageIDs) == 0 {
		if err := e.loadConversationLocked(ctx, conversationID); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		for _, id := range e.byConv[conversationID] {
			targets = append(targets, e.messages[id])
		}
	} else {
		for _, id := range messageIDs {
			msg, err := e.getLocked(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				continue // unknown IDs are skipped, not fatal
			}
			if err != nil {
				e.mu.Unlock()
				return nil, err
			}
			if msg.ConversationID != conversationID {
				continue
			}
			targets = append(targets, msg)
		}
	}

	var changed []*store.Message
	for _, msg := range targets {
		if msg.SenderID == readerID {
			continue // a sender cannot read their own message into the set
		}
		if msg.HasRead(readerID) {
			continue
		}
		msg.ReadBy = append(msg.ReadBy, readerID)

		// Sender reads don't count; read once all other participants minus
		// the sender are covered.
		needed := lo.Filter(others, func(id string, _ int) bool { return id != msg.SenderID })
		if msg.Status != store.StatusRead && lo.Every(msg.ReadBy, needed) {
			msg.Status = store.StatusRead
		}
		changed = append(changed, msg)
	}

	clones := make([]*store.Message, len(changed))
	for i, msg := range changed {
		clones[i] = msg.Clone()
	}
	e.mu.Unlock()

	for _, msg := range clones {
		e.persist(msg)
	}

	if len(clones) > 0 {
		receipt := ReadReceiptPayload{
			ConversationID: conversationID,
			MessageIDs:     lo.Map(clones, func(m *store.Message, _ int) string { return m.ID }),
			ReaderID:       readerID,
		}
		e.announce(conv, presence.Event{Type: presence.EventReadReceipt, Data: receipt})
	}

	return clones, nil
}

// Edit replaces a message's content. Only the original sender may edit, and
// only while the edit window (measured from creation, evaluated against the
// wall clock now) is open. The prior content is preserved on first edit.
func (e *Engine) Edit(ctx context.Context, messageID, newContent, requesterID string) (*store.Message, error) {
	e.mu.Lock()
	msg, err := e.getLocked(ctx, messageID)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if msg.SenderID != requesterID {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: only the sender may edit", ErrPermissionDenied)
	}
	if msg.Deleted {
		e.mu.Unlock()
		return nil, ErrMessageDeleted
	}
	if e.now().Sub(msg.CreatedAt) > e.editWindow {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: window is %s", ErrEditWindowExpired, e.editWindow)
	}

	if !msg.Edited {
		msg.OriginalContent = msg.Content
	}
	msg.Content = newContent
	msg.Edited = true
	editedAt := e.now()
	msg.EditedAt = &editedAt

	clone := msg.Clone()
	conversationID := msg.ConversationID
	e.mu.Unlock()

	e.persist(clone)

	if conv, err := e.convs.Get(ctx, conversationID); err == nil {
		e.announce(conv, presence.Event{Type: presence.EventMessageEdited, Data: ToPayload(clone)})
	}

	e.logger.Debug("message edited", "message_id", messageID, "sender", requesterID)
	return clone, nil
}

// Delete tombstones a message: content is irreversibly replaced with the
// placeholder and the deleted flag is permanent. Only the original sender may
// delete; unlike edit there is no time window.
// A second delete is an idempotent no-op.
func (e *Engine) Delete(ctx context.Context, messageID, requesterID string) (*store.Message, error) {
	e.mu.Lock()
	msg, err := e.getLocked(ctx, messageID)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if msg.SenderID != requesterID {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: only the sender may delete", ErrPermissionDenied)
	}
	if msg.Deleted {
		clone := msg.Clone()
		e.mu.Unlock()
		return clone, nil
	}

	msg.Content = store.DeletedPlaceholder
	msg.OriginalContent = ""
	msg.Deleted = true

	clone := msg.Clone()
	conversationID := msg.ConversationID
	e.mu.Unlock()

	e.persist(clone)

	if conv, err := e.convs.Get(ctx, conversationID); err == nil {
		e.announce(conv, presence.Event{Type: presence.EventMessageDeleted, Data: ToPayload(clone)})
	}

	e.logger.Debug("message deleted", "message_id", messageID, "sender", requesterID)
	return clone, nil
}

// History returns every message of a conversation in creation order, merging
// the durable copy with the in-memory working set (which wins on conflict and
// contributes messages whose persist failed). Used to backfill clients on
// join; the client de-duplicates by message ID.
func (e *Engine) History(ctx context.Context, conversationID string) ([]*store.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.loadConversationLocked(ctx, conversationID); err != nil {
		return nil, err
	}

	ids := e.byConv[conversationID]
	out := make([]*store.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.messages[id].Clone())
	}
	return out, nil
}

// Snapshot re-persists the entire in-memory working set. Run periodically and
// on graceful shutdown as a safety net for writes skipped by transient
// failures; a restart then loses at most the most recent unflushed change.
func (e *Engine) Snapshot(ctx context.Context) error {
	e.mu.RLock()
	msgs := make([]*store.Message, 0, len(e.messages))
	for _, msg := range e.messages {
		msgs = append(msgs, msg.Clone())
	}
	e.mu.RUnlock()

	var firstErr error
	for _, msg := range msgs {
		if err := e.store.SaveMessage(ctx, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	e.logger.Debug("working set snapshot complete", "messages", len(msgs))
	return firstErr
}

// fanOut pushes the message event to every participant's live connections.
// The sender's own connections receive it too (other devices), but only a
// non-sender delivery counts toward the delivered transition.
func (e *Engine) fanOut(conv *store.Conversation, msg *store.Message) bool {
	ev := presence.Event{Type: presence.EventMessage, Data: ToPayload(msg)}

	delivered := false
	for _, participant := range conv.Participants {
		got := e.roster.PushToUser(participant, ev)
		if got && participant != msg.SenderID {
			delivered = true
		}
	}
	return delivered
}

// announce pushes an event to every participant of the conversation.
func (e *Engine) announce(conv *store.Conversation, ev presence.Event) {
	for _, participant := range conv.Participants {
		e.roster.PushToUser(participant, ev)
	}
}

// getLocked returns the working-set message, faulting it in from the durable
// store if this lifetime hasn't touched it yet. Must be called with mu held.
func (e *Engine) getLocked(ctx context.Context, messageID string) (*store.Message, error) {
	if msg, ok := e.messages[messageID]; ok {
		return msg, nil
	}
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	e.insertLocked(msg)
	return msg, nil
}

// loadConversationLocked faults the full durable history of a conversation
// into the working set. Must be called with mu held.
func (e *Engine) loadConversationLocked(ctx context.Context, conversationID string) error {
	if e.loaded[conversationID] {
		return nil
	}
	msgs, err := e.store.ListConversationMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if _, ok := e.messages[msg.ID]; ok {
			continue // working set wins over the durable copy
		}
		e.insertLocked(msg)
	}
	e.loaded[conversationID] = true
	return nil
}

// insertLocked adds a message to the working set, keeping the per-conversation
// index in creation order. Must be called with mu held.
func (e *Engine) insertLocked(msg *store.Message) {
	e.messages[msg.ID] = msg
	ids := append(e.byConv[msg.ConversationID], msg.ID)
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := e.messages[ids[i]], e.messages[ids[j]]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	e.byConv[msg.ConversationID] = ids
}

// persist writes through to the durable store with a detached timeout context
// so a cancelled request can't abort the write. Failure is a data-loss risk
// on restart and logs at fatal-class severity, but the request still
// succeeds: the in-memory working set stays authoritative and the snapshot
// loop retries.
func (e *Engine) persist(msg *store.Message) {
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.store.SaveMessage(saveCtx, msg); err != nil {
		e.logger.Error("FATAL-CLASS: message persist failed, state survives only in memory",
			"error", err,
			"message_id", msg.ID,
			"conversation_id", msg.ConversationID,
		)
	}
}
