// ABOUTME: Client-side outbox reconciling optimistic sends with server acks
// ABOUTME: Tracks provisional IDs through the two-phase commit of a send

package client

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Pending states.
const (
	StatePending   = "pending"
	StateCommitted = "committed"
	StateFailed    = "failed"
)

// Outbox errors
var (
	ErrUnknownProvisional = errors.New("unknown provisional id")
)

// Pending is one optimistic local send awaiting its server ack.
type Pending struct {
	ProvisionalID  string
	ConversationID string
	Content        string
	State          string
	MessageID      string // server-assigned, set on commit
	Status         string // server-reported status, set on commit
	FailReason     string
	ComposedAt     time.Time
}

// Outbox tracks optimistic sends. Compose records the local copy and hands
// out a provisional ID to put on the wire; Commit swaps it for the
// server-assigned message ID when the delivery ack comes back. A UI renders
// pending entries immediately and reconciles in place on commit.
type Outbox struct {
	mu      sync.RWMutex
	pending map[string]*Pending
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{pending: make(map[string]*Pending)}
}

// Compose registers an optimistic send and returns its provisional entry.
func (o *Outbox) Compose(conversationID, content string) *Pending {
	p := &Pending{
		ProvisionalID:  uuid.New().String(),
		ConversationID: conversationID,
		Content:        content,
		State:          StatePending,
		ComposedAt:     time.Now(),
	}

	o.mu.Lock()
	o.pending[p.ProvisionalID] = p
	o.mu.Unlock()
	return p
}

// Commit reconciles a delivery ack against its provisional entry: the entry
// adopts the server-assigned message ID and status and leaves the pending
// set. Returns the committed entry.
func (o *Outbox) Commit(provisionalID, messageID, status string) (*Pending, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.pending[provisionalID]
	if !ok {
		return nil, ErrUnknownProvisional
	}
	delete(o.pending, provisionalID)

	p.State = StateCommitted
	p.MessageID = messageID
	p.Status = status
	return p, nil
}

// Fail marks a provisional entry as failed and removes it from the pending
// set. The entry is returned so a UI can surface the failure on the local
// copy it already rendered.
func (o *Outbox) Fail(provisionalID, reason string) (*Pending, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.pending[provisionalID]
	if !ok {
		return nil, ErrUnknownProvisional
	}
	delete(o.pending, provisionalID)

	p.State = StateFailed
	p.FailReason = reason
	return p, nil
}

// Pending returns the entries still awaiting an ack, oldest first.
func (o *Outbox) Pending() []*Pending {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*Pending, 0, len(o.pending))
	for _, p := range o.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ComposedAt.Before(out[j].ComposedAt) })
	return out
}
