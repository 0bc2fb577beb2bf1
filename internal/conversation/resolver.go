// ABOUTME: Resolver derives stable conversation identity and manages conversation metadata
// ABOUTME: Dyadic IDs are a pure function of the participant pair; groups get generated IDs

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/parley-im/parley-server/internal/store"
)

// DyadicSeparator joins the sorted participant pair into a dyadic
// conversation ID. It must never appear in a user identifier.
const DyadicSeparator = "|"

// Resolver errors
var (
	// ErrMalformedReference means a conversation reference could not be
	// resolved into a valid conversation identity. The resolver rejects the
	// request rather than silently creating a corrupt record.
	ErrMalformedReference = errors.New("malformed conversation reference")

	// ErrNotEnoughParticipants means a group was requested with fewer than
	// two distinct participants.
	ErrNotEnoughParticipants = errors.New("group needs at least two participants")
)

// ConversationStore defines what the resolver needs from storage.
type ConversationStore interface {
	SaveConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
}

// Resolver derives conversation identity and manages the conversation table.
// It keeps a write-through in-memory cache: the cache is authoritative for
// the process lifetime, the store is the durable copy.
type Resolver struct {
	mu     sync.RWMutex
	cache  map[string]*store.Conversation
	store  ConversationStore
	logger *slog.Logger
}

// NewResolver creates a Resolver backed by the given store.
func NewResolver(st ConversationStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cache:  make(map[string]*store.Conversation),
		store:  st,
		logger: logger.With("component", "conversation"),
	}
}

// ResolveDyadic computes the conversation ID for a two-party conversation:
// the two identifiers sorted lexicographically, joined with the separator.
// Idempotent and order-independent, so repeated joins by either participant
// always land on the same conversation without a lookup table.
func ResolveDyadic(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + DyadicSeparator + userB
}

// ParseDyadic splits a dyadic conversation ID back into its two participant
// identifiers. Returns ErrMalformedReference unless the ID resolves into
// exactly two distinct, non-empty participants in sorted order.
func ParseDyadic(conversationID string) (string, string, error) {
	parts := strings.Split(conversationID, DyadicSeparator)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedReference, conversationID)
	}
	a, b := parts[0], parts[1]
	if a == "" || b == "" || a == b || b < a {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedReference, conversationID)
	}
	return a, b, nil
}

// EnsureExists creates the conversation record if absent (lazy creation on
// first join or first send); otherwise it bumps last-message time only.
func (r *Resolver) EnsureExists(ctx context.Context, conversationID string, participants []string, creatorID string) (*store.Conversation, error) {
	now := time.Now()

	r.mu.Lock()
	if conv, ok := r.cache[conversationID]; ok {
		conv.LastMessageAt = now
		clone := conv.Clone()
		r.mu.Unlock()
		r.persist(clone)
		return clone, nil
	}
	r.mu.Unlock()

	// Not cached this lifetime; the durable copy may still have it.
	if conv, err := r.store.GetConversation(ctx, conversationID); err == nil {
		conv.LastMessageAt = now
		r.mu.Lock()
		r.cache[conversationID] = conv
		clone := conv.Clone()
		r.mu.Unlock()
		r.persist(clone)
		return clone, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	kind := store.KindGroup
	if _, _, err := ParseDyadic(conversationID); err == nil {
		kind = store.KindDyadic
	}

	conv := &store.Conversation{
		ID:            conversationID,
		Kind:          kind,
		Participants:  normalizeParticipants(participants),
		CreatorID:     creatorID,
		CreatedAt:     now,
		LastMessageAt: now,
	}

	r.mu.Lock()
	// A concurrent call may have won the race; keep the first record.
	if existing, ok := r.cache[conversationID]; ok {
		existing.LastMessageAt = now
		conv = existing
	} else {
		r.cache[conversationID] = conv
	}
	clone := conv.Clone()
	r.mu.Unlock()

	r.persist(clone)
	r.logger.Debug("conversation ensured", "conversation_id", clone.ID, "kind", clone.Kind)
	return clone, nil
}

// EnsureDyadic validates and ensures a two-party conversation between the
// given pair, deriving the ID from the pair itself.
func (r *Resolver) EnsureDyadic(ctx context.Context, userA, userB, creatorID string) (*store.Conversation, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, fmt.Errorf("%w: pair (%q, %q)", ErrMalformedReference, userA, userB)
	}
	// A separator inside an identifier would make the derived ID collide
	// with a different pair and parse back as the wrong participants.
	if strings.Contains(userA, DyadicSeparator) || strings.Contains(userB, DyadicSeparator) {
		return nil, fmt.Errorf("%w: identifier must not contain %q", ErrMalformedReference, DyadicSeparator)
	}
	id := ResolveDyadic(userA, userB)
	return r.EnsureExists(ctx, id, []string{userA, userB}, creatorID)
}

// CreateGroup creates a multi-party conversation with a generated identifier.
// The creator is always a participant.
func (r *Resolver) CreateGroup(ctx context.Context, participants []string, creatorID, name string) (*store.Conversation, error) {
	members := normalizeParticipants(append(participants, creatorID))
	if len(members) < 2 {
		return nil, ErrNotEnoughParticipants
	}

	now := time.Now()
	conv := &store.Conversation{
		ID:            uuid.New().String(),
		Kind:          store.KindGroup,
		Name:          name,
		Participants:  members,
		CreatorID:     creatorID,
		CreatedAt:     now,
		LastMessageAt: now,
	}

	r.mu.Lock()
	r.cache[conv.ID] = conv
	clone := conv.Clone()
	r.mu.Unlock()

	r.persist(clone)
	r.logger.Info("group conversation created",
		"conversation_id", clone.ID,
		"name", name,
		"participants", len(members),
	)
	return clone, nil
}

// Get returns the conversation with the given ID, consulting the cache first
// and falling back to the durable store.
func (r *Resolver) Get(ctx context.Context, conversationID string) (*store.Conversation, error) {
	r.mu.RLock()
	if conv, ok := r.cache[conversationID]; ok {
		clone := conv.Clone()
		r.mu.RUnlock()
		return clone, nil
	}
	r.mu.RUnlock()

	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[conversationID] = conv
	clone := conv.Clone()
	r.mu.Unlock()
	return clone, nil
}

// Snapshot re-persists every cached conversation. Called by the periodic
// snapshot loop as a safety net for skipped per-operation writes.
func (r *Resolver) Snapshot(ctx context.Context) error {
	r.mu.RLock()
	convs := make([]*store.Conversation, 0, len(r.cache))
	for _, conv := range r.cache {
		convs = append(convs, conv.Clone())
	}
	r.mu.RUnlock()

	var firstErr error
	for _, conv := range convs {
		if err := r.store.SaveConversation(ctx, conv); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// persist writes through to the durable store with a detached timeout
// context. A failed write is a data-loss risk on restart, not a request
// failure: the in-memory copy stays authoritative for this process lifetime.
func (r *Resolver) persist(conv *store.Conversation) {
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.store.SaveConversation(saveCtx, conv); err != nil {
		r.logger.Error("FATAL-CLASS: conversation persist failed, state survives only in memory",
			"error", err,
			"conversation_id", conv.ID,
		)
	}
}

// normalizeParticipants sorts and de-duplicates the participant list,
// dropping empty identifiers.
func normalizeParticipants(participants []string) []string {
	members := lo.Uniq(lo.Filter(participants, func(id string, _ int) bool {
		return id != ""
	}))
	sort.Strings(members)
	return members
}
