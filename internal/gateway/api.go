// ABOUTME: HTTP API handlers for the messaging client surface
// ABOUTME: Authentication, conversation join, send/read/edit/delete operations

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/parley-im/parley-server/internal/auth"
	"github.com/parley-im/parley-server/internal/conversation"
	"github.com/parley-im/parley-server/internal/message"
	"github.com/parley-im/parley-server/internal/presence"
	"github.com/parley-im/parley-server/internal/store"
)

// AuthenticateRequest is the JSON request body for POST /api/authenticate.
// 0x7C is the pipe character, reserved as the dyadic conversation ID
// separator and therefore banned from user identifiers.
type AuthenticateRequest struct {
	UserID string `json:"user_id" validate:"required,min=1,max=128,excludesall=0x7C"`
}

// AuthenticateResponse is the JSON response for POST /api/authenticate.
type AuthenticateResponse struct {
	UserID    string `json:"user_id"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// JoinRequest is the JSON request body for POST /api/join. Exactly one of
// peer_id, conversation_id, or participants selects the conversation:
// peer_id joins (and lazily creates) the dyadic conversation with that user,
// conversation_id joins an existing conversation by reference, and
// participants creates a new group conversation.
type JoinRequest struct {
	PeerID         string   `json:"peer_id,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Participants   []string `json:"participants,omitempty"`
	Name           string   `json:"name,omitempty"`
}

// JoinResponse is the JSON response for POST /api/join: the resolved
// conversation and its full message history in creation order. Clients that
// already hold part of the history deduplicate by message ID.
type JoinResponse struct {
	Conversation message.ConversationPayload `json:"conversation"`
	Messages     []message.MessagePayload    `json:"messages"`
}

// SendRequest is the JSON request body for POST /api/send.
type SendRequest struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	Content        string `json:"content" validate:"required,max=65536"`
	ProvisionalID  string `json:"provisional_id,omitempty" validate:"max=128"`
}

// ReadRequest is the JSON request body for POST /api/read. With no
// message_ids every message in the conversation is marked.
type ReadRequest struct {
	ConversationID string   `json:"conversation_id" validate:"required"`
	MessageIDs     []string `json:"message_ids,omitempty"`
}

// ReadResponse is the JSON response for POST /api/read.
type ReadResponse struct {
	Updated []message.MessagePayload `json:"updated"`
}

// EditRequest is the JSON request body for POST /api/edit.
type EditRequest struct {
	MessageID string `json:"message_id" validate:"required"`
	Content   string `json:"content" validate:"required,max=65536"`
}

// DeleteRequest is the JSON request body for POST /api/delete.
type DeleteRequest struct {
	MessageID string `json:"message_id" validate:"required"`
}

// requireAuth wraps a handler with Bearer token verification. The verified
// identity is attached to the request context.
func (g *Gateway) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			g.sendJSONError(w, http.StatusUnauthorized, auth.ErrAuthenticationRequired.Error())
			return
		}

		userID, err := g.sessions.Verify(header[len(prefix):])
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) {
				g.sendJSONError(w, http.StatusUnauthorized, "token expired")
				return
			}
			g.sendJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		// A valid signature is not enough: presence must have seen the user
		// this process lifetime. A token minted before a restart gets a 401
		// and the client re-authenticates.
		if !g.registry.Known(userID) {
			g.sendJSONError(w, http.StatusUnauthorized, auth.ErrAuthenticationRequired.Error())
			return
		}

		ctx := auth.WithIdentity(r.Context(), &auth.Identity{UserID: userID})
		next(w, r.WithContext(ctx))
	}
}

// handleAuthenticate handles POST /api/authenticate requests. Identity is
// the identifier presented: there is no account store, the first
// authentication brings the user into existence.
func (g *Gateway) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req AuthenticateRequest
	if err := g.decode(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, expiresAt, err := g.sessions.Issue(req.UserID)
	if err != nil {
		g.logger.Error("issuing session token", "error", err, "user", req.UserID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// The user is now known to presence even before the event stream opens.
	g.registry.Touch(req.UserID)
	authTotal.Inc()

	g.logger.Info("user authenticated", "user", req.UserID)

	g.writeJSON(w, http.StatusOK, AuthenticateResponse{
		UserID:    req.UserID,
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
}

// handleJoin handles POST /api/join requests.
func (g *Gateway) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity := auth.MustFromContext(r.Context())

	var req JoinRequest
	if err := g.decode(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var conv *store.Conversation
	var err error
	switch {
	case req.PeerID != "":
		conv, err = g.resolver.EnsureDyadic(r.Context(), identity.UserID, req.PeerID, identity.UserID)
	case len(req.Participants) > 0:
		conv, err = g.resolver.CreateGroup(r.Context(), req.Participants, identity.UserID, req.Name)
	case req.ConversationID != "":
		conv, err = g.joinByReference(r, identity.UserID, req.ConversationID)
	default:
		g.sendJSONError(w, http.StatusBadRequest, "must specify peer_id, conversation_id, or participants")
		return
	}
	if err != nil {
		g.sendDomainError(w, err)
		return
	}

	history, err := g.engine.History(r.Context(), conv.ID)
	if err != nil {
		g.logger.Error("loading history", "error", err, "conversation_id", conv.ID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.writeJSON(w, http.StatusOK, JoinResponse{
		Conversation: message.ConversationToPayload(conv),
		Messages:     message.ToPayloads(history),
	})
}

// joinByReference resolves a join by explicit conversation reference. Dyadic
// references are parseable and lazily created so either party can join first;
// group references must already exist and name the caller as a participant.
func (g *Gateway) joinByReference(r *http.Request, userID, conversationID string) (*store.Conversation, error) {
	if userA, userB, err := conversation.ParseDyadic(conversationID); err == nil {
		if userID != userA && userID != userB {
			return nil, message.ErrPermissionDenied
		}
		return g.resolver.EnsureDyadic(r.Context(), userA, userB, userID)
	}

	conv, err := g.resolver.Get(r.Context(), conversationID)
	if err != nil {
		return nil, err
	}
	for _, p := range conv.Participants {
		if p == userID {
			return conv, nil
		}
	}
	return nil, message.ErrPermissionDenied
}

// handleSend handles POST /api/send requests. The response is a delivery
// ack carrying the server-assigned message ID alongside the client's
// provisional ID so optimistic local copies can be reconciled.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity := auth.MustFromContext(r.Context())

	var req SendRequest
	if err := g.decode(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if lim := g.sendLimiter(identity.UserID); lim != nil && !lim.Allow() {
		sendRateLimited.Inc()
		g.sendJSONError(w, http.StatusTooManyRequests, "send rate exceeded")
		return
	}

	msg, err := g.engine.Submit(r.Context(), req.ConversationID, identity.UserID, req.Content)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	messagesSubmitted.WithLabelValues(msg.Status).Inc()

	ack := message.DeliveryAckPayload{
		MessageID:      msg.ID,
		ProvisionalID:  req.ProvisionalID,
		ConversationID: msg.ConversationID,
		Status:         msg.Status,
	}

	// The sender's other devices reconcile their optimistic copies off the
	// same ack that this response carries.
	g.registry.PushToUser(identity.UserID, presence.Event{Type: presence.EventDeliveryAck, Data: ack})

	g.writeJSON(w, http.StatusOK, ack)
}

// handleRead handles POST /api/read requests.
func (g *Gateway) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity := auth.MustFromContext(r.Context())

	var req ReadRequest
	if err := g.decode(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	changed, err := g.engine.MarkRead(r.Context(), req.ConversationID, req.MessageIDs, identity.UserID)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	messagesRead.Add(float64(len(changed)))

	g.writeJSON(w, http.StatusOK, ReadResponse{Updated: message.ToPayloads(changed)})
}

// handleEdit handles POST /api/edit requests.
func (g *Gateway) handleEdit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity := auth.MustFromContext(r.Context())

	var req EditRequest
	if err := g.decode(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := g.engine.Edit(r.Context(), req.MessageID, req.Content, identity.UserID)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	messagesEdited.Inc()

	g.writeJSON(w, http.StatusOK, message.ToPayload(msg))
}

// handleDelete handles POST /api/delete requests.
func (g *Gateway) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity := auth.MustFromContext(r.Context())

	var req DeleteRequest
	if err := g.decode(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := g.engine.Delete(r.Context(), req.MessageID, identity.UserID)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	messagesDeleted.Inc()

	g.writeJSON(w, http.StatusOK, message.ToPayload(msg))
}

// decode parses a JSON request body and validates struct tags.
func (g *Gateway) decode(r io.Reader, dst interface{}) error {
	if err := json.NewDecoder(r).Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	if err := g.validate.Struct(dst); err != nil {
		return err
	}
	return nil
}

// sendDomainError maps engine and resolver errors onto HTTP statuses.
func (g *Gateway) sendDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, message.ErrPermissionDenied):
		g.sendJSONError(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, message.ErrEditWindowExpired):
		g.sendJSONError(w, http.StatusUnprocessableEntity, "edit window expired")
	case errors.Is(err, message.ErrMessageDeleted):
		g.sendJSONError(w, http.StatusConflict, "message deleted")
	case errors.Is(err, conversation.ErrMalformedReference):
		g.sendJSONError(w, http.StatusBadRequest, "malformed conversation reference")
	case errors.Is(err, conversation.ErrNotEnoughParticipants):
		g.sendJSONError(w, http.StatusBadRequest, "a group needs at least two distinct participants")
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON writes a JSON response with the given status code.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
