// ABOUTME: Server-Sent Events stream delivering live messaging events to clients
// ABOUTME: Registers presence connections and replays history on connect

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/parley-im/parley-server/internal/auth"
	"github.com/parley-im/parley-server/internal/message"
	"github.com/parley-im/parley-server/internal/presence"
	"github.com/parley-im/parley-server/internal/store"
)

// heartbeatInterval is how often the stream emits a keepalive comment so
// intermediaries don't reap an idle connection.
const heartbeatInterval = 30 * time.Second

// handleEvents handles GET /api/events: the long-lived SSE stream. Opening
// the stream is what makes a user reachable; closing it (or losing it) makes
// them unreachable once their last stream is gone.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity := auth.MustFromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	conn := presence.NewConnection(identity.UserID, g.logger)
	g.registry.Authenticate(conn)
	defer g.registry.Release(conn)
	activeStreams.Inc()
	defer activeStreams.Dec()

	g.writeSSEEvent(w, "connected", map[string]string{
		"user_id":       identity.UserID,
		"connection_id": conn.ID,
	})
	flusher.Flush()

	// Replay history for every conversation the user participates in.
	// Messages sent while they were unreachable surface here; clients
	// deduplicate by message ID against what they already hold.
	convs, err := g.store.ListConversations(r.Context(), identity.UserID)
	if err != nil {
		g.logger.Error("listing conversations for replay", "error", err, "user", identity.UserID)
	}
	g.replayHistory(r, conn, convs)
	g.replayPresence(conn, identity.UserID, convs)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.Done():
			return
		case ev := <-conn.Events():
			g.writeSSEEvent(w, ev.Type, ev.Data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// replayHistory pushes one history event per conversation onto this
// connection only. Other devices of the same user are not re-sent anything.
func (g *Gateway) replayHistory(r *http.Request, conn *presence.Connection, convs []*store.Conversation) {
	for _, conv := range convs {
		history, err := g.engine.History(r.Context(), conv.ID)
		if err != nil {
			g.logger.Error("loading history for replay", "error", err, "conversation_id", conv.ID)
			continue
		}
		conn.Push(presence.Event{
			Type: presence.EventHistory,
			Data: message.HistoryPayload{
				Conversation: message.ConversationToPayload(conv),
				Messages:     message.ToPayloads(history),
			},
		})
	}
}

// replayPresence pushes the current reachability of everyone the user shares
// a conversation with, so a fresh client can render presence immediately
// instead of waiting for the next change.
func (g *Gateway) replayPresence(conn *presence.Connection, userID string, convs []*store.Conversation) {
	seen := map[string]bool{userID: true}
	for _, conv := range convs {
		for _, participant := range conv.Participants {
			if seen[participant] {
				continue
			}
			seen[participant] = true

			change := presence.PresenceChange{
				UserID:    participant,
				Reachable: g.registry.IsReachable(participant),
			}
			if last, ok := g.registry.LastSeen(participant); !change.Reachable && ok && !last.IsZero() {
				change.LastSeen = &last
			}
			conn.Push(presence.Event{Type: presence.EventPresenceChanged, Data: change})
		}
	}
}

// writeSSEEvent writes a single SSE frame.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
