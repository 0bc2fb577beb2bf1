// ABOUTME: HTTP API tests for the gateway using httptest
// ABOUTME: Covers authentication, join, send/read/edit/delete, and error mapping

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-im/parley-server/internal/config"
	"github.com/parley-im/parley-server/internal/message"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")},
		Auth:     config.AuthConfig{JWTSecret: "test-secret"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Gateway, *httptest.Server) {
	t.Helper()
	gw, err := New(cfg, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(gw.httpServer.Handler)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { gw.store.Close() })
	return gw, srv
}

// authenticate returns a session token for the given user.
func authenticate(t *testing.T, srv *httptest.Server, userID string) string {
	t.Helper()
	resp := postJSON(t, srv, "", "/api/authenticate", AuthenticateRequest{UserID: userID})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body AuthenticateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Token)
	require.Equal(t, userID, body.UserID)
	return body.Token
}

func postJSON(t *testing.T, srv *httptest.Server, token, path string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAuthenticateRejectsEmptyUserID(t *testing.T) {
	_, srv := newTestServer(t, testConfig(t))

	resp := postJSON(t, srv, "", "/api/authenticate", AuthenticateRequest{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEndpointsRequireAuth(t *testing.T) {
	_, srv := newTestServer(t, testConfig(t))

	for _, path := range []string{"/api/join", "/api/send", "/api/read", "/api/edit", "/api/delete"} {
		resp := postJSON(t, srv, "", path, map[string]string{})
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "path %s", path)
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBogusTokenRejected(t *testing.T) {
	_, srv := newTestServer(t, testConfig(t))

	resp := postJSON(t, srv, "not-a-real-token", "/api/send", SendRequest{ConversationID: "a|b", Content: "hi"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthenticateRejectsSeparatorInUserID(t *testing.T) {
	_, srv := newTestServer(t, testConfig(t))

	// The pipe is the dyadic ID separator; an identifier carrying it would
	// collide with a different pair's conversation.
	resp := postJSON(t, srv, "", "/api/authenticate", AuthenticateRequest{UserID: "a|b"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTokenFromEarlierLifetimeRejected(t *testing.T) {
	gw, srv := newTestServer(t, testConfig(t))

	// A well-signed token alone is not enough: the user must have
	// authenticated this process lifetime for presence to know them.
	token, _, err := gw.sessions.Issue("ghost")
	require.NoError(t, err)

	resp := postJSON(t, srv, token, "/api/join", JoinRequest{PeerID: "bob"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFullMessageLifecycleOverHTTP(t *testing.T) {
	_, srv := newTestServer(t, testConfig(t))

	aliceToken := authenticate(t, srv, "alice")
	bobToken := authenticate(t, srv, "bob")

	// Alice joins the dyadic conversation with Bob
	joinResp := postJSON(t, srv, aliceToken, "/api/join", JoinRequest{PeerID: "bob"})
	require.Equal(t, http.StatusOK, joinResp.StatusCode)
	join := decodeBody[JoinResponse](t, joinResp)
	assert.Equal(t, "alice|bob", join.Conversation.ID)
	assert.Empty(t, join.Messages)

	// Alice sends; the ack echoes her provisional ID
	sendResp := postJSON(t, srv, aliceToken, "/api/send", SendRequest{
		ConversationID: join.Conversation.ID,
		Content:        "helo",
		ProvisionalID:  "local-1",
	})
	require.Equal(t, http.StatusOK, sendResp.StatusCode)
	ack := decodeBody[message.DeliveryAckPayload](t, sendResp)
	assert.NotEmpty(t, ack.MessageID)
	assert.Equal(t, "local-1", ack.ProvisionalID)
	assert.Equal(t, "sent", ack.Status, "nobody holds an open event stream")

	// Alice fixes the typo within the edit window
	editResp := postJSON(t, srv, aliceToken, "/api/edit", EditRequest{MessageID: ack.MessageID, Content: "hello"})
	require.Equal(t, http.StatusOK, editResp.StatusCode)
	edited := decodeBody[message.MessagePayload](t, editResp)
	assert.True(t, edited.Edited)
	assert.Equal(t, "hello", edited.Content)
	assert.Equal(t, "helo", edited.OriginalContent)

	// Bob joins by the same reference and sees the edited message
	bobJoin := postJSON(t, srv, bobToken, "/api/join", JoinRequest{ConversationID: "alice|bob"})
	require.Equal(t, http.StatusOK, bobJoin.StatusCode)
	bobView := decodeBody[JoinResponse](t, bobJoin)
	require.Len(t, bobView.Messages, 1)
	assert.Equal(t, "hello", bobView.Messages[0].Content)

	// Bob reads the whole conversation
	readResp := postJSON(t, srv, bobToken, "/api/read", ReadRequest{ConversationID: "alice|bob"})
	require.Equal(t, http.StatusOK, readResp.StatusCode)
	read := decodeBody[ReadResponse](t, readResp)
	require.Len(t, read.Updated, 1)
	assert.Equal(t, "read", read.Updated[0].Status)

	// Alice deletes; the tombstone keeps identity but not content
	delResp := postJSON(t, srv, aliceToken, "/api/delete", DeleteRequest{MessageID: ack.MessageID})
	require.Equal(t, http.StatusOK, delResp.StatusCode)
	deleted := decodeBody[message.MessagePayload](t, delResp)
	assert.True(t, deleted.Deleted)
	assert.Equal(t, "[message deleted]", deleted.Content)
	assert.Empty(t, deleted.OriginalContent)
}

func TestJoinGroupAndOutsiderForbidden(t *testing.T) {
	_, srv := newTestServer(t, testConfig(t))

	aliceToken := authenticate(t, srv, "alice")
	malloryToken := authenticate(t, srv, "mallory")

	joinResp := postJSON(t, srv, aliceToken, "/api/join", JoinRequest{
		Participants: []string{"bob", "carol"},
		Name:         "team",
	})
	require.Equal(t, http.StatusOK, joinResp.StatusCode)
	join := decodeBody[JoinResponse](t, joinResp)
	assert.Equal(t, "group", join.Conversation.Kind)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, join.Conversation.Participants)

	// An outsider cannot join the group by reference
	outsider := postJSON(t, srv, malloryToken, "/api/join", JoinRequest{ConversationID: join.Conversation.ID})
	defer outsider.Body.Close()
	assert.Equal(t, http.StatusForbidden, outsider.StatusCode)

	// Nor send into it
	sendResp := postJSON(t, srv, malloryToken, "/api/send", SendRequest{
		ConversationID: join.Conversation.ID,
		Content:        "let me in",
	})
	defer sendResp.Body.Close()
	assert.Equal(t, http.StatusForbidden, sendResp.StatusCode)
}

func TestJoinDyadicReferenceMustIncludeCaller(t *testing.T) {
	_, srv := newTestServer(t, testConfig(t))
	malloryToken := authenticate(t, srv, "mallory")

	resp := postJSON(t, srv, malloryToken, "/api/join", JoinRequest{ConversationID: "alice|bob"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestJoinWithoutSelectorRejected(t *testing.T) {
	_, srv := newTestServer(t, testConfig(t))
	token := authenticate(t, srv, "alice")

	resp := postJSON(t, srv, token, "/api/join", JoinRequest{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGroupNeedsTwoDistinctParticipants(t *testing.T) {
	_, srv := newTestServer(t, testConfig(t))
	token := authenticate(t, srv, "alice")

	resp := postJSON(t, srv, token, "/api/join", JoinRequest{Participants: []string{"alice"}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendToUnknownConversation(t *testing.T) {
	_, srv := newTestServer(t, testConfig(t))
	token := authenticate(t, srv, "alice")

	resp := postJSON(t, srv, token, "/api/send", SendRequest{ConversationID: "no-such-group", Content: "hi"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEditByNonSenderForbidden(t *testing.T) {
	_, srv := newTestServer(t, testConfig(t))
	aliceToken := authenticate(t, srv, "alice")
	bobToken := authenticate(t, srv, "bob")

	join := decodeBody[JoinResponse](t, postJSON(t, srv, aliceToken, "/api/join", JoinRequest{PeerID: "bob"}))
	ack := decodeBody[message.DeliveryAckPayload](t, postJSON(t, srv, aliceToken, "/api/send", SendRequest{
		ConversationID: join.Conversation.ID,
		Content:        "mine",
	}))

	resp := postJSON(t, srv, bobToken, "/api/edit", EditRequest{MessageID: ack.MessageID, Content: "hijacked"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSendRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Messaging.SendRate = 1
	cfg.Messaging.SendBurst = 1
	_, srv := newTestServer(t, cfg)

	token := authenticate(t, srv, "alice")
	join := decodeBody[JoinResponse](t, postJSON(t, srv, token, "/api/join", JoinRequest{PeerID: "bob"}))

	first := postJSON(t, srv, token, "/api/send", SendRequest{ConversationID: join.Conversation.ID, Content: "one"})
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := postJSON(t, srv, token, "/api/send", SendRequest{ConversationID: join.Conversation.ID, Content: "two"})
	defer second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	_, srv := newTestServer(t, testConfig(t))

	for _, path := range []string{"/health", "/health/ready"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, fmt.Sprintf("path %s", path))
	}
}
