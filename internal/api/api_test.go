// ABOUTME: HTTP tests for the REST API against a real in-memory store
// ABOUTME: Exercises auth flows, conversation endpoints, edit/delete windows, and rate limits

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/conversation"
	"github.com/parley-chat/parley/internal/store"
)

type stubBroadcaster struct {
	mu      sync.Mutex
	edited  []*store.Message
	deleted []*store.Message
	fanned  []*store.Message
}

func (b *stubBroadcaster) BroadcastEdited(_ context.Context, msg *store.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edited = append(b.edited, msg)
}

func (b *stubBroadcaster) BroadcastDeleted(_ context.Context, msg *store.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, msg)
}

func (b *stubBroadcaster) FanoutMessage(_ context.Context, msg *store.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fanned = append(b.fanned, msg)
}

type harness struct {
	st        *store.SQLiteStore
	srv       *httptest.Server
	broadcast *stubBroadcaster
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tokens := auth.NewService([]byte("test-secret"), 15*time.Minute, 7*24*time.Hour, st, nil)
	convs := conversation.New(st, nil)
	groups := conversation.NewGroupService(st, convs, nil)
	broadcast := &stubBroadcaster{}

	a := New(Deps{
		Store:         st,
		Tokens:        tokens,
		Conversations: convs,
		Groups:        groups,
		Broadcast:     broadcast,
	})
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	return &harness{st: st, srv: srv, broadcast: broadcast}
}

// do issues a request and decodes the JSON response into a map.
func (h *harness) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

type account struct {
	userID       string
	accessToken  string
	refreshToken string
}

func (h *harness) register(t *testing.T, username string) account {
	t.Helper()
	status, body := h.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"username":    username,
		"email":       username + "@example.com",
		"password":    "hunter2hunter2",
		"displayName": username,
	})
	require.Equal(t, http.StatusCreated, status, "register %s: %v", username, body)

	user := body["user"].(map[string]any)
	return account{
		userID:       user["id"].(string),
		accessToken:  body["accessToken"].(string),
		refreshToken: body["refreshToken"].(string),
	}
}

func errCode(body map[string]any) string {
	e, ok := body["error"].(map[string]any)
	if !ok {
		return ""
	}
	code, _ := e["code"].(string)
	return code
}

func errMessage(body map[string]any) string {
	e, ok := body["error"].(map[string]any)
	if !ok {
		return ""
	}
	msg, _ := e["message"].(string)
	return msg
}

func (h *harness) insertMessage(t *testing.T, convID, senderID, content string, at time.Time) *store.Message {
	t.Helper()
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: convID,
		SenderID:       senderID,
		Content:        content,
		ContentType:    store.ContentTypeText,
		CreatedAt:      at,
	}
	require.NoError(t, h.st.CreateMessage(context.Background(), msg))
	return msg
}

func (h *harness) directConv(t *testing.T, a account, otherID string) string {
	t.Helper()
	status, body := h.do(t, http.MethodPost, "/api/conversations/direct", a.accessToken,
		map[string]any{"userId": otherID})
	require.Contains(t, []int{http.StatusCreated, http.StatusOK}, status)
	return body["id"].(string)
}

func TestRegisterLoginFlow(t *testing.T) {
	h := newHarness(t)

	alice := h.register(t, "alice")
	assert.NotEmpty(t, alice.accessToken)
	assert.NotEmpty(t, alice.refreshToken)

	// Same username again collides.
	status, body := h.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"username":    "alice",
		"email":       "other@example.com",
		"password":    "hunter2hunter2",
		"displayName": "Alice Again",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", errCode(body))

	status, body = h.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email":    "alice@example.com",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, status)
	user := body["user"].(map[string]any)
	assert.Equal(t, alice.userID, user["id"])
	assert.Equal(t, "alice@example.com", user["email"])

	status, body = h.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email":    "alice@example.com",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid email or password", errMessage(body))

	// Unknown email gets the same message as a wrong password.
	status, body = h.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email":    "nobody@example.com",
		"password": "hunter2hunter2",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid email or password", errMessage(body))
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"username":    "a!",
		"email":       "not-an-email",
		"password":    "short",
		"displayName": "",
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "VALIDATION_ERROR", errCode(body))

	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Contains(t, details, "username")
	assert.Contains(t, details, "email")
	assert.Contains(t, details, "password")
	assert.Contains(t, details, "displayName")
}

func TestRefreshRotationAndLogout(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")

	status, body := h.do(t, http.MethodPost, "/api/auth/refresh", "",
		map[string]any{"refreshToken": alice.refreshToken})
	require.Equal(t, http.StatusOK, status)
	next := body["refreshToken"].(string)
	assert.NotEqual(t, alice.refreshToken, next)

	// The rotated-out token is dead.
	status, _ = h.do(t, http.MethodPost, "/api/auth/refresh", "",
		map[string]any{"refreshToken": alice.refreshToken})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.do(t, http.MethodPost, "/api/auth/logout", alice.accessToken,
		map[string]any{"refreshToken": next})
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = h.do(t, http.MethodPost, "/api/auth/refresh", "",
		map[string]any{"refreshToken": next})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/api/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "AUTHENTICATION_ERROR", errCode(body))

	status, _ = h.do(t, http.MethodGet, "/api/users/me", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestUpdateProfile(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")

	status, body := h.do(t, http.MethodPut, "/api/users/me", alice.accessToken,
		map[string]any{"displayName": "Alice L.", "bio": "around"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Alice L.", body["displayName"])
	assert.Equal(t, "around", body["bio"])

	status, body = h.do(t, http.MethodPut, "/api/users/me", alice.accessToken,
		map[string]any{"displayName": ""})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", errCode(body))
}

func TestUserSearchAndLookup(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")

	status, body := h.do(t, http.MethodGet, "/api/users/search?q=bo", alice.accessToken, nil)
	require.Equal(t, http.StatusOK, status)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	found := items[0].(map[string]any)
	assert.Equal(t, bob.userID, found["id"])
	// Public projections never expose the email.
	assert.NotContains(t, found, "email")

	// Caller is excluded from their own search results.
	status, body = h.do(t, http.MethodGet, "/api/users/search?q=alice", alice.accessToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["items"])

	status, _ = h.do(t, http.MethodGet, "/api/users/"+bob.userID, alice.accessToken, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = h.do(t, http.MethodGet, "/api/users/"+uuid.New().String(), alice.accessToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "User not found", errMessage(body))
}

func TestDirectConversationEndpoints(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")

	status, body := h.do(t, http.MethodPost, "/api/conversations/direct", alice.accessToken,
		map[string]any{"userId": bob.userID})
	require.Equal(t, http.StatusCreated, status)
	convID := body["id"].(string)

	// Second call returns the existing conversation with 200.
	status, body = h.do(t, http.MethodPost, "/api/conversations/direct", bob.accessToken,
		map[string]any{"userId": alice.userID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, convID, body["id"])

	h.insertMessage(t, convID, bob.userID, "hello", time.Now().UTC())

	status, body = h.do(t, http.MethodGet, "/api/conversations", alice.accessToken, nil)
	require.Equal(t, http.StatusOK, status)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	conv := items[0].(map[string]any)
	assert.Equal(t, float64(1), conv["unreadCount"])
	assert.Equal(t, "hello", conv["lastMessage"].(map[string]any)["content"])

	status, body = h.do(t, http.MethodGet, "/api/conversations/"+convID+"/messages?limit=10", alice.accessToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["messages"].([]any), 1)
	assert.Equal(t, false, body["hasMore"])

	status, body = h.do(t, http.MethodPost, "/api/conversations/direct", alice.accessToken,
		map[string]any{"userId": uuid.New().String()})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "User not found", errMessage(body))
}

func TestGroupEndpoints(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	carol := h.register(t, "carol")

	status, body := h.do(t, http.MethodPost, "/api/groups", alice.accessToken, map[string]any{
		"name":      "plans",
		"memberIds": []string{bob.userID},
	})
	require.Equal(t, http.StatusCreated, status, "create group: %v", body)
	groupID := body["group"].(map[string]any)["id"].(string)

	status, body = h.do(t, http.MethodPost, "/api/groups/"+groupID+"/members", alice.accessToken,
		map[string]any{"memberIds": []string{carol.userID}})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["participants"].([]any), 3)

	// Non-admins cannot rename.
	status, body = h.do(t, http.MethodPut, "/api/groups/"+groupID, bob.accessToken,
		map[string]any{"name": "new name"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Admin privileges required", errMessage(body))

	status, _ = h.do(t, http.MethodPut, "/api/groups/"+groupID+"/members/"+bob.userID+"/role",
		alice.accessToken, map[string]any{"role": "ADMIN"})
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = h.do(t, http.MethodDelete, "/api/groups/"+groupID+"/members/"+carol.userID,
		alice.accessToken, nil)
	assert.Equal(t, http.StatusNoContent, status)

	// Removed members lose access.
	status, _ = h.do(t, http.MethodGet, "/api/groups/"+groupID, carol.accessToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestEditMessage(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	convID := h.directConv(t, alice, bob.userID)

	msg := h.insertMessage(t, convID, alice.userID, "draft", time.Now().UTC())

	status, body := h.do(t, http.MethodPut, "/api/messages/"+msg.ID, alice.accessToken,
		map[string]any{"content": "final"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "final", body["content"])
	assert.NotNil(t, body["editedAt"])
	require.Len(t, h.broadcast.edited, 1)
	assert.Equal(t, msg.ID, h.broadcast.edited[0].ID)

	status, _ = h.do(t, http.MethodPut, "/api/messages/"+msg.ID, bob.accessToken,
		map[string]any{"content": "hijack"})
	assert.Equal(t, http.StatusForbidden, status)

	stale := h.insertMessage(t, convID, alice.userID, "old", time.Now().UTC().Add(-16*time.Minute))
	status, body = h.do(t, http.MethodPut, "/api/messages/"+stale.ID, alice.accessToken,
		map[string]any{"content": "too late"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Edit window has expired", errMessage(body))
}

func TestDeleteMessage(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	convID := h.directConv(t, alice, bob.userID)

	msg := h.insertMessage(t, convID, alice.userID, "oops", time.Now().UTC())

	status, body := h.do(t, http.MethodDelete, "/api/messages/"+msg.ID, alice.accessToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, store.DeletedPlaceholder, body["content"])
	assert.Equal(t, true, body["deleted"])
	require.Len(t, h.broadcast.deleted, 1)

	// Deleting again is a no-op, not an error.
	status, _ = h.do(t, http.MethodDelete, "/api/messages/"+msg.ID, alice.accessToken, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, h.broadcast.deleted, 1)

	stale := h.insertMessage(t, convID, alice.userID, "ancient", time.Now().UTC().Add(-2*time.Hour))
	status, body = h.do(t, http.MethodDelete, "/api/messages/"+stale.ID, alice.accessToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Delete window has expired", errMessage(body))
}

func TestForwardMessage(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	carol := h.register(t, "carol")

	src := h.directConv(t, alice, bob.userID)
	target := h.directConv(t, alice, carol.userID)
	msg := h.insertMessage(t, src, bob.userID, "worth sharing", time.Now().UTC())

	// One valid target, one conversation the caller is not part of.
	outside := h.directConv(t, bob, carol.userID)
	status, body := h.do(t, http.MethodPost, "/api/messages/forward", alice.accessToken, map[string]any{
		"messageId":       msg.ID,
		"conversationIds": []string{target, outside},
	})
	require.Equal(t, http.StatusCreated, status)
	created := body["messages"].([]any)
	require.Len(t, created, 1)
	forwarded := created[0].(map[string]any)
	assert.Equal(t, target, forwarded["conversationId"])
	assert.Equal(t, "worth sharing", forwarded["content"])
	assert.Equal(t, alice.userID, forwarded["senderId"])
	assert.Len(t, h.broadcast.fanned, 1)

	// Messages in conversations the caller cannot see read as missing.
	hidden := h.insertMessage(t, outside, bob.userID, "private", time.Now().UTC())
	status, body = h.do(t, http.MethodPost, "/api/messages/forward", alice.accessToken, map[string]any{
		"messageId":       hidden.ID,
		"conversationIds": []string{target},
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Message not found", errMessage(body))
}

func TestSearchMessages(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	convID := h.directConv(t, alice, bob.userID)

	now := time.Now().UTC()
	h.insertMessage(t, convID, bob.userID, "the plan is set", now.Add(-2*time.Minute))
	deleted := h.insertMessage(t, convID, bob.userID, "secret plan", now.Add(-time.Minute))
	require.NoError(t, h.st.TombstoneMessage(context.Background(), deleted.ID, store.DeletedPlaceholder, now))

	status, body := h.do(t, http.MethodGet, "/api/messages/search?q=plan", alice.accessToken, nil)
	require.Equal(t, http.StatusOK, status)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "the plan is set", items[0].(map[string]any)["content"])

	status, body = h.do(t, http.MethodGet, "/api/messages/search", alice.accessToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Query parameter q is required", errMessage(body))
}

func TestContacts(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")

	status, body := h.do(t, http.MethodPost, "/api/contacts", alice.accessToken,
		map[string]any{"userId": bob.userID, "nickname": "bobby"})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "bobby", body["nickname"])

	status, body = h.do(t, http.MethodPost, "/api/contacts", alice.accessToken,
		map[string]any{"userId": bob.userID})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Contact already exists", errMessage(body))

	status, body = h.do(t, http.MethodGet, "/api/contacts", alice.accessToken, nil)
	require.Equal(t, http.StatusOK, status)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, bob.userID, items[0].(map[string]any)["user"].(map[string]any)["id"])

	status, body = h.do(t, http.MethodPut, "/api/contacts/"+bob.userID, alice.accessToken,
		map[string]any{"nickname": "robert"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "robert", body["nickname"])

	status, _ = h.do(t, http.MethodDelete, "/api/contacts/"+bob.userID, alice.accessToken, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = h.do(t, http.MethodDelete, "/api/contacts/"+bob.userID, alice.accessToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestBlocks(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")

	status, body := h.do(t, http.MethodPost, "/api/blocks", alice.accessToken,
		map[string]any{"userId": alice.userID})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Cannot block yourself", errMessage(body))

	status, _ = h.do(t, http.MethodPost, "/api/blocks", alice.accessToken,
		map[string]any{"userId": bob.userID})
	require.Equal(t, http.StatusCreated, status)

	// Blocks stop new direct conversations in both directions.
	status, body = h.do(t, http.MethodPost, "/api/conversations/direct", bob.accessToken,
		map[string]any{"userId": alice.userID})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Cannot start a conversation with this user", errMessage(body))

	status, body = h.do(t, http.MethodGet, "/api/blocks", alice.accessToken, nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["items"].([]any), 1)

	status, _ = h.do(t, http.MethodDelete, "/api/blocks/"+bob.userID, alice.accessToken, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = h.do(t, http.MethodPost, "/api/conversations/direct", bob.accessToken,
		map[string]any{"userId": alice.userID})
	assert.Equal(t, http.StatusCreated, status)
}

func TestUnreadNotifications(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	convID := h.directConv(t, alice, bob.userID)

	now := time.Now().UTC()
	h.insertMessage(t, convID, bob.userID, "one", now.Add(-2*time.Second))
	h.insertMessage(t, convID, bob.userID, "two", now.Add(-time.Second))

	status, body := h.do(t, http.MethodGet, "/api/notifications/unread", alice.accessToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), body["total"])
	convs := body["conversations"].([]any)
	require.Len(t, convs, 1)
	assert.Equal(t, convID, convs[0].(map[string]any)["conversationId"])

	// The sender has nothing unread.
	status, body = h.do(t, http.MethodGet, "/api/notifications/unread", bob.accessToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["total"])
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthRateLimit(t *testing.T) {
	h := newHarness(t)

	var limited bool
	for i := 0; i < authRateBurst+1; i++ {
		status, body := h.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
			"email":    fmt.Sprintf("probe%d@example.com", i),
			"password": "whatever-pass",
		})
		if status == http.StatusTooManyRequests {
			limited = true
			assert.Equal(t, "RATE_LIMITED", errCode(body))
		}
	}
	assert.True(t, limited, "expected the burst to exhaust the limiter")
}
