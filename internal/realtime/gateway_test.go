// ABOUTME: Tests for the WebSocket gateway and dispatcher
// ABOUTME: Covers auth frames, error codes, send/deliver, read, typing, presence

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/conversation"
	"github.com/parley-chat/parley/internal/hub"
	"github.com/parley-chat/parley/internal/store"
)

// stubVerifier accepts tokens of the form "tok-<userID>".
type stubVerifier struct{}

func (stubVerifier) VerifyAccess(token string) (string, error) {
	if id, ok := strings.CutPrefix(token, "tok-"); ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

type fakeConn struct {
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes [][]byte
	types  []int
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("use of closed connection")
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.types = append(c.types, messageType)
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetReadLimit(int64)                        {}
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *fakeConn) SetPongHandler(func(string) error)         {}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// frames returns every data frame written so far, decoded.
func (c *fakeConn) frames() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Envelope
	for i, data := range c.writes {
		if c.types[i] != websocket.TextMessage {
			continue
		}
		var env Envelope
		if json.Unmarshal(data, &env) == nil {
			out = append(out, env)
		}
	}
	return out
}

func (c *fakeConn) framesOfType(frameType string) []Envelope {
	var out []Envelope
	for _, env := range c.frames() {
		if env.Type == frameType {
			out = append(out, env)
		}
	}
	return out
}

type harness struct {
	st    *store.SQLiteStore
	hub   *hub.Hub
	convs *conversation.Service
	g     *Gateway
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	convs := conversation.New(st, nil)
	h := hub.New(time.Hour, time.Hour, nil, nil)
	g := NewGateway(h, st, convs, stubVerifier{}, nil, 40*time.Millisecond, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.Shutdown(ctx)
	})
	return &harness{st: st, hub: h, convs: convs, g: g}
}

func (h *harness) createUser(t *testing.T, username string) *store.User {
	t.Helper()
	now := time.Now().UTC()
	u := &store.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
		DisplayName:  username,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, h.st.CreateUser(context.Background(), u))
	return u
}

// connect serves a fake connection and optionally authenticates it.
func (h *harness) connect(t *testing.T, userID string) (*fakeConn, *hub.Session) {
	t.Helper()
	c := newFakeConn()
	sess := h.hub.Serve(c)
	if userID != "" {
		h.g.HandleFrame(context.Background(), sess, clientFrame(t, "f-auth", TypeAuth, authPayload{Token: "tok-" + userID}))
		require.True(t, sess.Authenticated())
	}
	return c, sess
}

func (h *harness) directConv(t *testing.T, a, b string) string {
	t.Helper()
	view, _, err := h.convs.GetOrCreateDirect(context.Background(), a, b)
	require.NoError(t, err)
	return view.ID
}

func clientFrame(t *testing.T, id, frameType string, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(Envelope{
		ID:        id,
		Type:      frameType,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	return data
}

func waitForFrames(t *testing.T, c *fakeConn, frameType string, n int) []Envelope {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(c.framesOfType(frameType)) >= n
	}, time.Second, 5*time.Millisecond, "waiting for %d %s frames", n, frameType)
	return c.framesOfType(frameType)
}

func decodePayload[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	return v
}

func TestAuthSuccess(t *testing.T) {
	h := newHarness(t)
	alice := h.createUser(t, "alice")

	c, sess := h.connect(t, "")
	h.g.HandleFrame(context.Background(), sess, clientFrame(t, "f-1", TypeAuth, authPayload{Token: "tok-" + alice.ID}))

	require.True(t, sess.Authenticated())
	frames := waitForFrames(t, c, TypeAuthSuccess, 1)
	assert.Equal(t, "f-1", frames[0].ReplyTo)
	p := decodePayload[authSuccessPayload](t, frames[0])
	assert.Equal(t, alice.ID, p.UserID)

	stored, err := h.st.GetUser(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOnline)
}

func TestAuthFailureCloses(t *testing.T) {
	h := newHarness(t)

	c, sess := h.connect(t, "")
	h.g.HandleFrame(context.Background(), sess, clientFrame(t, "f-1", TypeAuth, authPayload{Token: "garbage"}))

	waitForFrames(t, c, TypeAuthError, 1)
	require.Eventually(t, c.isClosed, time.Second, 5*time.Millisecond)
	assert.False(t, sess.Authenticated())
}

func TestUnauthenticatedFrameRejected(t *testing.T) {
	h := newHarness(t)

	c, sess := h.connect(t, "")
	h.g.HandleFrame(context.Background(), sess, clientFrame(t, "f-1", TypeChatSend, chatSendPayload{}))

	frames := waitForFrames(t, c, TypeError, 1)
	p := decodePayload[errorPayload](t, frames[0])
	assert.Equal(t, CodeNotAuthenticated, p.Code)
	assert.Equal(t, "f-1", frames[0].ReplyTo)
}

func TestMalformedFrame(t *testing.T) {
	h := newHarness(t)
	alice := h.createUser(t, "alice")
	c, sess := h.connect(t, alice.ID)

	h.g.HandleFrame(context.Background(), sess, []byte("{not json"))

	frames := waitForFrames(t, c, TypeError, 1)
	p := decodePayload[errorPayload](t, frames[0])
	assert.Equal(t, CodeInvalidMessage, p.Code)
}

func TestUnknownFrameType(t *testing.T) {
	h := newHarness(t)
	alice := h.createUser(t, "alice")
	c, sess := h.connect(t, alice.ID)

	h.g.HandleFrame(context.Background(), sess, clientFrame(t, "f-1", "chat:dance", map[string]string{}))

	frames := waitForFrames(t, c, TypeError, 1)
	p := decodePayload[errorPayload](t, frames[0])
	assert.Equal(t, CodeUnknownType, p.Code)
	assert.Contains(t, p.Message, "chat:dance")
}

func TestChatSendDeliversAndAcks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createUser(t, "alice")
	bob := h.createUser(t, "bob")
	convID := h.directConv(t, alice.ID, bob.ID)

	aliceConn, aliceSess := h.connect(t, alice.ID)
	bobConn, _ := h.connect(t, bob.ID)

	h.g.HandleFrame(ctx, aliceSess, clientFrame(t, "f-send", TypeChatSend, chatSendPayload{
		ConversationID: convID,
		Content:        "hello bob",
	}))

	sent := waitForFrames(t, aliceConn, TypeChatSent, 1)
	assert.Equal(t, "f-send", sent[0].ReplyTo)
	sentPayload := decodePayload[chatSentPayload](t, sent[0])
	assert.Equal(t, "f-send", sentPayload.ClientMessageID)
	assert.Equal(t, convID, sentPayload.ConversationID)
	assert.NotEmpty(t, sentPayload.MessageID)

	received := waitForFrames(t, bobConn, TypeChatReceive, 1)
	recvPayload := decodePayload[chatReceivePayload](t, received[0])
	assert.Equal(t, sentPayload.MessageID, recvPayload.MessageID)
	assert.Equal(t, convID, recvPayload.ConversationID)
	assert.Equal(t, "hello bob", recvPayload.Content)
	assert.Equal(t, alice.ID, recvPayload.SenderID)
	assert.Equal(t, "alice", recvPayload.SenderName)
	assert.NotZero(t, recvPayload.Timestamp)

	delivered := waitForFrames(t, aliceConn, TypeChatDelivered, 1)
	delPayload := decodePayload[chatDeliveredPayload](t, delivered[0])
	assert.Equal(t, sentPayload.MessageID, delPayload.MessageID)
	assert.Equal(t, convID, delPayload.ConversationID)
	assert.Equal(t, bob.ID, delPayload.DeliveredTo)

	unread := waitForFrames(t, bobConn, TypeNotificationUnread, 1)
	up := decodePayload[unreadPayload](t, unread[0])
	assert.Equal(t, convID, up.ConversationID)
	assert.Equal(t, 1, up.UnreadCount)

	receipt, err := h.st.GetReceipt(ctx, sentPayload.MessageID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ReceiptDelivered, receipt.Status)
}

func TestChatSendOfflineRecipientNoReceipt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createUser(t, "alice")
	bob := h.createUser(t, "bob")
	convID := h.directConv(t, alice.ID, bob.ID)

	aliceConn, aliceSess := h.connect(t, alice.ID)

	h.g.HandleFrame(ctx, aliceSess, clientFrame(t, "f-send", TypeChatSend, chatSendPayload{
		ConversationID: convID,
		Content:        "anyone home?",
	}))

	sent := waitForFrames(t, aliceConn, TypeChatSent, 1)
	sentPayload := decodePayload[chatSentPayload](t, sent[0])

	_, err := h.st.GetReceipt(ctx, sentPayload.MessageID, bob.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, aliceConn.framesOfType(TypeChatDelivered))
}

func TestChatSendBlockedDirect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createUser(t, "alice")
	bob := h.createUser(t, "bob")
	convID := h.directConv(t, alice.ID, bob.ID)

	require.NoError(t, h.st.CreateBlock(ctx, &store.Block{
		ID: uuid.New().String(), BlockerID: bob.ID, BlockedID: alice.ID, CreatedAt: time.Now().UTC(),
	}))

	aliceConn, aliceSess := h.connect(t, alice.ID)
	h.g.HandleFrame(ctx, aliceSess, clientFrame(t, "f-send", TypeChatSend, chatSendPayload{
		ConversationID: convID,
		Content:        "hello?",
	}))

	frames := waitForFrames(t, aliceConn, TypeError, 1)
	p := decodePayload[errorPayload](t, frames[0])
	assert.Equal(t, CodeSendFailed, p.Code)
}

func TestChatSendNonParticipant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createUser(t, "alice")
	bob := h.createUser(t, "bob")
	carol := h.createUser(t, "carol")
	convID := h.directConv(t, alice.ID, bob.ID)

	carolConn, carolSess := h.connect(t, carol.ID)
	h.g.HandleFrame(ctx, carolSess, clientFrame(t, "f-send", TypeChatSend, chatSendPayload{
		ConversationID: convID,
		Content:        "let me in",
	}))

	frames := waitForFrames(t, carolConn, TypeError, 1)
	assert.Equal(t, CodeSendFailed, decodePayload[errorPayload](t, frames[0]).Code)
}

func TestChatSendValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createUser(t, "alice")
	bob := h.createUser(t, "bob")
	convID := h.directConv(t, alice.ID, bob.ID)

	conn, sess := h.connect(t, alice.ID)

	h.g.HandleFrame(ctx, sess, clientFrame(t, "f-1", TypeChatSend, chatSendPayload{
		ConversationID: convID,
		Content:        "x",
		ContentType:    "SYSTEM",
	}))
	frames := waitForFrames(t, conn, TypeError, 1)
	assert.Equal(t, CodeInvalidPayload, decodePayload[errorPayload](t, frames[0]).Code)

	h.g.HandleFrame(ctx, sess, clientFrame(t, "f-2", TypeChatSend, chatSendPayload{
		ConversationID: convID,
		Content:        "",
	}))
	frames = waitForFrames(t, conn, TypeError, 2)
	assert.Equal(t, CodeInvalidPayload, decodePayload[errorPayload](t, frames[1]).Code)

	h.g.HandleFrame(ctx, sess, clientFrame(t, "f-3", TypeChatSend, chatSendPayload{
		ConversationID:   convID,
		Content:          "reply",
		ReplyToMessageID: "missing",
	}))
	frames = waitForFrames(t, conn, TypeError, 3)
	assert.Equal(t, CodeNotFound, decodePayload[errorPayload](t, frames[2]).Code)
}

func TestChatReadBulk(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createUser(t, "alice")
	bob := h.createUser(t, "bob")
	convID := h.directConv(t, alice.ID, bob.ID)

	aliceConn, aliceSess := h.connect(t, alice.ID)
	_, bobSess := h.connect(t, bob.ID)

	// Alice sends three messages.
	var lastMessageID string
	for i, content := range []string{"one", "two", "three"} {
		h.g.HandleFrame(ctx, aliceSess, clientFrame(t, "f-"+content, TypeChatSend, chatSendPayload{
			ConversationID: convID,
			Content:        content,
		}))
		sent := waitForFrames(t, aliceConn, TypeChatSent, i+1)
		lastMessageID = decodePayload[chatSentPayload](t, sent[i]).MessageID
	}

	// Bob reads the newest; all three upgrade to READ.
	h.g.HandleFrame(ctx, bobSess, clientFrame(t, "f-read", TypeChatRead, chatReadPayload{
		ConversationID: convID,
		MessageID:      lastMessageID,
	}))

	readFrames := waitForFrames(t, aliceConn, TypeChatRead, 3)
	for _, env := range readFrames {
		p := decodePayload[chatReadEvent](t, env)
		assert.Equal(t, bob.ID, p.ReadBy)
		assert.Equal(t, convID, p.ConversationID)
	}

	receipt, err := h.st.GetReceipt(ctx, lastMessageID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ReceiptRead, receipt.Status)

	part, err := h.st.GetParticipant(ctx, convID, bob.ID)
	require.NoError(t, err)
	assert.NotNil(t, part.LastReadAt)
}

func TestChatReadWrongConversationIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createUser(t, "alice")
	bob := h.createUser(t, "bob")
	carol := h.createUser(t, "carol")
	abConv := h.directConv(t, alice.ID, bob.ID)
	acConv := h.directConv(t, alice.ID, carol.ID)

	msg := &store.Message{
		ID: uuid.New().String(), ConversationID: acConv, SenderID: alice.ID,
		Content: "elsewhere", ContentType: store.ContentTypeText, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, h.st.CreateMessage(ctx, msg))

	bobConn, bobSess := h.connect(t, bob.ID)
	h.g.HandleFrame(ctx, bobSess, clientFrame(t, "f-read", TypeChatRead, chatReadPayload{
		ConversationID: abConv,
		MessageID:      msg.ID,
	}))

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, bobConn.framesOfType(TypeError))
	_, err := h.st.GetReceipt(ctx, msg.ID, bob.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTypingRebroadcastAndAutoClear(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createUser(t, "alice")
	bob := h.createUser(t, "bob")
	convID := h.directConv(t, alice.ID, bob.ID)

	_, aliceSess := h.connect(t, alice.ID)
	bobConn, _ := h.connect(t, bob.ID)

	h.g.HandleFrame(ctx, aliceSess, clientFrame(t, "f-t", TypeChatTyping, chatTypingPayload{
		ConversationID: convID,
		IsTyping:       true,
	}))

	frames := waitForFrames(t, bobConn, TypeChatTyping, 1)
	p := decodePayload[chatTypingEvent](t, frames[0])
	assert.Equal(t, alice.ID, p.UserID)
	assert.True(t, p.IsTyping)

	// The 40ms tracker timeout clears typing without another frame.
	frames = waitForFrames(t, bobConn, TypeChatTyping, 2)
	p = decodePayload[chatTypingEvent](t, frames[1])
	assert.False(t, p.IsTyping)
}

func TestTypingExplicitStopCancelsTimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createUser(t, "alice")
	bob := h.createUser(t, "bob")
	convID := h.directConv(t, alice.ID, bob.ID)

	_, aliceSess := h.connect(t, alice.ID)
	bobConn, _ := h.connect(t, bob.ID)

	h.g.HandleFrame(ctx, aliceSess, clientFrame(t, "f-1", TypeChatTyping, chatTypingPayload{ConversationID: convID, IsTyping: true}))
	h.g.HandleFrame(ctx, aliceSess, clientFrame(t, "f-2", TypeChatTyping, chatTypingPayload{ConversationID: convID, IsTyping: false}))

	waitForFrames(t, bobConn, TypeChatTyping, 2)
	time.Sleep(80 * time.Millisecond)
	// No third frame from the cancelled timer.
	assert.Len(t, bobConn.framesOfType(TypeChatTyping), 2)
}

func TestPresenceBroadcasts(t *testing.T) {
	h := newHarness(t)
	alice := h.createUser(t, "alice")
	bob := h.createUser(t, "bob")
	h.directConv(t, alice.ID, bob.ID)

	bobConn, _ := h.connect(t, bob.ID)

	// First connection broadcasts online to bob.
	_, _ = h.connect(t, alice.ID)
	frames := waitForFrames(t, bobConn, TypePresenceUpdate, 1)
	p := decodePayload[presencePayload](t, frames[0])
	assert.Equal(t, alice.ID, p.UserID)
	assert.Equal(t, PresenceOnline, p.Status)

	// A second simultaneous connection stays quiet.
	_, _ = h.connect(t, alice.ID)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, bobConn.framesOfType(TypePresenceUpdate), 1)
}

func TestDisconnectLastConnectionGoesOffline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createUser(t, "alice")
	bob := h.createUser(t, "bob")
	h.directConv(t, alice.ID, bob.ID)

	bobConn, _ := h.connect(t, bob.ID)
	h.connect(t, alice.ID)

	waitForFrames(t, bobConn, TypePresenceUpdate, 1)

	// The hub reports the last connection closing; offline flows out.
	h.g.HandleDisconnect(ctx, alice.ID, true)

	frames := waitForFrames(t, bobConn, TypePresenceUpdate, 2)
	p := decodePayload[presencePayload](t, frames[1])
	assert.Equal(t, PresenceOffline, p.Status)
	require.NotNil(t, p.LastSeen)

	stored, err := h.st.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsOnline)
}

func TestBroadcastEditedAndDeleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createUser(t, "alice")
	bob := h.createUser(t, "bob")
	convID := h.directConv(t, alice.ID, bob.ID)

	aliceConn, _ := h.connect(t, alice.ID)
	bobConn, _ := h.connect(t, bob.ID)

	now := time.Now().UTC()
	msg := &store.Message{
		ID: uuid.New().String(), ConversationID: convID, SenderID: alice.ID,
		Content: "edited content", ContentType: store.ContentTypeText,
		EditedAt: &now, CreatedAt: now,
	}
	require.NoError(t, h.st.CreateMessage(ctx, msg))

	h.g.BroadcastEdited(ctx, msg)
	frames := waitForFrames(t, bobConn, TypeChatEdited, 1)
	p := decodePayload[chatEditedPayload](t, frames[0])
	assert.Equal(t, "edited content", p.NewContent)
	assert.Empty(t, aliceConn.framesOfType(TypeChatEdited))

	h.g.BroadcastDeleted(ctx, msg)
	waitForFrames(t, bobConn, TypeChatDeleted, 1)
	// Deletion reaches the sender too.
	waitForFrames(t, aliceConn, TypeChatDeleted, 1)
}
