// ABOUTME: Tests for the connection hub
// ABOUTME: Covers auth deadlines, fanout, buffer drops, heartbeat, and shutdown

package hub

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	autoPong bool

	mu       sync.Mutex
	writes   [][]byte
	written  []int // message types, parallel to writes
	controls []int
	pong     func(string) error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:       make(chan []byte, 16),
		closed:   make(chan struct{}),
		autoPong: true,
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.written = append(c.written, messageType)
	return nil
}

func (c *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	c.controls = append(c.controls, messageType)
	pong := c.pong
	auto := c.autoPong
	c.mu.Unlock()
	if messageType == websocket.PingMessage && auto && pong != nil {
		return pong("")
	}
	return nil
}

func (c *fakeConn) SetReadLimit(int64)              {}
func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error {
	return nil
}

func (c *fakeConn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	c.pong = h
	c.mu.Unlock()
}

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

func (c *fakeConn) dataWrites() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for i, data := range c.writes {
		if c.written[i] == websocket.TextMessage {
			out = append(out, data)
		}
	}
	return out
}

func (c *fakeConn) closeCode() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, data := range c.writes {
		if c.written[i] == websocket.CloseMessage && len(data) >= 2 {
			return int(binary.BigEndian.Uint16(data[:2])), true
		}
	}
	return 0, false
}

type disconnectEvent struct {
	userID string
	last   bool
}

type fakeHandler struct {
	mu           sync.Mutex
	frames       [][]byte
	authTimeouts []*Session
	disconnects  []disconnectEvent
}

func (h *fakeHandler) HandleFrame(_ context.Context, _ *Session, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, append([]byte(nil), data...))
}

func (h *fakeHandler) HandleAuthTimeout(sess *Session) {
	h.mu.Lock()
	h.authTimeouts = append(h.authTimeouts, sess)
	h.mu.Unlock()
	sess.CloseWithCode(CloseAuthFailure, "authentication timeout")
}

func (h *fakeHandler) HandleDisconnect(_ context.Context, userID string, last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects = append(h.disconnects, disconnectEvent{userID: userID, last: last})
}

func (h *fakeHandler) timeoutCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.authTimeouts)
}

func (h *fakeHandler) lastDisconnect() (disconnectEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.disconnects) == 0 {
		return disconnectEvent{}, false
	}
	return h.disconnects[len(h.disconnects)-1], true
}

func newTestHub(t *testing.T, heartbeat, authTimeout time.Duration) (*Hub, *fakeHandler) {
	t.Helper()
	h := New(heartbeat, authTimeout, nil, nil)
	handler := &fakeHandler{}
	h.SetHandler(handler)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.Shutdown(ctx)
	})
	return h, handler
}

func TestAuthenticateFirstConnection(t *testing.T) {
	h, _ := newTestHub(t, time.Hour, time.Hour)

	c1 := newFakeConn()
	s1 := h.Serve(c1)
	assert.True(t, h.Authenticate(s1, "user-1"))
	assert.True(t, h.IsOnline("user-1"))

	c2 := newFakeConn()
	s2 := h.Serve(c2)
	assert.False(t, h.Authenticate(s2, "user-1"))
	assert.Equal(t, 2, h.Count())
	assert.Equal(t, []string{"user-1"}, h.OnlineUsers())
}

func TestSendToUserFansOutToAllSessions(t *testing.T) {
	h, _ := newTestHub(t, time.Hour, time.Hour)

	c1, c2 := newFakeConn(), newFakeConn()
	h.Authenticate(h.Serve(c1), "user-1")
	h.Authenticate(h.Serve(c2), "user-1")

	require.True(t, h.SendToUser("user-1", []byte(`{"type":"x"}`)))
	require.Eventually(t, func() bool {
		return len(c1.dataWrites()) == 1 && len(c2.dataWrites()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.False(t, h.SendToUser("nobody", []byte("y")))
}

func TestSendToUserDropsOnFullBuffer(t *testing.T) {
	h, _ := newTestHub(t, time.Hour, time.Hour)

	// Session registered by hand so no write pump drains the buffer.
	sess := newSession(newFakeConn(), h.logger)
	sess.setUser("user-1")
	h.mu.Lock()
	h.conns[sess.ID] = sess
	h.users["user-1"] = map[string]*Session{sess.ID: sess}
	h.mu.Unlock()

	for i := 0; i < sendBuffer; i++ {
		require.True(t, sess.Send([]byte("fill")))
	}
	assert.False(t, h.SendToUser("user-1", []byte("overflow")))
}

func TestAuthTimeoutClosesConnection(t *testing.T) {
	h, handler := newTestHub(t, time.Hour, 20*time.Millisecond)

	c := newFakeConn()
	h.Serve(c)

	require.Eventually(t, func() bool { return handler.timeoutCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, c.isClosed, time.Second, 5*time.Millisecond)

	code, ok := c.closeCode()
	require.True(t, ok)
	assert.Equal(t, CloseAuthFailure, code)
}

func TestAuthCancelsTimeout(t *testing.T) {
	h, handler := newTestHub(t, time.Hour, 30*time.Millisecond)

	c := newFakeConn()
	sess := h.Serve(c)
	h.Authenticate(sess, "user-1")

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, handler.timeoutCount())
	assert.False(t, c.isClosed())
}

func TestDisconnectReportsLastConnection(t *testing.T) {
	h, handler := newTestHub(t, time.Hour, time.Hour)

	c1, c2 := newFakeConn(), newFakeConn()
	h.Authenticate(h.Serve(c1), "user-1")
	h.Authenticate(h.Serve(c2), "user-1")

	c1.Close()
	require.Eventually(t, func() bool {
		ev, ok := handler.lastDisconnect()
		return ok && ev.userID == "user-1" && !ev.last
	}, time.Second, 5*time.Millisecond)
	assert.True(t, h.IsOnline("user-1"))

	c2.Close()
	require.Eventually(t, func() bool {
		ev, ok := handler.lastDisconnect()
		return ok && ev.last
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.IsOnline("user-1"))
}

func TestFramesRoutedInOrder(t *testing.T) {
	h, handler := newTestHub(t, time.Hour, time.Hour)

	c := newFakeConn()
	h.Serve(c)
	c.in <- []byte("one")
	c.in <- []byte("two")

	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.frames) == 2
	}, time.Second, 5*time.Millisecond)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, "one", string(handler.frames[0]))
	assert.Equal(t, "two", string(handler.frames[1]))
}

func TestHeartbeatTerminatesUnresponsive(t *testing.T) {
	h, _ := newTestHub(t, 20*time.Millisecond, time.Hour)

	c := newFakeConn()
	c.autoPong = false
	h.Serve(c)
	h.StartHeartbeat()

	// First sweep pings, second sweep finds no pong and terminates.
	require.Eventually(t, c.isClosed, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHeartbeatKeepsResponsiveAlive(t *testing.T) {
	h, _ := newTestHub(t, 15*time.Millisecond, time.Hour)

	c := newFakeConn()
	h.Serve(c)
	h.StartHeartbeat()

	time.Sleep(100 * time.Millisecond)
	assert.False(t, c.isClosed())
	assert.Equal(t, 1, h.Count())
}

func TestShutdownClosesGoingAway(t *testing.T) {
	h := New(time.Hour, time.Hour, nil, nil)
	h.SetHandler(&fakeHandler{})

	c := newFakeConn()
	sess := h.Serve(c)
	h.Authenticate(sess, "user-1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.Shutdown(ctx)

	code, ok := c.closeCode()
	require.True(t, ok)
	assert.Equal(t, websocket.CloseGoingAway, code)
	assert.True(t, c.isClosed())
}

func TestSessionSendAfterCloseFails(t *testing.T) {
	sess := newSession(newFakeConn(), New(time.Hour, time.Hour, nil, nil).logger)
	sess.terminate()
	assert.False(t, sess.Send([]byte("late")))
}
