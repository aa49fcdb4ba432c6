// ABOUTME: Connection hub: session registry, per-user index, and fanout
// ABOUTME: Owns the heartbeat sweep, auth deadline, and graceful shutdown

package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-chat/parley/internal/metrics"
)

// Handler receives hub events. Implemented by the realtime gateway, which
// owns the frame protocol; the hub stays protocol-agnostic.
type Handler interface {
	// HandleFrame processes one inbound frame. Called sequentially per
	// connection; the next frame is not read until this returns.
	HandleFrame(ctx context.Context, sess *Session, data []byte)
	// HandleAuthTimeout fires when a session has not authenticated within
	// the deadline.
	HandleAuthTimeout(sess *Session)
	// HandleDisconnect fires after an authenticated session is removed.
	// lastConnection is true when the user has no sessions left.
	HandleDisconnect(ctx context.Context, userID string, lastConnection bool)
}

// Hub tracks live sessions and the users behind them. All state is
// in-memory and scoped to this process.
type Hub struct {
	heartbeat   time.Duration
	authTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu      sync.RWMutex
	handler Handler
	conns   map[string]*Session
	users   map[string]map[string]*Session

	pumps         sync.WaitGroup
	stopHeartbeat chan struct{}
	stopOnce      sync.Once
}

// New creates a hub. metrics may be nil (tests). The handler must be set
// with SetHandler before the first connection is served.
func New(heartbeat, authTimeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		heartbeat:     heartbeat,
		authTimeout:   authTimeout,
		metrics:       m,
		logger:        logger.With("component", "hub"),
		conns:         make(map[string]*Session),
		users:         make(map[string]map[string]*Session),
		stopHeartbeat: make(chan struct{}),
	}
}

// SetHandler binds the frame handler. Called once during wiring, before
// any connection is accepted.
func (h *Hub) SetHandler(handler Handler) {
	h.mu.Lock()
	h.handler = handler
	h.mu.Unlock()
}

// Serve registers a new connection and starts its pumps. Returns the
// session; the caller does not interact with it further.
func (h *Hub) Serve(conn Conn) *Session {
	sess := newSession(conn, h.logger)

	h.mu.Lock()
	h.conns[sess.ID] = sess
	h.mu.Unlock()
	h.updateGauges()

	sess.setAuthTimer(time.AfterFunc(h.authTimeout, func() {
		if sess.Authenticated() {
			return
		}
		h.logger.Debug("auth deadline expired", "conn_id", sess.ID)
		if handler := h.currentHandler(); handler != nil {
			handler.HandleAuthTimeout(sess)
		} else {
			sess.CloseWithCode(CloseAuthFailure, "authentication timeout")
		}
	}))

	h.pumps.Add(2)
	go func() {
		defer h.pumps.Done()
		sess.writePump()
	}()
	go func() {
		defer h.pumps.Done()
		h.readPump(sess)
	}()

	h.logger.Debug("connection opened", "conn_id", sess.ID)
	return sess
}

// Authenticate binds a session to a user. Returns true when this is the
// user's first live connection.
func (h *Hub) Authenticate(sess *Session, userID string) bool {
	sess.setUser(userID)

	h.mu.Lock()
	set, ok := h.users[userID]
	if !ok {
		set = make(map[string]*Session)
		h.users[userID] = set
	}
	first := len(set) == 0
	set[sess.ID] = sess
	h.mu.Unlock()

	h.updateGauges()
	return first
}

// SendToUser queues a frame on every session of a user. Full buffers drop
// the frame for that session. Returns true when at least one session
// accepted it.
func (h *Hub) SendToUser(userID string, data []byte) bool {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.users[userID]))
	for _, sess := range h.users[userID] {
		sessions = append(sessions, sess)
	}
	h.mu.RUnlock()

	sent := false
	for _, sess := range sessions {
		if sess.Send(data) {
			sent = true
			continue
		}
		h.logger.Warn("dropping frame, session buffer full", "conn_id", sess.ID, "user_id", userID)
		if h.metrics != nil {
			h.metrics.FrameDropped()
		}
	}
	return sent
}

// IsOnline reports whether a user has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// OnlineUsers returns the IDs of users with at least one connection.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.users))
	for id := range h.users {
		ids = append(ids, id)
	}
	return ids
}

// StartHeartbeat launches the ping sweep. A session that has not answered
// the previous ping by the next tick is force-closed, bounding dead
// connection detection to two intervals.
func (h *Hub) StartHeartbeat() {
	go func() {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopHeartbeat:
				return
			case <-ticker.C:
				h.sweep()
			}
		}
	}()
}

func (h *Hub) sweep() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.conns))
	for _, sess := range h.conns {
		sessions = append(sessions, sess)
	}
	h.mu.RUnlock()

	for _, sess := range sessions {
		if !sess.alive.Load() {
			h.logger.Warn("closing unresponsive connection", "conn_id", sess.ID, "user_id", sess.UserID())
			sess.terminate()
			continue
		}
		sess.alive.Store(false)
		if err := sess.ping(); err != nil {
			sess.terminate()
		}
	}
}

// Shutdown stops the heartbeat, closes every session with 1001 (going
// away), and waits for the pumps until ctx expires.
func (h *Hub) Shutdown(ctx context.Context) {
	h.stopOnce.Do(func() { close(h.stopHeartbeat) })

	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.conns))
	for _, sess := range h.conns {
		sessions = append(sessions, sess)
	}
	h.mu.RUnlock()

	for _, sess := range sessions {
		sess.CloseWithCode(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		h.logger.Warn("shutdown deadline reached with pumps still running")
	}
}

func (h *Hub) readPump(sess *Session) {
	defer func() {
		sess.terminate()
		userID, remaining := h.remove(sess)
		h.logger.Debug("connection closed", "conn_id", sess.ID, "user_id", userID)
		if userID != "" {
			if handler := h.currentHandler(); handler != nil {
				handler.HandleDisconnect(context.Background(), userID, remaining == 0)
			}
		}
	}()

	sess.conn.SetReadLimit(maxFrameSize)
	sess.conn.SetPongHandler(func(string) error {
		sess.alive.Store(true)
		return nil
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("read error", "conn_id", sess.ID, "error", err)
			}
			return
		}
		if handler := h.currentHandler(); handler != nil {
			handler.HandleFrame(context.Background(), sess, data)
		}
	}
}

func (h *Hub) remove(sess *Session) (userID string, remaining int) {
	h.mu.Lock()
	delete(h.conns, sess.ID)
	userID = sess.UserID()
	if userID != "" {
		if set, ok := h.users[userID]; ok {
			delete(set, sess.ID)
			remaining = len(set)
			if remaining == 0 {
				delete(h.users, userID)
			}
		}
	}
	h.mu.Unlock()
	h.updateGauges()
	return userID, remaining
}

func (h *Hub) currentHandler() Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.handler
}

func (h *Hub) updateGauges() {
	if h.metrics == nil {
		return
	}
	h.mu.RLock()
	conns := len(h.conns)
	users := len(h.users)
	h.mu.RUnlock()
	h.metrics.SetConnections(conns)
	h.metrics.SetOnlineUsers(users)
}
