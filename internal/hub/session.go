// ABOUTME: Session: one WebSocket connection with a buffered write pump
// ABOUTME: Non-blocking sends, liveness flag, and close-once teardown

package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lithammer/shortuuid/v4"
)

const (
	sendBuffer   = 64
	writeWait    = 10 * time.Second
	maxFrameSize = 64 * 1024
)

// CloseAuthFailure is sent when authentication fails or times out.
const CloseAuthFailure = 4001

// Conn is the subset of *websocket.Conn the hub uses. Tests substitute a
// fake; production always passes the gorilla connection.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

type closeFrame struct {
	code   int
	reason string
}

// Session is one live WebSocket connection. A session starts
// unauthenticated; the dispatcher binds it to a user after a successful
// auth frame.
type Session struct {
	ID string

	conn     Conn
	send     chan []byte
	closeReq chan closeFrame
	done     chan struct{}
	alive    atomic.Bool

	mu        sync.RWMutex
	userID    string
	authTimer *time.Timer

	closeOnce sync.Once
	logger    *slog.Logger
}

func newSession(conn Conn, logger *slog.Logger) *Session {
	s := &Session{
		ID:       shortuuid.New(),
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		closeReq: make(chan closeFrame, 1),
		done:     make(chan struct{}),
		logger:   logger,
	}
	s.alive.Store(true)
	return s
}

// UserID returns the bound user ID, or empty while unauthenticated.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Authenticated reports whether the session is bound to a user.
func (s *Session) Authenticated() bool {
	return s.UserID() != ""
}

func (s *Session) setUser(userID string) {
	s.mu.Lock()
	s.userID = userID
	if s.authTimer != nil {
		s.authTimer.Stop()
		s.authTimer = nil
	}
	s.mu.Unlock()
}

func (s *Session) setAuthTimer(t *time.Timer) {
	s.mu.Lock()
	s.authTimer = t
	s.mu.Unlock()
}

// Send queues a frame for the write pump. Returns false without blocking
// when the buffer is full or the session is closing.
func (s *Session) Send(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// CloseWithCode asks the write pump to flush queued frames, perform the
// close handshake with the given code, and tear the connection down.
func (s *Session) CloseWithCode(code int, reason string) {
	select {
	case s.closeReq <- closeFrame{code: code, reason: reason}:
	default:
		// Pump already closing or gone.
		s.terminate()
	}
}

// terminate tears the connection down without a close handshake. The read
// pump unblocks on the closed connection and runs its cleanup.
func (s *Session) terminate() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.authTimer != nil {
			s.authTimer.Stop()
			s.authTimer = nil
		}
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Session) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// writePump serializes all data frame writes for the connection. Control
// pings go through WriteControl and may happen concurrently.
func (s *Session) writePump() {
	for {
		select {
		case data := <-s.send:
			if !s.write(data) {
				s.terminate()
				return
			}
		case cf := <-s.closeReq:
			s.drainSend()
			msg := websocket.FormatCloseMessage(cf.code, cf.reason)
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
			s.terminate()
			return
		case <-s.done:
			return
		}
	}
}

func (s *Session) write(data []byte) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("write failed", "conn_id", s.ID, "error", err)
		return false
	}
	return true
}

func (s *Session) drainSend() {
	for {
		select {
		case data := <-s.send:
			if !s.write(data) {
				return
			}
		default:
			return
		}
	}
}
