// ABOUTME: WebSocket gateway: upgrade endpoint, frame dispatcher, auth frames
// ABOUTME: Implements hub.Handler; all frame semantics live here, not in the hub

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/conversation"
	"github.com/parley-chat/parley/internal/hub"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Token auth happens on the first frame; the origin adds nothing.
		return true
	},
}

// Gateway owns the WebSocket frame protocol. It implements hub.Handler for
// inbound traffic and exposes broadcast helpers for the request API.
type Gateway struct {
	hub      *hub.Hub
	store    store.Store
	convs    *conversation.Service
	verifier auth.TokenVerifier
	metrics  *metrics.Metrics
	typing   *typingTracker
	logger   *slog.Logger
}

// NewGateway wires the gateway to the hub and registers it as the hub's
// handler. metrics may be nil.
func NewGateway(h *hub.Hub, st store.Store, convs *conversation.Service, verifier auth.TokenVerifier, m *metrics.Metrics, typingTimeout time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		hub:      h,
		store:    st,
		convs:    convs,
		verifier: verifier,
		metrics:  m,
		typing:   newTypingTracker(typingTimeout),
		logger:   logger.With("component", "realtime"),
	}
	h.SetHandler(g)
	return g
}

// HandleWS upgrades an HTTP request to a WebSocket connection and hands it
// to the hub. Authentication happens via the first frame.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("upgrade failed", "error", err)
		return
	}
	g.hub.Serve(conn)
}

// HandleFrame runs the inbound pipeline: parse, envelope checks, auth
// gate, then routing by type.
func (g *Gateway) HandleFrame(ctx context.Context, sess *hub.Session, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		g.sendError(sess, "", CodeInvalidMessage, "Malformed frame")
		return
	}
	if env.Type == "" {
		g.sendError(sess, env.ID, CodeInvalidMessage, "Missing frame type")
		return
	}
	if g.metrics != nil {
		g.metrics.FrameReceived(env.Type)
	}

	if !sess.Authenticated() && env.Type != TypeAuth {
		g.sendError(sess, env.ID, CodeNotAuthenticated, "Authentication required")
		return
	}

	switch env.Type {
	case TypeAuth:
		g.handleAuth(ctx, sess, env)
	case TypeChatSend:
		g.handleChatSend(ctx, sess, env)
	case TypeChatRead:
		g.handleChatRead(ctx, sess, env)
	case TypeChatTyping:
		g.handleChatTyping(ctx, sess, env)
	default:
		g.sendError(sess, env.ID, CodeUnknownType, fmt.Sprintf("Unknown frame type %q", env.Type))
	}
}

// HandleAuthTimeout closes a session that never authenticated.
func (g *Gateway) HandleAuthTimeout(sess *hub.Session) {
	g.send(sess, TypeAuthError, errorPayload{Code: CodeAuthFailed, Message: "Authentication timeout"}, "")
	sess.CloseWithCode(hub.CloseAuthFailure, "authentication timeout")
}

// HandleDisconnect runs the offline flow when a user's last connection
// closes.
func (g *Gateway) HandleDisconnect(ctx context.Context, userID string, lastConnection bool) {
	g.typing.clearUser(userID)
	if !lastConnection {
		return
	}

	now := time.Now().UTC()
	if err := g.store.SetUserPresence(ctx, userID, false, now); err != nil {
		g.logger.Error("setting presence offline", "user_id", userID, "error", err)
	}
	g.broadcastPresence(ctx, userID, false, &now)
}

func (g *Gateway) handleAuth(ctx context.Context, sess *hub.Session, env Envelope) {
	var p authPayload
	if !g.decodePayload(sess, env, &p) {
		return
	}

	userID, err := g.verifier.VerifyAccess(p.Token)
	if err != nil {
		g.authFailure(sess, "Invalid or expired token")
		return
	}
	if _, err := g.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.authFailure(sess, "Invalid or expired token")
			return
		}
		g.logger.Error("looking up user during auth", "error", err)
		g.authFailure(sess, "Authentication failed")
		return
	}

	first := g.hub.Authenticate(sess, userID)
	g.send(sess, TypeAuthSuccess, authSuccessPayload{UserID: userID}, env.ID)
	g.logger.Info("session authenticated", "conn_id", sess.ID, "user_id", userID, "first_connection", first)

	if first {
		if err := g.store.SetUserPresence(ctx, userID, true, time.Now().UTC()); err != nil {
			g.logger.Error("setting presence online", "user_id", userID, "error", err)
		}
		g.broadcastPresence(ctx, userID, true, nil)
	}
}

func (g *Gateway) authFailure(sess *hub.Session, message string) {
	g.send(sess, TypeAuthError, errorPayload{Code: CodeAuthFailed, Message: message}, "")
	sess.CloseWithCode(hub.CloseAuthFailure, "authentication failed")
}

// decodePayload enforces that a payload is present and decodes it. Reports
// the right error frame and returns false on failure.
func (g *Gateway) decodePayload(sess *hub.Session, env Envelope, dst any) bool {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		g.sendError(sess, env.ID, CodeInvalidMessage, "Missing payload")
		return false
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		g.sendError(sess, env.ID, CodeInvalidPayload, "Invalid payload")
		return false
	}
	return true
}

func (g *Gateway) send(sess *hub.Session, frameType string, payload any, replyTo string) {
	data, err := marshalFrame(frameType, payload, replyTo)
	if err != nil {
		g.logger.Error("marshaling frame", "type", frameType, "error", err)
		return
	}
	sess.Send(data)
}

func (g *Gateway) sendToUser(userID, frameType string, payload any) bool {
	data, err := marshalFrame(frameType, payload, "")
	if err != nil {
		g.logger.Error("marshaling frame", "type", frameType, "error", err)
		return false
	}
	return g.hub.SendToUser(userID, data)
}

func (g *Gateway) sendError(sess *hub.Session, replyTo, code, message string) {
	g.send(sess, TypeError, errorPayload{Code: code, Message: message}, replyTo)
}
