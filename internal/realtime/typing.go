// ABOUTME: chat:typing rebroadcast with automatic 5s clear timers
// ABOUTME: Timers are in-memory per (user, conversation) and never touch the store

package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/parley-chat/parley/internal/hub"
)

type typingKey struct {
	userID         string
	conversationID string
}

// typingTracker arms one auto-clear timer per (user, conversation). A new
// typing=true frame re-arms; typing=false or disconnect cancels.
type typingTracker struct {
	timeout time.Duration

	mu     sync.Mutex
	timers map[typingKey]*time.Timer
}

func newTypingTracker(timeout time.Duration) *typingTracker {
	return &typingTracker{
		timeout: timeout,
		timers:  make(map[typingKey]*time.Timer),
	}
}

// arm (re)starts the auto-clear timer for a key.
func (t *typingTracker) arm(key typingKey, expire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
	}
	t.timers[key] = time.AfterFunc(t.timeout, func() {
		t.mu.Lock()
		delete(t.timers, key)
		t.mu.Unlock()
		expire()
	})
}

// cancel stops the timer for a key. Returns whether one was armed.
func (t *typingTracker) cancel(key typingKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	timer, ok := t.timers[key]
	if ok {
		timer.Stop()
		delete(t.timers, key)
	}
	return ok
}

// clearUser drops every timer belonging to a user.
func (t *typingTracker) clearUser(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.timers {
		if key.userID == userID {
			timer.Stop()
			delete(t.timers, key)
		}
	}
}

func (g *Gateway) handleChatTyping(ctx context.Context, sess *hub.Session, env Envelope) {
	var p chatTypingPayload
	if !g.decodePayload(sess, env, &p) {
		return
	}
	userID := sess.UserID()

	if _, err := g.store.GetParticipant(ctx, p.ConversationID, userID); err != nil {
		g.logger.Debug("chat:typing from non-participant", "conversation_id", p.ConversationID, "user_id", userID)
		return
	}

	g.broadcastTyping(ctx, p.ConversationID, userID, p.IsTyping)

	key := typingKey{userID: userID, conversationID: p.ConversationID}
	if p.IsTyping {
		g.typing.arm(key, func() {
			if !g.hub.IsOnline(userID) {
				return
			}
			g.broadcastTyping(context.Background(), p.ConversationID, userID, false)
		})
	} else {
		g.typing.cancel(key)
	}
}

func (g *Gateway) broadcastTyping(ctx context.Context, conversationID, userID string, isTyping bool) {
	parts, err := g.store.ListParticipants(ctx, conversationID)
	if err != nil {
		g.logger.Error("listing participants", "conversation_id", conversationID, "error", err)
		return
	}
	payload := chatTypingEvent{ConversationID: conversationID, UserID: userID, IsTyping: isTyping}
	for _, part := range parts {
		if part.UserID == userID {
			continue
		}
		g.sendToUser(part.UserID, TypeChatTyping, payload)
	}
}
