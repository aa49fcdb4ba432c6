// ABOUTME: chat:read handling: bulk READ upgrade up to a target message
// ABOUTME: Senders of newly-read messages are notified over their sessions

package realtime

import (
	"context"
	"time"

	"github.com/parley-chat/parley/internal/hub"
)

// handleChatRead marks everything up to the target message as read. Bad
// input is dropped silently; read receipts are advisory and an error frame
// would add noise for stale or racing frames.
func (g *Gateway) handleChatRead(ctx context.Context, sess *hub.Session, env Envelope) {
	var p chatReadPayload
	if !g.decodePayload(sess, env, &p) {
		return
	}
	readerID := sess.UserID()

	if _, err := g.store.GetParticipant(ctx, p.ConversationID, readerID); err != nil {
		g.logger.Debug("chat:read from non-participant", "conversation_id", p.ConversationID, "user_id", readerID)
		return
	}

	target, err := g.store.GetMessage(ctx, p.MessageID)
	if err != nil || target.ConversationID != p.ConversationID {
		g.logger.Debug("chat:read for unknown message", "message_id", p.MessageID)
		return
	}

	now := time.Now().UTC()
	marked, err := g.store.MarkConversationRead(ctx, p.ConversationID, readerID, target.CreatedAt, now)
	if err != nil {
		g.logger.Error("marking conversation read", "conversation_id", p.ConversationID, "error", err)
		return
	}

	for _, msg := range marked {
		if msg.SenderID == "" || !g.hub.IsOnline(msg.SenderID) {
			continue
		}
		g.sendToUser(msg.SenderID, TypeChatRead, chatReadEvent{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			ReadBy:         readerID,
			Timestamp:      now.UnixMilli(),
		})
	}
}
