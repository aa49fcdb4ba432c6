// ABOUTME: chat:send handling: validate, persist, ack, fan out, deliver
// ABOUTME: Also the broadcast helpers the request API uses for edit/delete/forward

package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/hub"
	"github.com/parley-chat/parley/internal/store"
)

// MaxContentLength bounds message content in characters.
const MaxContentLength = 4000

// Content types a client may send. SYSTEM is server-only.
var clientContentTypes = map[string]bool{
	store.ContentTypeText:  true,
	store.ContentTypeImage: true,
	store.ContentTypeFile:  true,
	store.ContentTypeAudio: true,
	store.ContentTypeVideo: true,
}

func (g *Gateway) handleChatSend(ctx context.Context, sess *hub.Session, env Envelope) {
	var p chatSendPayload
	if !g.decodePayload(sess, env, &p) {
		return
	}
	senderID := sess.UserID()
	if p.ClientMessageID == "" {
		p.ClientMessageID = env.ID
	}

	conv, err := g.store.GetConversation(ctx, p.ConversationID)
	if err != nil {
		g.sendError(sess, env.ID, CodeSendFailed, "Cannot send to this conversation")
		return
	}
	if _, err := g.store.GetParticipant(ctx, conv.ID, senderID); err != nil {
		g.sendError(sess, env.ID, CodeSendFailed, "Cannot send to this conversation")
		return
	}

	if conv.Type == store.ConversationDirect {
		blocked, err := g.directBlocked(ctx, conv.ID, senderID)
		if err != nil {
			g.logger.Error("checking blocks", "error", err)
			g.sendError(sess, env.ID, CodeSendFailed, "Cannot send to this conversation")
			return
		}
		if blocked {
			g.sendError(sess, env.ID, CodeSendFailed, "Cannot send to this conversation")
			return
		}
	}

	if p.ReplyToMessageID != "" {
		target, err := g.store.GetMessage(ctx, p.ReplyToMessageID)
		if err != nil || target.ConversationID != conv.ID {
			g.sendError(sess, env.ID, CodeNotFound, "Reply target not found")
			return
		}
	}

	contentType := strings.ToUpper(p.ContentType)
	if contentType == "" {
		contentType = store.ContentTypeText
	}
	if !clientContentTypes[contentType] {
		g.sendError(sess, env.ID, CodeInvalidPayload, "Invalid content type")
		return
	}
	if p.Content == "" || len(p.Content) > MaxContentLength {
		g.sendError(sess, env.ID, CodeInvalidPayload, fmt.Sprintf("Content must be between 1 and %d characters", MaxContentLength))
		return
	}

	msg := &store.Message{
		ID:               uuid.New().String(),
		ConversationID:   conv.ID,
		SenderID:         senderID,
		Content:          p.Content,
		ContentType:      contentType,
		ReplyToMessageID: p.ReplyToMessageID,
		CreatedAt:        time.Now().UTC(),
	}
	if err := g.store.CreateMessage(ctx, msg); err != nil {
		g.logger.Error("persisting message", "conversation_id", conv.ID, "error", err)
		g.sendError(sess, env.ID, CodeSendFailed, "Message could not be saved")
		return
	}
	if g.metrics != nil {
		g.metrics.MessageSent(contentType)
	}

	g.send(sess, TypeChatSent, chatSentPayload{
		ClientMessageID: p.ClientMessageID,
		MessageID:       msg.ID,
		ConversationID:  conv.ID,
		Timestamp:       msg.CreatedAt.UnixMilli(),
	}, env.ID)

	g.fanout(ctx, msg)
}

// FanoutMessage runs delivery for a message persisted outside the
// dispatcher (message forwarding). The sender gets chat:delivered frames
// but no chat:sent; the HTTP response covers the ack.
func (g *Gateway) FanoutMessage(ctx context.Context, msg *store.Message) {
	g.fanout(ctx, msg)
}

// fanout sends chat:receive to every other participant, records DELIVERED
// receipts for recipients that accepted the frame, notifies the sender per
// delivery, and refreshes recipients' unread badges.
func (g *Gateway) fanout(ctx context.Context, msg *store.Message) {
	view, err := g.convs.RenderMessage(ctx, msg)
	if err != nil {
		g.logger.Error("rendering message", "message_id", msg.ID, "error", err)
		return
	}

	parts, err := g.store.ListParticipants(ctx, msg.ConversationID)
	if err != nil {
		g.logger.Error("listing participants", "conversation_id", msg.ConversationID, "error", err)
		return
	}

	for _, part := range parts {
		if part.UserID == msg.SenderID {
			continue
		}
		if !g.sendToUser(part.UserID, TypeChatReceive, chatReceiveFrom(view)) {
			continue
		}

		now := time.Now().UTC()
		err := g.store.UpsertDeliveredReceipt(ctx, &store.MessageReceipt{
			ID:        uuid.New().String(),
			MessageID: msg.ID,
			UserID:    part.UserID,
			Status:    store.ReceiptDelivered,
			Timestamp: now,
		})
		if err != nil {
			g.logger.Error("recording delivery", "message_id", msg.ID, "user_id", part.UserID, "error", err)
			continue
		}

		g.sendToUser(msg.SenderID, TypeChatDelivered, chatDeliveredPayload{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			DeliveredTo:    part.UserID,
			Timestamp:      now.UnixMilli(),
		})

		unread, err := g.store.CountUnread(ctx, msg.ConversationID, part.UserID)
		if err != nil {
			g.logger.Error("counting unread", "conversation_id", msg.ConversationID, "error", err)
			continue
		}
		g.sendToUser(part.UserID, TypeNotificationUnread, unreadPayload{
			ConversationID: msg.ConversationID,
			UnreadCount:    unread,
		})
	}
}

// BroadcastEdited tells every other participant about an edited message.
func (g *Gateway) BroadcastEdited(ctx context.Context, msg *store.Message) {
	if msg.EditedAt == nil {
		return
	}
	parts, err := g.store.ListParticipants(ctx, msg.ConversationID)
	if err != nil {
		g.logger.Error("listing participants", "conversation_id", msg.ConversationID, "error", err)
		return
	}
	payload := chatEditedPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		NewContent:     msg.Content,
		EditedAt:       *msg.EditedAt,
	}
	for _, part := range parts {
		if part.UserID == msg.SenderID {
			continue
		}
		g.sendToUser(part.UserID, TypeChatEdited, payload)
	}
}

// BroadcastDeleted tells every participant, the sender included, that a
// message was tombstoned.
func (g *Gateway) BroadcastDeleted(ctx context.Context, msg *store.Message) {
	parts, err := g.store.ListParticipants(ctx, msg.ConversationID)
	if err != nil {
		g.logger.Error("listing participants", "conversation_id", msg.ConversationID, "error", err)
		return
	}
	payload := chatDeletedPayload{MessageID: msg.ID, ConversationID: msg.ConversationID}
	for _, part := range parts {
		g.sendToUser(part.UserID, TypeChatDeleted, payload)
	}
}

// directBlocked reports whether either side of a direct conversation has
// blocked the other.
func (g *Gateway) directBlocked(ctx context.Context, conversationID, senderID string) (bool, error) {
	parts, err := g.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return false, err
	}
	for _, part := range parts {
		if part.UserID == senderID {
			continue
		}
		blocked, err := g.store.IsBlockedBetween(ctx, senderID, part.UserID)
		if err != nil {
			return false, err
		}
		if blocked {
			return true, nil
		}
	}
	return false, nil
}
