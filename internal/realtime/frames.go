// ABOUTME: WebSocket frame protocol: envelope, frame types, and payloads
// ABOUTME: Both directions share one envelope shape with millisecond timestamps

package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/conversation"
)

// Frame types. Inbound: auth, chat:send, chat:read, chat:typing. Everything
// else is server-originated.
const (
	TypeAuth               = "auth"
	TypeAuthSuccess        = "auth:success"
	TypeAuthError          = "auth:error"
	TypeChatSend           = "chat:send"
	TypeChatSent           = "chat:sent"
	TypeChatReceive        = "chat:receive"
	TypeChatDelivered      = "chat:delivered"
	TypeChatRead           = "chat:read"
	TypeChatTyping         = "chat:typing"
	TypeChatEdited         = "chat:edited"
	TypeChatDeleted        = "chat:deleted"
	TypePresenceUpdate     = "presence:update"
	TypeNotificationUnread = "notification:unread"
	TypeError              = "error"
)

// Error frame codes.
const (
	CodeInvalidMessage   = "INVALID_MESSAGE"
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeInvalidPayload   = "INVALID_PAYLOAD"
	CodeUnknownType      = "UNKNOWN_TYPE"
	CodeSendFailed       = "SEND_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeAuthFailed       = "AUTH_FAILED"
)

// Envelope is the wire shape of every frame. Timestamp is Unix
// milliseconds. ReplyTo is set on server frames answering a client frame.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	ReplyTo   string          `json:"replyTo,omitempty"`
}

// marshalFrame builds a server frame. Server frame IDs are fresh UUIDs.
func marshalFrame(frameType string, payload any, replyTo string) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s payload: %w", frameType, err)
		}
		raw = data
	}
	env := Envelope{
		ID:        uuid.New().String(),
		Type:      frameType,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
		ReplyTo:   replyTo,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s frame: %w", frameType, err)
	}
	return data, nil
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type authPayload struct {
	Token string `json:"token"`
}

type authSuccessPayload struct {
	UserID string `json:"userId"`
}

type chatSendPayload struct {
	ConversationID   string `json:"conversationId"`
	Content          string `json:"content"`
	ContentType      string `json:"contentType"`
	ReplyToMessageID string `json:"replyToMessageId"`
	ClientMessageID  string `json:"clientMessageId"`
}

type chatSentPayload struct {
	ClientMessageID string `json:"clientMessageId"`
	MessageID       string `json:"messageId"`
	ConversationID  string `json:"conversationId"`
	Timestamp       int64  `json:"timestamp"`
}

type chatReceivePayload struct {
	MessageID      string                     `json:"messageId"`
	SenderID       string                     `json:"senderId,omitempty"`
	SenderName     string                     `json:"senderName,omitempty"`
	ConversationID string                     `json:"conversationId"`
	Content        string                     `json:"content"`
	ContentType    string                     `json:"contentType"`
	Timestamp      int64                      `json:"timestamp"`
	ReplyTo        *conversation.ReplyPreview `json:"replyTo,omitempty"`
}

func chatReceiveFrom(view *conversation.MessageView) chatReceivePayload {
	p := chatReceivePayload{
		MessageID:      view.ID,
		SenderID:       view.SenderID,
		ConversationID: view.ConversationID,
		Content:        view.Content,
		ContentType:    view.ContentType,
		Timestamp:      view.CreatedAt.UnixMilli(),
		ReplyTo:        view.ReplyTo,
	}
	if view.Sender != nil {
		p.SenderName = view.Sender.DisplayName
	}
	return p
}

type chatDeliveredPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	DeliveredTo    string `json:"deliveredTo"`
	Timestamp      int64  `json:"timestamp"`
}

type chatReadPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type chatReadEvent struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	ReadBy         string `json:"readBy"`
	Timestamp      int64  `json:"timestamp"`
}

type chatTypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type chatTypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type chatEditedPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	NewContent     string    `json:"newContent"`
	EditedAt       time.Time `json:"editedAt"`
}

type chatDeletedPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// Presence status values.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

type presencePayload struct {
	UserID   string     `json:"userId"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type unreadPayload struct {
	ConversationID string `json:"conversationId"`
	UnreadCount    int    `json:"unreadCount"`
}
