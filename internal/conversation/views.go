// ABOUTME: API projections for conversations, messages, and users
// ABOUTME: Store rows are mapped here before anything leaves the process

package conversation

import (
	"time"

	"github.com/parley-chat/parley/internal/store"
)

// UserView is the public projection of a user. It never carries the email
// or password hash.
type UserView struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"displayName"`
	AvatarURL   string     `json:"avatarUrl,omitempty"`
	Bio         string     `json:"bio,omitempty"`
	IsOnline    bool       `json:"isOnline"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// PublicUser maps a store user to its public projection.
func PublicUser(u *store.User) *UserView {
	return &UserView{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Bio:         u.Bio,
		IsOnline:    u.IsOnline,
		LastSeen:    u.LastSeen,
		CreatedAt:   u.CreatedAt,
	}
}

// ParticipantView is one member of a conversation.
type ParticipantView struct {
	User       *UserView  `json:"user"`
	Role       string     `json:"role"`
	JoinedAt   time.Time  `json:"joinedAt"`
	LastReadAt *time.Time `json:"lastReadAt,omitempty"`
}

// GroupView is the metadata of a GROUP conversation.
type GroupView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	IconURL        string    `json:"iconUrl,omitempty"`
	CreatedBy      string    `json:"createdBy"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func groupView(g *store.Group) *GroupView {
	return &GroupView{
		ID:             g.ID,
		ConversationID: g.ConversationID,
		Name:           g.Name,
		Description:    g.Description,
		IconURL:        g.IconURL,
		CreatedBy:      g.CreatedBy,
		CreatedAt:      g.CreatedAt,
		UpdatedAt:      g.UpdatedAt,
	}
}

// ReplyPreview is the inlined fragment of the message being replied to.
type ReplyPreview struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
	SenderID    string `json:"senderId"`
}

// ReceiptView is one user's delivery or read state for a message.
type ReceiptView struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageView is a message as rendered to clients. Tombstoned messages keep
// their stored placeholder content and carry deleted=true.
type MessageView struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId,omitempty"`
	Sender         *UserView      `json:"sender,omitempty"`
	Content        string         `json:"content"`
	ContentType    string         `json:"contentType"`
	ReplyTo        *ReplyPreview  `json:"replyTo,omitempty"`
	Receipts       []*ReceiptView `json:"receipts,omitempty"`
	Deleted        bool           `json:"deleted"`
	EditedAt       *time.Time     `json:"editedAt,omitempty"`
	DeletedAt      *time.Time     `json:"deletedAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// ConversationView is a conversation with everything a client list needs.
type ConversationView struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"`
	Participants []*ParticipantView `json:"participants"`
	Group        *GroupView         `json:"group,omitempty"`
	LastMessage  *MessageView       `json:"lastMessage,omitempty"`
	UnreadCount  int                `json:"unreadCount"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// MessagePage is one page of conversation history in chronological order.
type MessagePage struct {
	Messages   []*MessageView `json:"messages"`
	NextCursor string         `json:"nextCursor,omitempty"`
	HasMore    bool           `json:"hasMore"`
}

func baseMessageView(m *store.Message) *MessageView {
	return &MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		ContentType:    m.ContentType,
		Deleted:        m.Deleted(),
		EditedAt:       m.EditedAt,
		DeletedAt:      m.DeletedAt,
		CreatedAt:      m.CreatedAt,
	}
}

func receiptViews(receipts []*store.MessageReceipt) []*ReceiptView {
	if len(receipts) == 0 {
		return nil
	}
	out := make([]*ReceiptView, 0, len(receipts))
	for _, r := range receipts {
		out = append(out, &ReceiptView{UserID: r.UserID, Status: r.Status, Timestamp: r.Timestamp})
	}
	return out
}
