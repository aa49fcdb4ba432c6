// ABOUTME: Store interface and data types for parley persistence
// ABOUTME: Defines User, Conversation, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with a unique constraint
var ErrDuplicate = errors.New("already exists")

// Conversation type constants
const (
	ConversationDirect = "DIRECT"
	ConversationGroup  = "GROUP"
)

// Participant role constants (meaningful for GROUP conversations)
const (
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

// Message content type constants
const (
	ContentTypeText   = "TEXT"
	ContentTypeImage  = "IMAGE"
	ContentTypeFile   = "FILE"
	ContentTypeAudio  = "AUDIO"
	ContentTypeVideo  = "VIDEO"
	ContentTypeSystem = "SYSTEM"
)

// Receipt status constants. DELIVERED may be upgraded to READ, never the reverse.
const (
	ReceiptDelivered = "DELIVERED"
	ReceiptRead      = "READ"
)

// DeletedPlaceholder replaces the content of a message deleted for everyone
const DeletedPlaceholder = "This message was deleted"

// User represents a registered account
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	DisplayName  string
	AvatarURL    string
	Bio          string
	IsOnline     bool
	LastSeen     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RefreshToken represents a single-use refresh token. Only the SHA-256 hash
// of the opaque secret is stored.
type RefreshToken struct {
	ID        string
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
}

// Conversation represents a direct or group conversation
type Conversation struct {
	ID        string
	Type      string // "DIRECT" or "GROUP"
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Participant represents a user's membership in a conversation
type Participant struct {
	ConversationID string
	UserID         string
	Role           string // "ADMIN" or "MEMBER"
	JoinedAt       time.Time
	LastReadAt     *time.Time
}

// Group carries the metadata of a GROUP conversation
type Group struct {
	ID             string
	ConversationID string
	Name           string
	Description    string
	IconURL        string
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Message represents a single message within a conversation.
// SenderID is empty for system messages that have no acting user.
type Message struct {
	ID               string
	ConversationID   string
	SenderID         string
	Content          string
	ContentType      string // TEXT, IMAGE, FILE, AUDIO, VIDEO, SYSTEM
	ReplyToMessageID string // must reference a message in the same conversation
	EditedAt         *time.Time
	DeletedAt        *time.Time
	CreatedAt        time.Time
}

// Deleted reports whether the message has been tombstoned
func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}

// MessageReceipt records delivery or read state of a message for one user
type MessageReceipt struct {
	ID        string
	MessageID string
	UserID    string
	Status    string // "DELIVERED" or "READ"
	Timestamp time.Time
}

// Contact is a directional address-book entry
type Contact struct {
	ID        string
	OwnerID   string
	ContactID string
	Nickname  string
	CreatedAt time.Time
}

// Block is a directional block; enforcement is symmetric
type Block struct {
	ID        string
	BlockerID string
	BlockedID string
	CreatedAt time.Time
}

// ConversationUnread pairs a conversation with its unread message count
type ConversationUnread struct {
	ConversationID string
	Count          int
}

// Store defines the persistence operations for parley
type Store interface {
	// User operations
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]*User, error)
	UpdateUser(ctx context.Context, user *User) error
	SearchUsers(ctx context.Context, query, excludeUserID string, limit int) ([]*User, error)
	SetUserPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error

	// Refresh token operations
	CreateRefreshToken(ctx context.Context, token *RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string, when time.Time) error
	RotateRefreshToken(ctx context.Context, oldTokenHash string, when time.Time, next *RefreshToken) error

	// Conversation operations
	CreateDirectConversation(ctx context.Context, conv *Conversation, userA, userB string) error
	GetDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversationsByUser(ctx context.Context, userID string) ([]*Conversation, error)
	GetParticipant(ctx context.Context, conversationID, userID string) (*Participant, error)
	ListParticipants(ctx context.Context, conversationID string) ([]*Participant, error)
	SetLastRead(ctx context.Context, conversationID, userID string, when time.Time) error
	ListConversationPeers(ctx context.Context, userID string) ([]string, error)
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
	UnreadSummary(ctx context.Context, userID string) ([]ConversationUnread, error)

	// Group operations
	CreateGroup(ctx context.Context, conv *Conversation, group *Group, participants []*Participant, sysMsg *Message) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	GetGroupByConversation(ctx context.Context, conversationID string) (*Group, error)
	UpdateGroup(ctx context.Context, group *Group) error
	AddGroupMembers(ctx context.Context, conversationID string, members []*Participant, sysMsgs []*Message, when time.Time) error
	RemoveGroupMember(ctx context.Context, conversationID, userID string, sysMsg *Message, when time.Time) (promotedUserID string, err error)
	UpdateParticipantRole(ctx context.Context, conversationID, userID, role string) error
	CountAdmins(ctx context.Context, conversationID string) (int, error)

	// Message operations
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessagesBefore(ctx context.Context, conversationID string, limit int, before *Message) ([]*Message, error)
	GetLastMessage(ctx context.Context, conversationID string) (*Message, error)
	UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error
	TombstoneMessage(ctx context.Context, id, placeholder string, when time.Time) error
	SearchMessages(ctx context.Context, userID, query, conversationID string, limit int) ([]*Message, error)

	// Receipt operations
	UpsertDeliveredReceipt(ctx context.Context, receipt *MessageReceipt) error
	MarkConversationRead(ctx context.Context, conversationID, readerID string, upTo, when time.Time) ([]*Message, error)
	GetReceipt(ctx context.Context, messageID, userID string) (*MessageReceipt, error)
	ListReceiptsForMessages(ctx context.Context, messageIDs []string) (map[string][]*MessageReceipt, error)

	// Contact operations
	CreateContact(ctx context.Context, contact *Contact) error
	ListContacts(ctx context.Context, ownerID string) ([]*Contact, error)
	UpdateContactNickname(ctx context.Context, ownerID, contactID, nickname string) error
	DeleteContact(ctx context.Context, ownerID, contactID string) error

	// Block operations
	CreateBlock(ctx context.Context, block *Block) error
	DeleteBlock(ctx context.Context, blockerID, blockedID string) error
	ListBlocks(ctx context.Context, blockerID string) ([]*Block, error)
	IsBlockedBetween(ctx context.Context, userA, userB string) (bool, error)

	Close() error
}
