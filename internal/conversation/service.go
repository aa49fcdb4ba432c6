// ABOUTME: Conversation service: direct conversation creation, listing, and history
// ABOUTME: Enforces participant access, block rules, and cursor pagination

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/apperr"
	"github.com/parley-chat/parley/internal/store"
)

// Page limits for message history.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// Service implements conversation operations on top of the store.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a conversation service. Pass nil logger for default.
func New(st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		logger: logger.With("component", "conversation"),
	}
}

// GetOrCreateDirect returns the direct conversation between the caller and
// another user, creating it when none exists. created reports whether a new
// conversation was made.
func (s *Service) GetOrCreateDirect(ctx context.Context, callerID, otherID string) (*ConversationView, bool, error) {
	if callerID == otherID {
		return nil, false, apperr.Validation("Cannot start a conversation with yourself")
	}

	if _, err := s.store.GetUser(ctx, otherID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, apperr.NotFound("User not found")
		}
		return nil, false, fmt.Errorf("looking up user: %w", err)
	}

	blocked, err := s.store.IsBlockedBetween(ctx, callerID, otherID)
	if err != nil {
		return nil, false, fmt.Errorf("checking blocks: %w", err)
	}
	if blocked {
		return nil, false, apperr.Forbidden("Cannot start a conversation with this user")
	}

	conv, err := s.store.GetDirectConversation(ctx, callerID, otherID)
	if err == nil {
		view, err := s.buildView(ctx, conv, callerID)
		return view, false, err
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("looking up direct conversation: %w", err)
	}

	now := time.Now().UTC()
	conv = &store.Conversation{
		ID:        uuid.New().String(),
		Type:      store.ConversationDirect,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateDirectConversation(ctx, conv, callerID, otherID); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with a concurrent create for the same pair.
			conv, err = s.store.GetDirectConversation(ctx, callerID, otherID)
			if err != nil {
				return nil, false, fmt.Errorf("re-reading direct conversation: %w", err)
			}
			view, err := s.buildView(ctx, conv, callerID)
			return view, false, err
		}
		return nil, false, fmt.Errorf("creating direct conversation: %w", err)
	}

	s.logger.Info("direct conversation created", "conversation_id", conv.ID)
	view, err := s.buildView(ctx, conv, callerID)
	return view, true, err
}

// List returns all conversations of a user, newest activity first.
func (s *Service) List(ctx context.Context, userID string) ([]*ConversationView, error) {
	convs, err := s.store.ListConversationsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	views := make([]*ConversationView, 0, len(convs))
	for _, conv := range convs {
		view, err := s.buildView(ctx, conv, userID)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// Get returns one conversation for a participant.
func (s *Service) Get(ctx context.Context, userID, conversationID string) (*ConversationView, error) {
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.RequireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.buildView(ctx, conv, userID)
}

// Messages returns one page of history, oldest first. cursor is the ID of
// the oldest message of the previous page; the page continues strictly
// before it.
func (s *Service) Messages(ctx context.Context, userID, conversationID string, limit int, cursor string) (*MessagePage, error) {
	if limit == 0 {
		limit = DefaultPageLimit
	}
	if limit < 1 || limit > MaxPageLimit {
		return nil, apperr.Validation(fmt.Sprintf("limit must be between 1 and %d", MaxPageLimit))
	}

	if _, err := s.conversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if _, err := s.RequireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	var before *store.Message
	if cursor != "" {
		cur, err := s.store.GetMessage(ctx, cursor)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, apperr.Validation("Unknown cursor")
			}
			return nil, fmt.Errorf("resolving cursor: %w", err)
		}
		if cur.ConversationID != conversationID {
			return nil, apperr.Validation("Unknown cursor")
		}
		before = cur
	}

	rows, err := s.store.ListMessagesBefore(ctx, conversationID, limit+1, before)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	// Rows are newest-first; pages are served oldest-first.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	views, err := s.renderMessages(ctx, rows)
	if err != nil {
		return nil, err
	}

	page := &MessagePage{Messages: views, HasMore: hasMore}
	if hasMore && len(views) > 0 {
		page.NextCursor = views[0].ID
	}
	return page, nil
}

// RequireParticipant returns the caller's participant row or a FORBIDDEN
// error when the user is not in the conversation.
func (s *Service) RequireParticipant(ctx context.Context, conversationID, userID string) (*store.Participant, error) {
	part, err := s.store.GetParticipant(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Forbidden("Not a participant of this conversation")
		}
		return nil, fmt.Errorf("looking up participant: %w", err)
	}
	return part, nil
}

// RenderMessage builds the full client view of one message, including the
// sender projection, reply preview, and receipts.
func (s *Service) RenderMessage(ctx context.Context, msg *store.Message) (*MessageView, error) {
	views, err := s.renderMessages(ctx, []*store.Message{msg})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// View builds the conversation view for one participant. Exposed for the
// group service and realtime layer.
func (s *Service) View(ctx context.Context, conv *store.Conversation, forUserID string) (*ConversationView, error) {
	return s.buildView(ctx, conv, forUserID)
}

func (s *Service) conversation(ctx context.Context, id string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("Conversation not found")
		}
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) buildView(ctx context.Context, conv *store.Conversation, forUserID string) (*ConversationView, error) {
	parts, err := s.store.ListParticipants(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}

	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.UserID)
	}
	users, err := s.usersByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	view := &ConversationView{
		ID:        conv.ID,
		Type:      conv.Type,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
	view.Participants = make([]*ParticipantView, 0, len(parts))
	for _, p := range parts {
		u, ok := users[p.UserID]
		if !ok {
			continue
		}
		view.Participants = append(view.Participants, &ParticipantView{
			User:       PublicUser(u),
			Role:       p.Role,
			JoinedAt:   p.JoinedAt,
			LastReadAt: p.LastReadAt,
		})
	}

	if conv.Type == store.ConversationGroup {
		group, err := s.store.GetGroupByConversation(ctx, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("looking up group: %w", err)
		}
		view.Group = groupView(group)
	}

	last, err := s.store.GetLastMessage(ctx, conv.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up last message: %w", err)
	}
	if last != nil {
		lastView := baseMessageView(last)
		if last.SenderID != "" {
			if u, ok := users[last.SenderID]; ok {
				lastView.Sender = PublicUser(u)
			} else if sender, err := s.store.GetUser(ctx, last.SenderID); err == nil {
				lastView.Sender = PublicUser(sender)
			}
		}
		view.LastMessage = lastView
	}

	unread, err := s.store.CountUnread(ctx, conv.ID, forUserID)
	if err != nil {
		return nil, fmt.Errorf("counting unread: %w", err)
	}
	view.UnreadCount = unread

	return view, nil
}

func (s *Service) renderMessages(ctx context.Context, msgs []*store.Message) ([]*MessageView, error) {
	if len(msgs) == 0 {
		return []*MessageView{}, nil
	}

	msgIDs := make([]string, 0, len(msgs))
	senderIDs := make([]string, 0, len(msgs))
	replyIDs := make([]string, 0)
	for _, m := range msgs {
		msgIDs = append(msgIDs, m.ID)
		if m.SenderID != "" {
			senderIDs = append(senderIDs, m.SenderID)
		}
		if m.ReplyToMessageID != "" {
			replyIDs = append(replyIDs, m.ReplyToMessageID)
		}
	}

	receipts, err := s.store.ListReceiptsForMessages(ctx, msgIDs)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	replies := make(map[string]*store.Message, len(replyIDs))
	for _, id := range replyIDs {
		if _, ok := replies[id]; ok {
			continue
		}
		reply, err := s.store.GetMessage(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("looking up reply target: %w", err)
		}
		replies[id] = reply
		if reply.SenderID != "" {
			senderIDs = append(senderIDs, reply.SenderID)
		}
	}

	users, err := s.usersByID(ctx, senderIDs)
	if err != nil {
		return nil, err
	}

	views := make([]*MessageView, 0, len(msgs))
	for _, m := range msgs {
		view := baseMessageView(m)
		if u, ok := users[m.SenderID]; ok {
			view.Sender = PublicUser(u)
		}
		if reply, ok := replies[m.ReplyToMessageID]; ok {
			view.ReplyTo = &ReplyPreview{
				ID:          reply.ID,
				Content:     reply.Content,
				ContentType: reply.ContentType,
				SenderID:    reply.SenderID,
			}
		}
		view.Receipts = receiptViews(receipts[m.ID])
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) usersByID(ctx context.Context, ids []string) (map[string]*store.User, error) {
	users, err := s.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading users: %w", err)
	}
	byID := make(map[string]*store.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return byID, nil
}
