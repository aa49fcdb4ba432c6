// ABOUTME: Conversation and participant persistence: direct-pair uniqueness, membership, unread counts
// ABOUTME: Direct conversations are deduplicated by a canonical sorted pair key

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// directKey builds the canonical pair key for a DIRECT conversation.
// The key is order-independent so each pair maps to exactly one row.
func directKey(userA, userB string) string {
	if userA < userB {
		return userA + "|" + userB
	}
	return userB + "|" + userA
}

// CreateDirectConversation inserts a DIRECT conversation and both
// participants in one transaction.
// Returns ErrDuplicate if a direct conversation already exists for the pair.
func (s *SQLiteStore) CreateDirectConversation(ctx context.Context, conv *Conversation, userA, userB string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, type, direct_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		conv.ID,
		ConversationDirect,
		directKey(userA, userB),
		unixMillis(conv.CreatedAt),
		unixMillis(conv.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("direct conversation: %w", ErrDuplicate)
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for _, userID := range []string{userA, userB} {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at)
			VALUES (?, ?, ?, ?)
		`, conv.ID, userID, RoleMember, unixMillis(conv.CreatedAt))
		if err != nil {
			return fmt.Errorf("inserting participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("created direct conversation", "id", conv.ID)
	return nil
}

// GetDirectConversation finds the DIRECT conversation between two users,
// regardless of argument order.
// Returns ErrNotFound if the pair has no conversation yet.
func (s *SQLiteStore) GetDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	query := `
		SELECT id, type, created_at, updated_at
		FROM conversations
		WHERE direct_key = ?
	`
	return scanConversation(s.db.QueryRowContext(ctx, query, directKey(userA, userB)))
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, type, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`
	return scanConversation(s.db.QueryRowContext(ctx, query, id))
}

// ListConversationsByUser returns all conversations the user participates in,
// most recently updated first.
func (s *SQLiteStore) ListConversationsByUser(ctx context.Context, userID string) ([]*Conversation, error) {
	query := `
		SELECT c.id, c.type, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC, c.id DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}

	return convs, nil
}

// GetParticipant retrieves one participant row.
// Returns ErrNotFound if the user is not a participant.
func (s *SQLiteStore) GetParticipant(ctx context.Context, conversationID, userID string) (*Participant, error) {
	query := `
		SELECT conversation_id, user_id, role, joined_at, last_read_at
		FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?
	`
	return scanParticipant(s.db.QueryRowContext(ctx, query, conversationID, userID))
}

// ListParticipants returns all participants of a conversation ordered by
// join time (oldest first).
func (s *SQLiteStore) ListParticipants(ctx context.Context, conversationID string) ([]*Participant, error) {
	query := `
		SELECT conversation_id, user_id, role, joined_at, last_read_at
		FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY joined_at ASC, user_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var parts []*Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating participants: %w", err)
	}

	return parts, nil
}

// SetLastRead updates the participant's last-read watermark.
// Returns ErrNotFound if the user is not a participant.
func (s *SQLiteStore) SetLastRead(ctx context.Context, conversationID, userID string, when time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversation_participants
		SET last_read_at = ?
		WHERE conversation_id = ? AND user_id = ?
	`, unixMillis(when), conversationID, userID)
	if err != nil {
		return fmt.Errorf("updating last read: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConversationPeers returns the distinct IDs of users who share at least
// one conversation with the given user, excluding the user themselves.
func (s *SQLiteStore) ListConversationPeers(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT DISTINCT other.user_id
		FROM conversation_participants own
		JOIN conversation_participants other
		  ON other.conversation_id = own.conversation_id
		WHERE own.user_id = ? AND other.user_id != ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversation peers: %w", err)
	}
	defer rows.Close()

	var peers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning peer: %w", err)
		}
		peers = append(peers, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating peers: %w", err)
	}

	return peers, nil
}

// CountUnread counts messages in a conversation newer than the user's
// last-read watermark, excluding the user's own messages and tombstones.
func (s *SQLiteStore) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversation_participants p
		  ON p.conversation_id = m.conversation_id AND p.user_id = ?
		WHERE m.conversation_id = ?
		  AND m.deleted_at IS NULL
		  AND (m.sender_id IS NULL OR m.sender_id != ?)
		  AND m.created_at > COALESCE(p.last_read_at, 0)
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, userID, conversationID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return count, nil
}

// UnreadSummary returns per-conversation unread counts for a user, ordered
// by conversation recency. Conversations with nothing unread are omitted.
func (s *SQLiteStore) UnreadSummary(ctx context.Context, userID string) ([]ConversationUnread, error) {
	query := `
		SELECT m.conversation_id, COUNT(*)
		FROM messages m
		JOIN conversation_participants p
		  ON p.conversation_id = m.conversation_id AND p.user_id = ?
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.deleted_at IS NULL
		  AND (m.sender_id IS NULL OR m.sender_id != ?)
		  AND m.created_at > COALESCE(p.last_read_at, 0)
		GROUP BY m.conversation_id
		ORDER BY c.updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying unread summary: %w", err)
	}
	defer rows.Close()

	var summary []ConversationUnread
	for rows.Next() {
		var cu ConversationUnread
		if err := rows.Scan(&cu.ConversationID, &cu.Count); err != nil {
			return nil, fmt.Errorf("scanning unread row: %w", err)
		}
		summary = append(summary, cu)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating unread summary: %w", err)
	}

	return summary, nil
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var createdAt, updatedAt int64

	err := row.Scan(&conv.ID, &conv.Type, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.CreatedAt = fromMillis(createdAt)
	conv.UpdatedAt = fromMillis(updatedAt)
	return &conv, nil
}

func scanParticipant(row rowScanner) (*Participant, error) {
	var p Participant
	var joinedAt int64
	var lastReadAt sql.NullInt64

	err := row.Scan(&p.ConversationID, &p.UserID, &p.Role, &joinedAt, &lastReadAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning participant: %w", err)
	}

	p.JoinedAt = fromMillis(joinedAt)
	p.LastReadAt = timePtr(lastReadAt)
	return &p, nil
}
