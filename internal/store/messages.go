// ABOUTME: Message persistence: insert with conversation bump, keyset pagination, edit, tombstone, search
// ABOUTME: Pages are ordered by (created_at, id) descending so duplicate timestamps never skip or repeat

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const messageColumns = `id, conversation_id, sender_id, content, content_type, reply_to_message_id, edited_at, deleted_at, created_at`

// insertMessage writes a message row inside an existing transaction.
func insertMessage(ctx context.Context, tx *sql.Tx, msg *Message) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, content_type, reply_to_message_id, edited_at, deleted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		nullString(msg.SenderID),
		msg.Content,
		msg.ContentType,
		nullString(msg.ReplyToMessageID),
		nullMillis(msg.EditedAt),
		nullMillis(msg.DeletedAt),
		unixMillis(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// touchConversation bumps a conversation's updated_at inside an existing transaction.
func touchConversation(ctx context.Context, tx *sql.Tx, conversationID string, when time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, unixMillis(when), conversationID)
	if err != nil {
		return fmt.Errorf("bumping conversation: %w", err)
	}
	return nil
}

// CreateMessage inserts a message and bumps the conversation's updated_at
// in the same transaction.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertMessage(ctx, tx, msg); err != nil {
		return err
	}
	if err := touchConversation(ctx, tx, msg.ConversationID, msg.CreatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("created message", "id", msg.ID, "conversation_id", msg.ConversationID)
	return nil
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	return scanMessage(s.db.QueryRowContext(ctx, query, id))
}

// ListMessagesBefore returns up to limit messages of a conversation,
// newest first. Tombstoned messages are hidden from history. When before
// is non-nil, only messages strictly older than it (by created_at, then
// id) are returned.
func (s *SQLiteStore) ListMessagesBefore(ctx context.Context, conversationID string, limit int, before *Message) ([]*Message, error) {
	var rows *sql.Rows
	var err error

	if before != nil {
		query := `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE conversation_id = ?
			  AND deleted_at IS NULL
			  AND (created_at < ? OR (created_at = ? AND id < ?))
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`
		beforeMs := unixMillis(before.CreatedAt)
		rows, err = s.db.QueryContext(ctx, query, conversationID, beforeMs, beforeMs, before.ID, limit)
	} else {
		query := `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE conversation_id = ?
			  AND deleted_at IS NULL
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`
		rows, err = s.db.QueryContext(ctx, query, conversationID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return msgs, nil
}

// GetLastMessage returns the newest non-tombstoned message of a
// conversation. Returns ErrNotFound when none exists.
func (s *SQLiteStore) GetLastMessage(ctx context.Context, conversationID string) (*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ?
		  AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	return scanMessage(s.db.QueryRowContext(ctx, query, conversationID))
}

// UpdateMessageContent replaces the content of a message and records the
// edit time. Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, edited_at = ? WHERE id = ?
	`, content, unixMillis(editedAt), id)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
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

// TombstoneMessage marks a message deleted for everyone: the original
// content is replaced by the placeholder and deleted_at is set.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) TombstoneMessage(ctx context.Context, id, placeholder string, when time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, deleted_at = ? WHERE id = ? AND deleted_at IS NULL
	`, placeholder, unixMillis(when), id)
	if err != nil {
		return fmt.Errorf("tombstoning message: %w", err)
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

// SearchMessages finds non-deleted messages containing the query,
// case-insensitively, across the user's conversations (or one conversation
// when conversationID is non-empty). Newest first, capped at limit.
func (s *SQLiteStore) SearchMessages(ctx context.Context, userID, query, conversationID string, limit int) ([]*Message, error) {
	pattern := "%" + escapeLike(query) + "%"

	sqlQuery := `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.content_type, m.reply_to_message_id, m.edited_at, m.deleted_at, m.created_at
		FROM messages m
		JOIN conversation_participants p
		  ON p.conversation_id = m.conversation_id AND p.user_id = ?
		WHERE m.deleted_at IS NULL
		  AND m.content LIKE ? ESCAPE '\'
	`
	args := []any{userID, pattern}

	if conversationID != "" {
		sqlQuery += ` AND m.conversation_id = ?`
		args = append(args, conversationID)
	}

	sqlQuery += `
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?
	`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return msgs, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var senderID, replyTo sql.NullString
	var editedAt, deletedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&senderID,
		&msg.Content,
		&msg.ContentType,
		&replyTo,
		&editedAt,
		&deletedAt,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	msg.SenderID = senderID.String
	msg.ReplyToMessageID = replyTo.String
	msg.EditedAt = timePtr(editedAt)
	msg.DeletedAt = timePtr(deletedAt)
	msg.CreatedAt = fromMillis(createdAt)
	return &msg, nil
}
