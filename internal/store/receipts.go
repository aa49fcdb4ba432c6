// ABOUTME: Message receipt persistence with monotonic status upgrades
// ABOUTME: DELIVERED inserts never touch READ rows; bulk read marking runs in one transaction

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertDeliveredReceipt records a DELIVERED receipt. If a receipt already
// exists for the (message, user) pair, nothing changes: READ is never
// downgraded and an earlier DELIVERED keeps its timestamp.
func (s *SQLiteStore) UpsertDeliveredReceipt(ctx context.Context, receipt *MessageReceipt) error {
	query := `
		INSERT INTO message_receipts (id, message_id, user_id, status, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id, user_id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		receipt.ID,
		receipt.MessageID,
		receipt.UserID,
		ReceiptDelivered,
		unixMillis(receipt.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("upserting delivered receipt: %w", err)
	}
	return nil
}

// MarkConversationRead sets the reader's last-read watermark and upgrades to
// READ every message at or before upTo that was sent by someone else, is not
// tombstoned, and the reader has not read yet. The affected messages are
// returned in chronological order so callers can notify their senders.
// Returns ErrNotFound if the reader is not a participant.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, readerID string, upTo, when time.Time) ([]*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE conversation_participants
		SET last_read_at = ?
		WHERE conversation_id = ? AND user_id = ?
	`, unixMillis(when), conversationID, readerID)
	if err != nil {
		return nil, fmt.Errorf("updating last read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		  AND created_at <= ?
		  AND sender_id IS NOT NULL
		  AND sender_id != ?
		  AND deleted_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM message_receipts r
			WHERE r.message_id = messages.id AND r.user_id = ? AND r.status = ?
		  )
		ORDER BY created_at ASC, id ASC
	`, conversationID, unixMillis(upTo), readerID, readerID, ReceiptRead)
	if err != nil {
		return nil, fmt.Errorf("querying unread messages: %w", err)
	}

	var marked []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		marked = append(marked, msg)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating unread messages: %w", err)
	}
	rows.Close()

	for _, msg := range marked {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO message_receipts (id, message_id, user_id, status, timestamp)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(message_id, user_id) DO UPDATE SET
				status = excluded.status,
				timestamp = excluded.timestamp
			WHERE message_receipts.status != excluded.status
		`, uuid.New().String(), msg.ID, readerID, ReceiptRead, unixMillis(when))
		if err != nil {
			return nil, fmt.Errorf("upserting read receipt: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	if len(marked) > 0 {
		s.logger.Debug("marked messages read", "conversation_id", conversationID, "reader_id", readerID, "count", len(marked))
	}
	return marked, nil
}

// GetReceipt retrieves the receipt for a (message, user) pair.
// Returns ErrNotFound if no receipt exists.
func (s *SQLiteStore) GetReceipt(ctx context.Context, messageID, userID string) (*MessageReceipt, error) {
	query := `
		SELECT id, message_id, user_id, status, timestamp
		FROM message_receipts
		WHERE message_id = ? AND user_id = ?
	`
	return scanReceipt(s.db.QueryRowContext(ctx, query, messageID, userID))
}

// ListReceiptsForMessages returns all receipts for a set of messages,
// keyed by message ID.
func (s *SQLiteStore) ListReceiptsForMessages(ctx context.Context, messageIDs []string) (map[string][]*MessageReceipt, error) {
	receipts := make(map[string][]*MessageReceipt, len(messageIDs))
	if len(messageIDs) == 0 {
		return receipts, nil
	}

	query := `
		SELECT id, message_id, user_id, status, timestamp
		FROM message_receipts
		WHERE message_id IN (` + placeholders(len(messageIDs)) + `)
		ORDER BY timestamp ASC, id ASC
	`
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying receipts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts[r.MessageID] = append(receipts[r.MessageID], r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating receipts: %w", err)
	}

	return receipts, nil
}

func scanReceipt(row rowScanner) (*MessageReceipt, error) {
	var r MessageReceipt
	var ts int64

	err := row.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Status, &ts)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	r.Timestamp = fromMillis(ts)
	return &r, nil
}
