// ABOUTME: Group persistence: creation, metadata, membership changes, role management
// ABOUTME: Membership changes run in one transaction with their system messages and admin auto-promotion

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const groupColumns = `id, conversation_id, name, description, icon_url, created_by, created_at, updated_at`

// CreateGroup creates a GROUP conversation, its participants, the group row,
// and the creation system message in one transaction.
func (s *SQLiteStore) CreateGroup(ctx context.Context, conv *Conversation, group *Group, participants []*Participant, sysMsg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, type, direct_key, created_at, updated_at)
		VALUES (?, ?, NULL, ?, ?)
	`, conv.ID, ConversationGroup, unixMillis(conv.CreatedAt), unixMillis(conv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for _, p := range participants {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at)
			VALUES (?, ?, ?, ?)
		`, conv.ID, p.UserID, p.Role, unixMillis(p.JoinedAt))
		if err != nil {
			return fmt.Errorf("inserting participant: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO groups (id, conversation_id, name, description, icon_url, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		group.ID,
		conv.ID,
		group.Name,
		nullString(group.Description),
		nullString(group.IconURL),
		group.CreatedBy,
		unixMillis(group.CreatedAt),
		unixMillis(group.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting group: %w", err)
	}

	if sysMsg != nil {
		if err := insertMessage(ctx, tx, sysMsg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("created group", "id", group.ID, "conversation_id", conv.ID, "name", group.Name)
	return nil
}

// GetGroup retrieves a group by ID.
// Returns ErrNotFound if the group doesn't exist.
func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE id = ?`
	return scanGroup(s.db.QueryRowContext(ctx, query, id))
}

// GetGroupByConversation retrieves the group attached to a conversation.
// Returns ErrNotFound if the conversation has no group.
func (s *SQLiteStore) GetGroupByConversation(ctx context.Context, conversationID string) (*Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE conversation_id = ?`
	return scanGroup(s.db.QueryRowContext(ctx, query, conversationID))
}

// UpdateGroup updates group metadata.
// Returns ErrNotFound if the group doesn't exist.
func (s *SQLiteStore) UpdateGroup(ctx context.Context, group *Group) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE groups
		SET name = ?, description = ?, icon_url = ?, updated_at = ?
		WHERE id = ?
	`,
		group.Name,
		nullString(group.Description),
		nullString(group.IconURL),
		unixMillis(group.UpdatedAt),
		group.ID,
	)
	if err != nil {
		return fmt.Errorf("updating group: %w", err)
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

// AddGroupMembers inserts new participants, their announcement system
// messages, and bumps the conversation, all in one transaction.
func (s *SQLiteStore) AddGroupMembers(ctx context.Context, conversationID string, members []*Participant, sysMsgs []*Message, when time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range members {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at)
			VALUES (?, ?, ?, ?)
		`, conversationID, p.UserID, p.Role, unixMillis(p.JoinedAt))
		if err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("participant %s: %w", p.UserID, ErrDuplicate)
			}
			return fmt.Errorf("inserting participant: %w", err)
		}
	}

	for _, msg := range sysMsgs {
		if err := insertMessage(ctx, tx, msg); err != nil {
			return err
		}
	}

	if err := touchConversation(ctx, tx, conversationID, when); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// RemoveGroupMember deletes a participant in one transaction. If the departing
// member was an ADMIN and no admin remains, the longest-standing remaining
// participant is promoted; the promoted user ID is returned. The departure
// system message is written and the conversation bumped in the same
// transaction.
// Returns ErrNotFound if the user is not a participant.
func (s *SQLiteStore) RemoveGroupMember(ctx context.Context, conversationID, userID string, sysMsg *Message, when time.Time) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var role string
	err = tx.QueryRowContext(ctx, `
		SELECT role FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying participant role: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID)
	if err != nil {
		return "", fmt.Errorf("deleting participant: %w", err)
	}

	var promoted string
	if role == RoleAdmin {
		var admins int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM conversation_participants
			WHERE conversation_id = ? AND role = ?
		`, conversationID, RoleAdmin).Scan(&admins)
		if err != nil {
			return "", fmt.Errorf("counting admins: %w", err)
		}

		if admins == 0 {
			err = tx.QueryRowContext(ctx, `
				SELECT user_id FROM conversation_participants
				WHERE conversation_id = ?
				ORDER BY joined_at ASC, user_id ASC
				LIMIT 1
			`, conversationID).Scan(&promoted)
			if err != nil && err != sql.ErrNoRows {
				return "", fmt.Errorf("selecting promotion candidate: %w", err)
			}

			if promoted != "" {
				_, err = tx.ExecContext(ctx, `
					UPDATE conversation_participants
					SET role = ?
					WHERE conversation_id = ? AND user_id = ?
				`, RoleAdmin, conversationID, promoted)
				if err != nil {
					return "", fmt.Errorf("promoting participant: %w", err)
				}
			}
		}
	}

	if sysMsg != nil {
		if err := insertMessage(ctx, tx, sysMsg); err != nil {
			return "", err
		}
	}

	if err := touchConversation(ctx, tx, conversationID, when); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing transaction: %w", err)
	}

	if promoted != "" {
		s.logger.Debug("auto-promoted group admin", "conversation_id", conversationID, "user_id", promoted)
	}
	return promoted, nil
}

// UpdateParticipantRole changes a participant's role.
// Returns ErrNotFound if the user is not a participant.
func (s *SQLiteStore) UpdateParticipantRole(ctx context.Context, conversationID, userID, role string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversation_participants
		SET role = ?
		WHERE conversation_id = ? AND user_id = ?
	`, role, conversationID, userID)
	if err != nil {
		return fmt.Errorf("updating participant role: %w", err)
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

// CountAdmins counts participants with the ADMIN role.
func (s *SQLiteStore) CountAdmins(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversation_participants
		WHERE conversation_id = ? AND role = ?
	`, conversationID, RoleAdmin).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting admins: %w", err)
	}
	return count, nil
}

func scanGroup(row rowScanner) (*Group, error) {
	var group Group
	var description, iconURL sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&group.ID,
		&group.ConversationID,
		&group.Name,
		&description,
		&iconURL,
		&group.CreatedBy,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning group: %w", err)
	}

	group.Description = description.String
	group.IconURL = iconURL.String
	group.CreatedAt = fromMillis(createdAt)
	group.UpdatedAt = fromMillis(updatedAt)
	return &group, nil
}
