// ABOUTME: Contact and block persistence
// ABOUTME: Contacts are directional; blocks are stored directionally and queried symmetrically

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateContact inserts an address-book entry.
// Returns ErrDuplicate if the contact already exists.
func (s *SQLiteStore) CreateContact(ctx context.Context, contact *Contact) error {
	query := `
		INSERT INTO contacts (id, owner_id, contact_id, nickname, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		contact.ID,
		contact.OwnerID,
		contact.ContactID,
		nullString(contact.Nickname),
		unixMillis(contact.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("contact: %w", ErrDuplicate)
		}
		return fmt.Errorf("inserting contact: %w", err)
	}
	return nil
}

// ListContacts returns a user's contacts, oldest first.
func (s *SQLiteStore) ListContacts(ctx context.Context, ownerID string) ([]*Contact, error) {
	query := `
		SELECT id, owner_id, contact_id, nickname, created_at
		FROM contacts
		WHERE owner_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		var c Contact
		var nickname sql.NullString
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.ContactID, &nickname, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning contact: %w", err)
		}
		c.Nickname = nickname.String
		c.CreatedAt = fromMillis(createdAt)
		contacts = append(contacts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating contacts: %w", err)
	}

	return contacts, nil
}

// UpdateContactNickname changes the nickname of a contact.
// Returns ErrNotFound if the contact doesn't exist.
func (s *SQLiteStore) UpdateContactNickname(ctx context.Context, ownerID, contactID, nickname string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE contacts SET nickname = ? WHERE owner_id = ? AND contact_id = ?
	`, nullString(nickname), ownerID, contactID)
	if err != nil {
		return fmt.Errorf("updating contact: %w", err)
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

// DeleteContact removes a contact.
// Returns ErrNotFound if the contact doesn't exist.
func (s *SQLiteStore) DeleteContact(ctx context.Context, ownerID, contactID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM contacts WHERE owner_id = ? AND contact_id = ?
	`, ownerID, contactID)
	if err != nil {
		return fmt.Errorf("deleting contact: %w", err)
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

// CreateBlock inserts a block.
// Returns ErrDuplicate if the block already exists.
func (s *SQLiteStore) CreateBlock(ctx context.Context, block *Block) error {
	query := `
		INSERT INTO blocks (id, blocker_id, blocked_id, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		block.ID,
		block.BlockerID,
		block.BlockedID,
		unixMillis(block.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("block: %w", ErrDuplicate)
		}
		return fmt.Errorf("inserting block: %w", err)
	}
	return nil
}

// DeleteBlock removes a block.
// Returns ErrNotFound if the block doesn't exist.
func (s *SQLiteStore) DeleteBlock(ctx context.Context, blockerID, blockedID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM blocks WHERE blocker_id = ? AND blocked_id = ?
	`, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("deleting block: %w", err)
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

// ListBlocks returns the blocks created by a user, oldest first.
func (s *SQLiteStore) ListBlocks(ctx context.Context, blockerID string) ([]*Block, error) {
	query := `
		SELECT id, blocker_id, blocked_id, created_at
		FROM blocks
		WHERE blocker_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, blockerID)
	if err != nil {
		return nil, fmt.Errorf("querying blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*Block
	for rows.Next() {
		var b Block
		var createdAt int64
		if err := rows.Scan(&b.ID, &b.BlockerID, &b.BlockedID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning block: %w", err)
		}
		b.CreatedAt = fromMillis(createdAt)
		blocks = append(blocks, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating blocks: %w", err)
	}

	return blocks, nil
}

// IsBlockedBetween reports whether either user has blocked the other.
func (s *SQLiteStore) IsBlockedBetween(ctx context.Context, userA, userB string) (bool, error) {
	query := `
		SELECT COUNT(*) FROM blocks
		WHERE (blocker_id = ? AND blocked_id = ?)
		   OR (blocker_id = ? AND blocked_id = ?)
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, userA, userB, userB, userA).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("querying blocks: %w", err)
	}
	return count > 0, nil
}
