// ABOUTME: Refresh token persistence with single-use rotation semantics
// ABOUTME: Tokens are stored as SHA-256 hashes; rotation revokes and inserts atomically

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateRefreshToken inserts a new refresh token row.
func (s *SQLiteStore) CreateRefreshToken(ctx context.Context, token *RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, token_hash, user_id, expires_at, created_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		token.ID,
		token.TokenHash,
		token.UserID,
		unixMillis(token.ExpiresAt),
		unixMillis(token.CreatedAt),
		nullMillis(token.RevokedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("refresh token: %w", ErrDuplicate)
		}
		return fmt.Errorf("inserting refresh token: %w", err)
	}

	return nil
}

// GetRefreshToken retrieves a refresh token by its hash.
// Returns ErrNotFound if no such token exists.
func (s *SQLiteStore) GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	query := `
		SELECT id, token_hash, user_id, expires_at, created_at, revoked_at
		FROM refresh_tokens
		WHERE token_hash = ?
	`

	var token RefreshToken
	var expiresAt, createdAt int64
	var revokedAt sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&token.ID,
		&token.TokenHash,
		&token.UserID,
		&expiresAt,
		&createdAt,
		&revokedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying refresh token: %w", err)
	}

	token.ExpiresAt = fromMillis(expiresAt)
	token.CreatedAt = fromMillis(createdAt)
	token.RevokedAt = timePtr(revokedAt)
	return &token, nil
}

// RevokeRefreshToken marks a token revoked. Revoking an unknown or
// already-revoked token is not an error.
func (s *SQLiteStore) RevokeRefreshToken(ctx context.Context, tokenHash string, when time.Time) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = ?
		WHERE token_hash = ? AND revoked_at IS NULL
	`

	if _, err := s.db.ExecContext(ctx, query, unixMillis(when), tokenHash); err != nil {
		return fmt.Errorf("revoking refresh token: %w", err)
	}
	return nil
}

// RotateRefreshToken atomically revokes the old token and inserts its
// replacement. The revocation acts as the single-use claim: if the old
// token was already revoked or does not exist, ErrNotFound is returned
// and nothing is written.
func (s *SQLiteStore) RotateRefreshToken(ctx context.Context, oldTokenHash string, when time.Time, next *RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = ?
		WHERE token_hash = ? AND revoked_at IS NULL
	`, unixMillis(when), oldTokenHash)
	if err != nil {
		return fmt.Errorf("revoking old refresh token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, token_hash, user_id, expires_at, created_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		next.ID,
		next.TokenHash,
		next.UserID,
		unixMillis(next.ExpiresAt),
		unixMillis(next.CreatedAt),
		nullMillis(next.RevokedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting replacement refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("rotated refresh token", "user_id", next.UserID)
	return nil
}
