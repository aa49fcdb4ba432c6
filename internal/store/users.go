// ABOUTME: User persistence: accounts, profile updates, search, presence flags
// ABOUTME: Usernames and emails are protected by unique indexes

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const userColumns = `id, username, email, password_hash, display_name, avatar_url, bio, is_online, last_seen, created_at, updated_at`

// CreateUser inserts a new user.
// Returns ErrDuplicate if the username or email is already taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, display_name, avatar_url, bio, is_online, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		nullString(user.AvatarURL),
		nullString(user.Bio),
		user.IsOnline,
		nullMillis(user.LastSeen),
		unixMillis(user.CreatedAt),
		unixMillis(user.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("user %s: %w", user.Username, ErrDuplicate)
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "username", user.Username)
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByEmail retrieves a user by email.
// Returns ErrNotFound if no user has the given email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

// GetUsersByIDs retrieves users for a set of IDs. Unknown IDs are skipped;
// the result preserves the order of ids.
func (s *SQLiteStore) GetUsersByIDs(ctx context.Context, ids []string) ([]*User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*User, len(ids))
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		byID[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}

	users := make([]*User, 0, len(byID))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

// UpdateUser updates the mutable profile fields of a user.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) UpdateUser(ctx context.Context, user *User) error {
	query := `
		UPDATE users
		SET display_name = ?, avatar_url = ?, bio = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		user.DisplayName,
		nullString(user.AvatarURL),
		nullString(user.Bio),
		unixMillis(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
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

// SearchUsers finds users whose username or display name contains the query,
// case-insensitively, excluding excludeUserID. Results are ordered by
// username and capped at limit.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query, excludeUserID string, limit int) ([]*User, error) {
	pattern := "%" + escapeLike(query) + "%"
	sqlQuery := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id != ?
		  AND (username LIKE ? ESCAPE '\' OR display_name LIKE ? ESCAPE '\')
		ORDER BY username ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, sqlQuery, excludeUserID, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}

	return users, nil
}

// SetUserPresence updates the online flag and, when going offline, last_seen.
func (s *SQLiteStore) SetUserPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	var err error
	if online {
		_, err = s.db.ExecContext(ctx,
			`UPDATE users SET is_online = 1 WHERE id = ?`, userID)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE users SET is_online = 0, last_seen = ? WHERE id = ?`,
			unixMillis(lastSeen), userID)
	}
	if err != nil {
		return fmt.Errorf("updating presence: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var avatarURL, bio sql.NullString
	var lastSeen sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&avatarURL,
		&bio,
		&user.IsOnline,
		&lastSeen,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	user.AvatarURL = avatarURL.String
	user.Bio = bio.String
	user.LastSeen = timePtr(lastSeen)
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	return &user, nil
}
