// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides schema creation, idempotent migrations, and shared row helpers

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists for file-backed databases
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// All timestamps are stored as INTEGER Unix milliseconds (UTC); message
// ordering and cursor seeks need sub-second precision.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			email TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			display_name TEXT NOT NULL,
			avatar_url TEXT,
			bio TEXT,
			is_online INTEGER NOT NULL DEFAULT 0,
			last_seen INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username
			ON users(username);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email
			ON users(email);

		CREATE TABLE IF NOT EXISTS refresh_tokens (
			id TEXT PRIMARY KEY,
			token_hash TEXT NOT NULL,
			user_id TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			revoked_at INTEGER,
			FOREIGN KEY (user_id) REFERENCES users(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_refresh_tokens_hash
			ON refresh_tokens(token_hash);

		CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user
			ON refresh_tokens(user_id);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			direct_key TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_direct_key
			ON conversations(direct_key);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at);

		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'MEMBER',
			joined_at INTEGER NOT NULL,
			last_read_at INTEGER,
			PRIMARY KEY (conversation_id, user_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			FOREIGN KEY (user_id) REFERENCES users(id)
		);

		CREATE INDEX IF NOT EXISTS idx_participants_user
			ON conversation_participants(user_id);

		CREATE TABLE IF NOT EXISTS groups (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			icon_url TEXT,
			created_by TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			FOREIGN KEY (created_by) REFERENCES users(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_groups_conversation
			ON groups(conversation_id);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT,
			content TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'TEXT',
			reply_to_message_id TEXT,
			edited_at INTEGER,
			deleted_at INTEGER,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			FOREIGN KEY (sender_id) REFERENCES users(id),
			FOREIGN KEY (reply_to_message_id) REFERENCES messages(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at DESC, id DESC);

		CREATE TABLE IF NOT EXISTS message_receipts (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			FOREIGN KEY (message_id) REFERENCES messages(id),
			FOREIGN KEY (user_id) REFERENCES users(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_receipts_message_user
			ON message_receipts(message_id, user_id);

		CREATE INDEX IF NOT EXISTS idx_receipts_user
			ON message_receipts(user_id);

		CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			contact_id TEXT NOT NULL,
			nickname TEXT,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (owner_id) REFERENCES users(id),
			FOREIGN KEY (contact_id) REFERENCES users(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_owner_contact
			ON contacts(owner_id, contact_id);

		CREATE TABLE IF NOT EXISTS blocks (
			id TEXT PRIMARY KEY,
			blocker_id TEXT NOT NULL,
			blocked_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (blocker_id) REFERENCES users(id),
			FOREIGN KEY (blocked_id) REFERENCES users(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_blocks_blocker_blocked
			ON blocks(blocker_id, blocked_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	return nil
}

// runMigrations applies schema migrations for databases created before
// the current schema. Each migration is idempotent.
func (s *SQLiteStore) runMigrations() error {
	// Migration: add icon_url to groups
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info('groups') WHERE name = 'icon_url'
	`).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking groups.icon_url column: %w", err)
	}

	if count == 0 {
		if _, err := s.db.Exec(`ALTER TABLE groups ADD COLUMN icon_url TEXT`); err != nil {
			return fmt.Errorf("adding icon_url column to groups: %w", err)
		}
		s.logger.Info("applied migration", "column", "icon_url", "table", "groups")
	}

	// Migration: add bio to users
	err = s.db.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info('users') WHERE name = 'bio'
	`).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking users.bio column: %w", err)
	}

	if count == 0 {
		if _, err := s.db.Exec(`ALTER TABLE users ADD COLUMN bio TEXT`); err != nil {
			return fmt.Errorf("adding bio column to users: %w", err)
		}
		s.logger.Info("applied migration", "column", "bio", "table", "users")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// unixMillis converts a time to the millisecond representation stored in SQLite
func unixMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// fromMillis converts a stored millisecond timestamp back to a UTC time
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// nullMillis converts an optional time to a nullable column value
func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: unixMillis(*t), Valid: true}
}

// timePtr converts a nullable column value to an optional time
func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

// nullString converts an optional string ("" means absent) to a nullable column value
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// placeholders returns a comma-separated list of n SQL placeholders
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// escapeLike escapes LIKE wildcards in user-supplied search input.
// The query must use ESCAPE '\'.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
