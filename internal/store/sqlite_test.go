// ABOUTME: Tests for SQLite store initialization and shared test helpers
// ABOUTME: Covers schema creation, directory creation, and migration idempotency

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	user := createTestUser(t, store, "reopen_user")
	store.Close()

	// Reopening must run schema creation and migrations idempotently
	store2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopening store failed: %v", err)
	}
	defer store2.Close()

	got, err := store2.GetUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetUser after reopen failed: %v", err)
	}
	if got.Username != "reopen_user" {
		t.Errorf("expected username reopen_user, got %s", got.Username)
	}
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}

var testUserSeq int

// createTestUser inserts a user with a unique email derived from the username.
func createTestUser(t *testing.T, s *SQLiteStore, username string) *User {
	t.Helper()

	testUserSeq++
	now := time.Now().UTC().Truncate(time.Millisecond)
	user := &User{
		ID:           fmt.Sprintf("user-%s-%d", username, testUserSeq),
		Username:     username,
		Email:        fmt.Sprintf("%s@example.com", username),
		PasswordHash: "$2a$10$testhash",
		DisplayName:  username,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser(%s) failed: %v", username, err)
	}
	return user
}

// createTestDirect inserts a DIRECT conversation between two users.
func createTestDirect(t *testing.T, s *SQLiteStore, userA, userB string) *Conversation {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Millisecond)
	conv := &Conversation{
		ID:        fmt.Sprintf("conv-%s-%s", userA, userB),
		Type:      ConversationDirect,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateDirectConversation(context.Background(), conv, userA, userB); err != nil {
		t.Fatalf("CreateDirectConversation failed: %v", err)
	}
	return conv
}

// createTestMessage inserts a message with the given creation time.
func createTestMessage(t *testing.T, s *SQLiteStore, id, convID, senderID, content string, createdAt time.Time) *Message {
	t.Helper()

	msg := &Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       senderID,
		Content:        content,
		ContentType:    ContentTypeText,
		CreatedAt:      createdAt,
	}
	if err := s.CreateMessage(context.Background(), msg); err != nil {
		t.Fatalf("CreateMessage(%s) failed: %v", id, err)
	}
	return msg
}
