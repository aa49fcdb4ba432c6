// Package store provides persistent storage for parley using SQLite.
//
// # Architecture
//
// A single Store interface covers all persistence; SQLiteStore implements
// it in one struct with the methods split across per-domain files:
//
//   - users.go: accounts, profile updates, search, presence flags
//   - tokens.go: refresh tokens with single-use rotation
//   - conversations.go: conversations, participants, unread counts
//   - groups.go: group metadata, membership, role management
//   - messages.go: messages, keyset pagination, edit/tombstone, search
//   - receipts.go: delivery/read receipts with monotonic upgrades
//   - contacts.go: contacts and blocks
//
// # Data Models
//
// Core models:
//
//   - User: account with unique username/email and presence flags
//   - RefreshToken: hashed single-use token with 7-day expiry
//   - Conversation: DIRECT (exactly two participants) or GROUP
//   - Participant: membership row with role and last-read watermark
//   - Group: metadata attached 1:1 to a GROUP conversation
//   - Message: content rows including SYSTEM membership announcements
//   - MessageReceipt: DELIVERED/READ state per (message, user)
//   - Contact, Block: address book and block list
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as INTEGER Unix milliseconds. Message pagination
// orders by (created_at, id) descending, so rows with identical
// timestamps still have a total order and cursor seeks never skip or
// repeat a message.
//
// # Transactions
//
// Multi-entity operations run in a single transaction: direct-conversation
// creation, group creation (conversation, participants, group row, system
// message), message insert with the conversation bump, refresh-token
// rotation, membership changes with admin auto-promotion, and bulk read
// marking.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicate: insert collided with a unique constraint
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewSQLiteStore(":memory:") or a t.TempDir() path for tests with
// real SQLite.
package store
