// ABOUTME: Tests for password hashing helpers
// ABOUTME: Covers hash round trips and mismatch detection

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("hunter2!")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2!", hash)

	assert.NoError(t, CheckPassword(hash, "hunter2!"))
	assert.ErrorIs(t, CheckPassword(hash, "hunter3!"), ErrPasswordMismatch)
}

func TestCheckPasswordBadHash(t *testing.T) {
	assert.ErrorIs(t, CheckPassword("not-a-bcrypt-hash", "pw"), ErrPasswordMismatch)
}
