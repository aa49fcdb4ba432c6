// ABOUTME: Package documentation for auth
// ABOUTME: Access JWTs, single-use refresh tokens, bcrypt passwords, HTTP middleware

// Package auth implements the token service.
//
// Access tokens are short-lived HS256 JWTs carrying the user ID in the sub
// claim. Refresh tokens are opaque 256-bit secrets persisted as SHA-256
// hashes with a seven-day expiry; every successful rotation revokes the
// presented token atomically, so a replayed token always fails.
package auth
