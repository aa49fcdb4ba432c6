// ABOUTME: Token service: short-lived HS256 access JWTs plus single-use opaque refresh tokens
// ABOUTME: Refresh tokens are stored hashed and rotated atomically on every use

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/apperr"
	"github.com/parley-chat/parley/internal/store"
)

// Token errors
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrMissingClaim   = errors.New("missing required claim")
	ErrInvalidRefresh = errors.New("invalid refresh token")
)

// TokenVerifier defines the interface for access token verification
type TokenVerifier interface {
	VerifyAccess(tokenString string) (userID string, err error)
}

// TokenPair is an access/refresh token pair returned to clients
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"` // access token lifetime in seconds
}

// TokenStore defines what the token service needs from persistence
type TokenStore interface {
	CreateRefreshToken(ctx context.Context, token *store.RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*store.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string, when time.Time) error
	RotateRefreshToken(ctx context.Context, oldTokenHash string, when time.Time, next *store.RefreshToken) error
}

// Service issues and verifies tokens. Access tokens are HS256 JWTs with a
// sub claim; refresh tokens are opaque 32-byte secrets, single-use.
type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	tokens     TokenStore
	logger     *slog.Logger
}

// NewService creates a token service. Pass nil logger for default.
func NewService(secret []byte, accessTTL, refreshTTL time.Duration, tokens TokenStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		tokens:     tokens,
		logger:     logger.With("component", "auth"),
	}
}

// Issue creates a fresh token pair for a user and persists the refresh
// token's hash.
func (s *Service) Issue(ctx context.Context, userID string) (*TokenPair, error) {
	access, err := s.generateAccess(userID)
	if err != nil {
		return nil, fmt.Errorf("generating access token: %w", err)
	}

	refresh, err := generateRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("generating refresh token: %w", err)
	}

	now := time.Now().UTC()
	row := &store.RefreshToken{
		ID:        uuid.New().String(),
		TokenHash: hashRefreshSecret(refresh),
		UserID:    userID,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.tokens.CreateRefreshToken(ctx, row); err != nil {
		return nil, fmt.Errorf("storing refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// VerifyAccess validates an access token and extracts the user ID from the
// "sub" claim.
func (s *Service) VerifyAccess(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}

// Rotate exchanges a refresh token for a fresh pair. The presented token is
// revoked in the same transaction that stores its replacement, so any
// replay fails with an authentication error.
func (s *Service) Rotate(ctx context.Context, refreshToken string) (*TokenPair, error) {
	hash := hashRefreshSecret(refreshToken)

	row, err := s.tokens.GetRefreshToken(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Unauthorized("Invalid refresh token").WithCode("INVALID_REFRESH").WithCause(ErrInvalidRefresh)
		}
		return nil, fmt.Errorf("looking up refresh token: %w", err)
	}

	now := time.Now().UTC()
	if row.RevokedAt != nil {
		s.logger.Warn("rotated refresh token replayed", "user_id", row.UserID)
		return nil, apperr.Unauthorized("Invalid refresh token").WithCode("INVALID_REFRESH").WithCause(ErrInvalidRefresh)
	}
	if now.After(row.ExpiresAt) {
		// Expiry discovery deletes the claim on the token in the same step.
		if err := s.tokens.RevokeRefreshToken(ctx, hash, now); err != nil {
			s.logger.Error("revoking expired refresh token", "error", err)
		}
		return nil, apperr.Unauthorized("Refresh token expired").WithCode("INVALID_REFRESH").WithCause(ErrExpiredToken)
	}

	access, err := s.generateAccess(row.UserID)
	if err != nil {
		return nil, fmt.Errorf("generating access token: %w", err)
	}
	refresh, err := generateRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("generating refresh token: %w", err)
	}

	next := &store.RefreshToken{
		ID:        uuid.New().String(),
		TokenHash: hashRefreshSecret(refresh),
		UserID:    row.UserID,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.tokens.RotateRefreshToken(ctx, hash, now, next); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Lost a race with a concurrent rotation of the same token.
			return nil, apperr.Unauthorized("Invalid refresh token").WithCode("INVALID_REFRESH").WithCause(ErrInvalidRefresh)
		}
		return nil, fmt.Errorf("rotating refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// Revoke invalidates a refresh token (logout). Revoking an unknown or
// already-revoked token is not an error.
func (s *Service) Revoke(ctx context.Context, refreshToken string) error {
	return s.tokens.RevokeRefreshToken(ctx, hashRefreshSecret(refreshToken), time.Now().UTC())
}

// generateAccess creates a signed JWT for the given user ID.
func (s *Service) generateAccess(userID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(s.accessTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// generateRefreshSecret returns a hex-encoded 32-byte random secret.
func generateRefreshSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// hashRefreshSecret returns the SHA-256 hex digest stored in place of the
// opaque secret.
func hashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
