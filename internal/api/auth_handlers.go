// ABOUTME: Registration, login, refresh rotation, and logout handlers
// ABOUTME: Login failures share one message so emails cannot be enumerated

package api

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/apperr"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/conversation"
	"github.com/parley-chat/parley/internal/store"
)

// Field limits for account data.
const (
	MinUsernameLength    = 3
	MaxUsernameLength    = 30
	MinPasswordLength    = 8
	MaxDisplayNameLength = 50
	MaxBioLength         = 200
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// selfUser is the caller's own projection: public fields plus email.
type selfUser struct {
	*conversation.UserView
	Email string `json:"email"`
}

type sessionResponse struct {
	User         selfUser `json:"user"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	ExpiresIn    int64    `json:"expiresIn"`
}

func selfView(u *store.User) selfUser {
	return selfUser{UserView: conversation.PublicUser(u), Email: u.Email}
}

type registerRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Bio         string `json:"bio"`
}

func validateRegistration(req registerRequest) map[string]string {
	details := make(map[string]string)
	if len(req.Username) < MinUsernameLength || len(req.Username) > MaxUsernameLength {
		details["username"] = "must be between 3 and 30 characters"
	} else if !usernamePattern.MatchString(req.Username) {
		details["username"] = "may only contain letters, digits, and underscores"
	}
	if !strings.Contains(req.Email, "@") {
		details["email"] = "must be a valid email address"
	}
	if len(req.Password) < MinPasswordLength {
		details["password"] = "must be at least 8 characters"
	}
	if req.DisplayName == "" || len(req.DisplayName) > MaxDisplayNameLength {
		details["displayName"] = "must be between 1 and 50 characters"
	}
	if len(req.Bio) > MaxBioLength {
		details["bio"] = "must be at most 200 characters"
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if details := validateRegistration(req); details != nil {
		a.writeError(w, apperr.Validation("Invalid registration data").WithDetails(details))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.writeError(w, err)
		return
	}

	now := time.Now().UTC()
	user := &store.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		Email:        strings.ToLower(req.Email),
		PasswordHash: hash,
		DisplayName:  req.DisplayName,
		Bio:          req.Bio,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			a.writeError(w, apperr.Validation("Username or email already in use"))
			return
		}
		a.writeError(w, err)
		return
	}

	pair, err := a.tokens.Issue(r.Context(), user.ID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, sessionResponse{
		User:         selfView(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	// Unknown email and wrong password are indistinguishable on purpose.
	invalid := apperr.Unauthorized("Invalid email or password")

	user, err := a.store.GetUserByEmail(r.Context(), strings.ToLower(req.Email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.writeError(w, invalid)
			return
		}
		a.writeError(w, err)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		a.writeError(w, invalid)
		return
	}

	pair, err := a.tokens.Issue(r.Context(), user.ID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		User:         selfView(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.RefreshToken == "" {
		a.writeError(w, apperr.Validation("refreshToken is required"))
		return
	}

	pair, err := a.tokens.Rotate(r.Context(), req.RefreshToken)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.RefreshToken != "" {
		if err := a.tokens.Revoke(r.Context(), req.RefreshToken); err != nil {
			a.writeError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
