// ABOUTME: User profile handlers: self projection, partial updates, search, lookup
// ABOUTME: Only /users/me exposes the email; everything else is the public view

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/parley-chat/parley/internal/apperr"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/conversation"
	"github.com/parley-chat/parley/internal/store"
)

const userSearchLimit = 20

func (a *API) handleGetMe(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	user, err := a.store.GetUser(r.Context(), userID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, selfView(user))
}

type updateMeRequest struct {
	DisplayName *string `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl"`
	Bio         *string `json:"bio"`
}

func (a *API) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateMeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	details := make(map[string]string)
	if req.DisplayName != nil {
		trimmed := strings.TrimSpace(*req.DisplayName)
		if trimmed == "" || len(trimmed) > MaxDisplayNameLength {
			details["displayName"] = "must be between 1 and 50 characters"
		}
		*req.DisplayName = trimmed
	}
	if req.Bio != nil && len(*req.Bio) > MaxBioLength {
		details["bio"] = "must be at most 200 characters"
	}
	if len(details) > 0 {
		a.writeError(w, apperr.Validation("Invalid profile data").WithDetails(details))
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	user, err := a.store.GetUser(r.Context(), userID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if req.DisplayName != nil {
		user.DisplayName = *req.DisplayName
	}
	if req.AvatarURL != nil {
		user.AvatarURL = *req.AvatarURL
	}
	if req.Bio != nil {
		user.Bio = *req.Bio
	}
	user.UpdatedAt = time.Now().UTC()

	if err := a.store.UpdateUser(r.Context(), user); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, selfView(user))
}

func (a *API) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		a.writeError(w, apperr.Validation("Query parameter q is required"))
		return
	}

	callerID := auth.UserIDFromContext(r.Context())
	users, err := a.store.SearchUsers(r.Context(), query, callerID, userSearchLimit)
	if err != nil {
		a.writeError(w, err)
		return
	}

	views := make([]*conversation.UserView, 0, len(users))
	for _, u := range users {
		views = append(views, conversation.PublicUser(u))
	}
	writeJSON(w, http.StatusOK, itemsEnvelope{Items: views})
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.store.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.writeError(w, apperr.NotFound("User not found"))
			return
		}
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversation.PublicUser(user))
}
