// ABOUTME: Conversation handlers: direct get-or-create, list, detail, message pages
// ABOUTME: Thin wrappers over the conversation service; it owns all the rules

package api

import (
	"net/http"
	"strconv"

	"github.com/parley-chat/parley/internal/apperr"
	"github.com/parley-chat/parley/internal/auth"
)

type directRequest struct {
	UserID string `json:"userId"`
}

func (a *API) handleCreateDirect(w http.ResponseWriter, r *http.Request) {
	var req directRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.UserID == "" {
		a.writeError(w, apperr.Validation("userId is required"))
		return
	}

	callerID := auth.UserIDFromContext(r.Context())
	view, created, err := a.convs.GetOrCreateDirect(r.Context(), callerID, req.UserID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, view)
}

func (a *API) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	views, err := a.convs.List(r.Context(), userID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsEnvelope{Items: views})
}

func (a *API) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	view, err := a.convs.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			a.writeError(w, apperr.Validation("limit must be an integer"))
			return
		}
		limit = n
	}

	userID := auth.UserIDFromContext(r.Context())
	page, err := a.convs.Messages(r.Context(), userID, r.PathValue("id"), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
