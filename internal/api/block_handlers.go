// ABOUTME: Block handlers: directional block list with symmetric enforcement elsewhere
// ABOUTME: Blocking is idempotent-ish; duplicate blocks surface as validation errors

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/apperr"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/conversation"
	"github.com/parley-chat/parley/internal/store"
)

type blockView struct {
	User      *conversation.UserView `json:"user"`
	CreatedAt time.Time              `json:"createdAt"`
}

func (a *API) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	blockerID := auth.UserIDFromContext(r.Context())
	blocks, err := a.store.ListBlocks(r.Context(), blockerID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	ids := make([]string, 0, len(blocks))
	for _, b := range blocks {
		ids = append(ids, b.BlockedID)
	}
	users, err := a.store.GetUsersByIDs(r.Context(), ids)
	if err != nil {
		a.writeError(w, err)
		return
	}
	byID := make(map[string]*store.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	views := make([]*blockView, 0, len(blocks))
	for _, b := range blocks {
		u, ok := byID[b.BlockedID]
		if !ok {
			continue
		}
		views = append(views, &blockView{User: conversation.PublicUser(u), CreatedAt: b.CreatedAt})
	}
	writeJSON(w, http.StatusOK, itemsEnvelope{Items: views})
}

type createBlockRequest struct {
	UserID string `json:"userId"`
}

func (a *API) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	var req createBlockRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	blockerID := auth.UserIDFromContext(r.Context())
	switch {
	case req.UserID == "":
		a.writeError(w, apperr.Validation("userId is required"))
		return
	case req.UserID == blockerID:
		a.writeError(w, apperr.Validation("Cannot block yourself"))
		return
	}

	user, err := a.store.GetUser(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.writeError(w, apperr.NotFound("User not found"))
			return
		}
		a.writeError(w, err)
		return
	}

	block := &store.Block{
		ID:        uuid.New().String(),
		BlockerID: blockerID,
		BlockedID: user.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateBlock(r.Context(), block); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			a.writeError(w, apperr.Validation("User is already blocked"))
			return
		}
		a.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, &blockView{User: conversation.PublicUser(user), CreatedAt: block.CreatedAt})
}

func (a *API) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	blockerID := auth.UserIDFromContext(r.Context())
	if err := a.store.DeleteBlock(r.Context(), blockerID, r.PathValue("userId")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.writeError(w, apperr.NotFound("Block not found"))
			return
		}
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
