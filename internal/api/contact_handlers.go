// ABOUTME: Contact handlers: directional address book with optional nicknames
// ABOUTME: List responses join each entry with the contact's public profile

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

const maxNicknameLength = 50

type contactView struct {
	User      *conversation.UserView `json:"user"`
	Nickname  string                 `json:"nickname,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

func (a *API) handleListContacts(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.UserIDFromContext(r.Context())
	contacts, err := a.store.ListContacts(r.Context(), ownerID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	ids := make([]string, 0, len(contacts))
	for _, c := range contacts {
		ids = append(ids, c.ContactID)
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

	views := make([]*contactView, 0, len(contacts))
	for _, c := range contacts {
		u, ok := byID[c.ContactID]
		if !ok {
			continue
		}
		views = append(views, &contactView{
			User:      conversation.PublicUser(u),
			Nickname:  c.Nickname,
			CreatedAt: c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, itemsEnvelope{Items: views})
}

type createContactRequest struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

func (a *API) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req createContactRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	ownerID := auth.UserIDFromContext(r.Context())
	switch {
	case req.UserID == "":
		a.writeError(w, apperr.Validation("userId is required"))
		return
	case req.UserID == ownerID:
		a.writeError(w, apperr.Validation("Cannot add yourself as a contact"))
		return
	case len(req.Nickname) > maxNicknameLength:
		a.writeError(w, apperr.Validation("Nickname must be at most 50 characters"))
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

	contact := &store.Contact{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		ContactID: user.ID,
		Nickname:  req.Nickname,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateContact(r.Context(), contact); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			a.writeError(w, apperr.Validation("Contact already exists"))
			return
		}
		a.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, &contactView{
		User:      conversation.PublicUser(user),
		Nickname:  contact.Nickname,
		CreatedAt: contact.CreatedAt,
	})
}

type updateContactRequest struct {
	Nickname string `json:"nickname"`
}

func (a *API) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	var req updateContactRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if len(req.Nickname) > maxNicknameLength {
		a.writeError(w, apperr.Validation("Nickname must be at most 50 characters"))
		return
	}

	ownerID := auth.UserIDFromContext(r.Context())
	contactID := r.PathValue("userId")
	if err := a.store.UpdateContactNickname(r.Context(), ownerID, contactID, req.Nickname); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.writeError(w, apperr.NotFound("Contact not found"))
			return
		}
		a.writeError(w, err)
		return
	}

	user, err := a.store.GetUser(r.Context(), contactID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &contactView{
		User:     conversation.PublicUser(user),
		Nickname: req.Nickname,
	})
}

func (a *API) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.UserIDFromContext(r.Context())
	if err := a.store.DeleteContact(r.Context(), ownerID, r.PathValue("userId")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.writeError(w, apperr.NotFound("Contact not found"))
			return
		}
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
