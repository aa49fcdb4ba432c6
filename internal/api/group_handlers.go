// ABOUTME: Group handlers: create, metadata, membership, and role management
// ABOUTME: Admin checks live in the group service; these only shape the HTTP exchange

package api

import (
	"net/http"

	"github.com/parley-chat/parley/internal/apperr"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/conversation"
)

type createGroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	MemberIDs   []string `json:"memberIds"`
}

func (a *API) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	callerID := auth.UserIDFromContext(r.Context())
	view, err := a.groups.Create(r.Context(), callerID, req.Name, req.Description, req.MemberIDs)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	callerID := auth.UserIDFromContext(r.Context())
	view, err := a.groups.Get(r.Context(), callerID, r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type updateGroupRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IconURL     *string `json:"iconUrl"`
}

func (a *API) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req updateGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	callerID := auth.UserIDFromContext(r.Context())
	patch := conversation.GroupPatch{
		Name:        req.Name,
		Description: req.Description,
		IconURL:     req.IconURL,
	}
	view, err := a.groups.Update(r.Context(), callerID, r.PathValue("id"), patch)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type addMembersRequest struct {
	MemberIDs []string `json:"memberIds"`
}

func (a *API) handleAddGroupMembers(w http.ResponseWriter, r *http.Request) {
	var req addMembersRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if len(req.MemberIDs) == 0 {
		a.writeError(w, apperr.Validation("memberIds is required"))
		return
	}

	callerID := auth.UserIDFromContext(r.Context())
	view, err := a.groups.AddMembers(r.Context(), callerID, r.PathValue("id"), req.MemberIDs)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleRemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	callerID := auth.UserIDFromContext(r.Context())
	if err := a.groups.RemoveMember(r.Context(), callerID, r.PathValue("id"), r.PathValue("userId")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleUpdateGroupRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	callerID := auth.UserIDFromContext(r.Context())
	if err := a.groups.UpdateRole(r.Context(), callerID, r.PathValue("id"), r.PathValue("userId"), req.Role); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
