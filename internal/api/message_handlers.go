// ABOUTME: Message handlers: edit and delete windows, forwarding, full-text search
// ABOUTME: Edit and delete push chat:edited / chat:deleted frames through the broadcaster

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/apperr"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/conversation"
	"github.com/parley-chat/parley/internal/store"
)

const (
	editWindow   = 15 * time.Minute
	deleteWindow = time.Hour

	maxMessageLength   = 4000
	messageSearchLimit = 50
)

func (a *API) message(r *http.Request, id string) (*store.Message, error) {
	msg, err := a.store.GetMessage(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("Message not found")
		}
		return nil, err
	}
	return msg, nil
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func (a *API) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var req editMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	msg, err := a.message(r, r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}

	callerID := auth.UserIDFromContext(r.Context())
	switch {
	case msg.SenderID != callerID:
		a.writeError(w, apperr.Forbidden("Only the sender can edit this message"))
		return
	case msg.Deleted():
		a.writeError(w, apperr.Validation("Cannot edit a deleted message"))
		return
	case msg.ContentType != store.ContentTypeText:
		a.writeError(w, apperr.Validation("Only text messages can be edited"))
		return
	case time.Since(msg.CreatedAt) > editWindow:
		a.writeError(w, apperr.Validation("Edit window has expired"))
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" || len(content) > maxMessageLength {
		a.writeError(w, apperr.Validation("Content must be between 1 and 4000 characters"))
		return
	}

	now := time.Now().UTC()
	if err := a.store.UpdateMessageContent(r.Context(), msg.ID, content, now); err != nil {
		a.writeError(w, err)
		return
	}
	msg.Content = content
	msg.EditedAt = &now

	if a.broadcast != nil {
		a.broadcast.BroadcastEdited(r.Context(), msg)
	}

	view, err := a.convs.RenderMessage(r.Context(), msg)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := a.message(r, r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}

	callerID := auth.UserIDFromContext(r.Context())
	if msg.SenderID != callerID {
		a.writeError(w, apperr.Forbidden("Only the sender can delete this message"))
		return
	}

	// Deleting a tombstone again is a no-op.
	if !msg.Deleted() {
		if time.Since(msg.CreatedAt) > deleteWindow {
			a.writeError(w, apperr.Validation("Delete window has expired"))
			return
		}

		now := time.Now().UTC()
		if err := a.store.TombstoneMessage(r.Context(), msg.ID, store.DeletedPlaceholder, now); err != nil {
			a.writeError(w, err)
			return
		}
		msg.Content = store.DeletedPlaceholder
		msg.DeletedAt = &now

		if a.broadcast != nil {
			a.broadcast.BroadcastDeleted(r.Context(), msg)
		}
	}

	view, err := a.convs.RenderMessage(r.Context(), msg)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type forwardRequest struct {
	MessageID       string   `json:"messageId"`
	ConversationIDs []string `json:"conversationIds"`
}

type forwardResponse struct {
	Messages []*conversation.MessageView `json:"messages"`
}

func (a *API) handleForwardMessage(w http.ResponseWriter, r *http.Request) {
	var req forwardRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.MessageID == "" || len(req.ConversationIDs) == 0 {
		a.writeError(w, apperr.Validation("messageId and conversationIds are required"))
		return
	}

	msg, err := a.message(r, req.MessageID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	callerID := auth.UserIDFromContext(r.Context())
	if _, err := a.convs.RequireParticipant(r.Context(), msg.ConversationID, callerID); err != nil {
		// Hide messages from conversations the caller is not part of.
		a.writeError(w, apperr.NotFound("Message not found"))
		return
	}
	if msg.Deleted() {
		a.writeError(w, apperr.Validation("Cannot forward a deleted message"))
		return
	}

	created := make([]*conversation.MessageView, 0, len(req.ConversationIDs))
	for _, convID := range req.ConversationIDs {
		fwd, err := a.forwardInto(r, msg, callerID, convID)
		if err != nil {
			a.writeError(w, err)
			return
		}
		if fwd == nil {
			continue
		}
		if a.broadcast != nil {
			a.broadcast.FanoutMessage(r.Context(), fwd)
		}
		view, err := a.convs.RenderMessage(r.Context(), fwd)
		if err != nil {
			a.writeError(w, err)
			return
		}
		created = append(created, view)
	}

	writeJSON(w, http.StatusCreated, forwardResponse{Messages: created})
}

// forwardInto copies msg into convID for the caller. Targets the caller
// cannot post to are skipped by returning a nil message.
func (a *API) forwardInto(r *http.Request, msg *store.Message, callerID, convID string) (*store.Message, error) {
	conv, err := a.store.GetConversation(r.Context(), convID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if _, err := a.store.GetParticipant(r.Context(), convID, callerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if conv.Type == store.ConversationDirect {
		blocked, err := a.directBlocked(r, convID, callerID)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, nil
		}
	}

	fwd := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: convID,
		SenderID:       callerID,
		Content:        msg.Content,
		ContentType:    msg.ContentType,
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.store.CreateMessage(r.Context(), fwd); err != nil {
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.MessageSent(fwd.ContentType)
	}
	return fwd, nil
}

func (a *API) directBlocked(r *http.Request, convID, callerID string) (bool, error) {
	participants, err := a.store.ListParticipants(r.Context(), convID)
	if err != nil {
		return false, err
	}
	for _, p := range participants {
		if p.UserID == callerID {
			continue
		}
		blocked, err := a.store.IsBlockedBetween(r.Context(), callerID, p.UserID)
		if err != nil {
			return false, err
		}
		if blocked {
			return true, nil
		}
	}
	return false, nil
}

func (a *API) handleSearchMessages(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		a.writeError(w, apperr.Validation("Query parameter q is required"))
		return
	}

	limit := messageSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			a.writeError(w, apperr.Validation("limit must be a positive integer"))
			return
		}
		if n < limit {
			limit = n
		}
	}

	callerID := auth.UserIDFromContext(r.Context())
	msgs, err := a.store.SearchMessages(r.Context(), callerID, query, r.URL.Query().Get("conversationId"), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}

	views := make([]*conversation.MessageView, 0, len(msgs))
	for _, m := range msgs {
		view, err := a.convs.RenderMessage(r.Context(), m)
		if err != nil {
			a.writeError(w, err)
			return
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, itemsEnvelope{Items: views})
}
