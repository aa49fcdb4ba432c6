// ABOUTME: Unread notification summary: per-conversation counts plus the total
// ABOUTME: Counts come straight from the store's unread aggregation query

package api

import (
	"net/http"

	"github.com/parley-chat/parley/internal/auth"
)

type unreadConversation struct {
	ConversationID string `json:"conversationId"`
	UnreadCount    int    `json:"unreadCount"`
}

type unreadResponse struct {
	Conversations []unreadConversation `json:"conversations"`
	Total         int                  `json:"total"`
}

func (a *API) handleUnreadNotifications(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	summary, err := a.store.UnreadSummary(r.Context(), userID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	resp := unreadResponse{Conversations: make([]unreadConversation, 0, len(summary))}
	for _, entry := range summary {
		resp.Conversations = append(resp.Conversations, unreadConversation{
			ConversationID: entry.ConversationID,
			UnreadCount:    entry.Count,
		})
		resp.Total += entry.Count
	}
	writeJSON(w, http.StatusOK, resp)
}
