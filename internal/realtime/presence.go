// ABOUTME: Presence broadcasting to conversation neighbors
// ABOUTME: Online on first connection, offline with lastSeen on the last close

package realtime

import (
	"context"
	"time"
)

// broadcastPresence fans a presence:update to every user sharing at least
// one conversation with the subject. Offline neighbors are skipped; they
// get fresh isOnline flags from the REST API when they return.
func (g *Gateway) broadcastPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) {
	peers, err := g.store.ListConversationPeers(ctx, userID)
	if err != nil {
		g.logger.Error("listing conversation peers", "user_id", userID, "error", err)
		return
	}

	status := PresenceOffline
	if online {
		status = PresenceOnline
	}
	payload := presencePayload{UserID: userID, Status: status, LastSeen: lastSeen}
	for _, peer := range peers {
		if !g.hub.IsOnline(peer) {
			continue
		}
		g.sendToUser(peer, TypePresenceUpdate, payload)
	}
}
