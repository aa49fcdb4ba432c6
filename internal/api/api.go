// ABOUTME: Request API: route table, middleware chain, and health endpoint
// ABOUTME: Stdlib ServeMux with method+pattern routes; bearer auth everywhere but the open endpoints

package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/conversation"
	"github.com/parley-chat/parley/internal/hub"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/store"
)

// Ten requests a minute per IP on register/login/refresh.
const (
	authRateLimit = rate.Limit(10.0 / 60.0)
	authRateBurst = 10
)

// Broadcaster pushes message lifecycle events to live WebSocket sessions.
// Implemented by the realtime gateway.
type Broadcaster interface {
	BroadcastEdited(ctx context.Context, msg *store.Message)
	BroadcastDeleted(ctx context.Context, msg *store.Message)
	FanoutMessage(ctx context.Context, msg *store.Message)
}

// Deps carries everything the API needs. Metrics, Hub, Broadcast, and
// WSHandler may be nil in tests.
type Deps struct {
	Store         store.Store
	Tokens        *auth.Service
	Conversations *conversation.Service
	Groups        *conversation.GroupService
	Broadcast     Broadcaster
	Hub           *hub.Hub
	Metrics       *metrics.Metrics
	WSHandler     http.HandlerFunc
	Logger        *slog.Logger
}

// API serves the REST surface plus /health, /metrics, and the /ws upgrade.
type API struct {
	store     store.Store
	tokens    *auth.Service
	convs     *conversation.Service
	groups    *conversation.GroupService
	broadcast Broadcaster
	hub       *hub.Hub
	metrics   *metrics.Metrics
	wsHandler http.HandlerFunc
	limiter   *ipLimiter
	logger    *slog.Logger
	started   time.Time
}

// New builds the API.
func New(d Deps) *API {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		store:     d.Store,
		tokens:    d.Tokens,
		convs:     d.Conversations,
		groups:    d.Groups,
		broadcast: d.Broadcast,
		hub:       d.Hub,
		metrics:   d.Metrics,
		wsHandler: d.WSHandler,
		limiter:   newIPLimiter(authRateLimit, authRateBurst),
		logger:    logger.With("component", "api"),
		started:   time.Now(),
	}
}

// Handler returns the full route table wrapped in request logging.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	authed := auth.Middleware(a.tokens)
	limited := a.limiter.middleware

	mux.Handle("POST /api/auth/register", limited(http.HandlerFunc(a.handleRegister)))
	mux.Handle("POST /api/auth/login", limited(http.HandlerFunc(a.handleLogin)))
	mux.Handle("POST /api/auth/refresh", limited(http.HandlerFunc(a.handleRefresh)))
	mux.Handle("POST /api/auth/logout", authed(http.HandlerFunc(a.handleLogout)))

	mux.Handle("GET /api/users/me", authed(http.HandlerFunc(a.handleGetMe)))
	mux.Handle("PUT /api/users/me", authed(http.HandlerFunc(a.handleUpdateMe)))
	mux.Handle("GET /api/users/search", authed(http.HandlerFunc(a.handleSearchUsers)))
	mux.Handle("GET /api/users/{id}", authed(http.HandlerFunc(a.handleGetUser)))

	mux.Handle("POST /api/conversations/direct", authed(http.HandlerFunc(a.handleCreateDirect)))
	mux.Handle("GET /api/conversations", authed(http.HandlerFunc(a.handleListConversations)))
	mux.Handle("GET /api/conversations/{id}", authed(http.HandlerFunc(a.handleGetConversation)))
	mux.Handle("GET /api/conversations/{id}/messages", authed(http.HandlerFunc(a.handleListMessages)))

	mux.Handle("POST /api/groups", authed(http.HandlerFunc(a.handleCreateGroup)))
	mux.Handle("GET /api/groups/{id}", authed(http.HandlerFunc(a.handleGetGroup)))
	mux.Handle("PUT /api/groups/{id}", authed(http.HandlerFunc(a.handleUpdateGroup)))
	mux.Handle("POST /api/groups/{id}/members", authed(http.HandlerFunc(a.handleAddGroupMembers)))
	mux.Handle("DELETE /api/groups/{id}/members/{userId}", authed(http.HandlerFunc(a.handleRemoveGroupMember)))
	mux.Handle("PUT /api/groups/{id}/members/{userId}/role", authed(http.HandlerFunc(a.handleUpdateGroupRole)))

	mux.Handle("PUT /api/messages/{id}", authed(http.HandlerFunc(a.handleEditMessage)))
	mux.Handle("DELETE /api/messages/{id}", authed(http.HandlerFunc(a.handleDeleteMessage)))
	mux.Handle("POST /api/messages/forward", authed(http.HandlerFunc(a.handleForwardMessage)))
	mux.Handle("GET /api/messages/search", authed(http.HandlerFunc(a.handleSearchMessages)))

	mux.Handle("GET /api/contacts", authed(http.HandlerFunc(a.handleListContacts)))
	mux.Handle("POST /api/contacts", authed(http.HandlerFunc(a.handleCreateContact)))
	mux.Handle("PUT /api/contacts/{userId}", authed(http.HandlerFunc(a.handleUpdateContact)))
	mux.Handle("DELETE /api/contacts/{userId}", authed(http.HandlerFunc(a.handleDeleteContact)))

	mux.Handle("GET /api/blocks", authed(http.HandlerFunc(a.handleListBlocks)))
	mux.Handle("POST /api/blocks", authed(http.HandlerFunc(a.handleCreateBlock)))
	mux.Handle("DELETE /api/blocks/{userId}", authed(http.HandlerFunc(a.handleDeleteBlock)))

	mux.Handle("GET /api/notifications/unread", authed(http.HandlerFunc(a.handleUnreadNotifications)))

	mux.HandleFunc("GET /health", a.handleHealth)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}
	if a.wsHandler != nil {
		mux.HandleFunc("GET /ws", a.wsHandler)
	}

	return a.logRequests(mux)
}

type healthResponse struct {
	Status        string `json:"status"`
	Uptime        int64  `json:"uptime"`
	WSConnections int    `json:"wsConnections"`
	OnlineUsers   int    `json:"onlineUsers"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Uptime: int64(time.Since(a.started).Seconds()),
	}
	if a.hub != nil {
		resp.WSConnections = a.hub.Count()
		resp.OnlineUsers = len(a.hub.OnlineUsers())
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start)

		a.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", duration.Milliseconds(),
		)
		if a.metrics != nil {
			a.metrics.HTTPRequest(r.Method, routeLabel(r.URL.Path), rec.status, duration)
		}
	})
}

// routeLabel collapses ID path segments so metric cardinality stays flat.
func routeLabel(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if len(seg) >= 20 {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}
