package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"jungleboard/notifier/internal/models"
	"jungleboard/notifier/internal/repos"
	"jungleboard/shared/authx"
	"jungleboard/shared/cachex"
	"jungleboard/shared/httpx"
)

type Handler struct {
	Notifications *repos.NotificationsRepo
	Cache         *cachex.Client
	UnreadTTL     time.Duration
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/notifications", h.list)
	mux.HandleFunc("GET /api/v1/notifications/unread-count", h.unreadCount)
	mux.HandleFunc("POST /api/v1/notifications/{id}/read", h.markRead)
	mux.HandleFunc("POST /api/v1/notifications/read-all", h.markAllRead)
}

type notificationPayload struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Message   string     `json:"message"`
	TaskID    string     `json:"taskId"`
	Read      bool       `json:"read"`
	CreatedAt time.Time  `json:"createdAt"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
}

func toPayload(n models.Notification) notificationPayload {
	return notificationPayload{
		ID:        n.NotificationID.String(),
		Kind:      n.Kind,
		Message:   n.Message,
		TaskID:    n.TaskID.String(),
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
		ReadAt:    n.ReadAt,
	}
}

// requestUserID resolves whose notifications are addressed: the token
// subject when authenticated, the userId query param otherwise.
func requestUserID(r *http.Request) string {
	if auth, ok := authx.FromContext(r.Context()); ok && auth.Subject != "" {
		return auth.Subject
	}
	return r.URL.Query().Get("userId")
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "userId is required", nil)
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"
	page, size := 1, 20
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && v > 0 && v <= 100 {
		size = v
	}

	notifications, err := h.Notifications.ListByRecipient(r.Context(), userID, unreadOnly, size, (page-1)*size)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list notifications", nil)
		return
	}
	data := make([]notificationPayload, 0, len(notifications))
	for _, n := range notifications {
		data = append(data, toPayload(n))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"data": data,
		"page": page,
		"size": size,
	})
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "userId is required", nil)
		return
	}

	if h.Cache != nil {
		if count, hit, err := h.Cache.GetUnread(r.Context(), userID); err == nil && hit {
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"unread": count, "cached": true})
			return
		}
	}

	count, err := h.Notifications.CountUnread(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to count notifications", nil)
		return
	}
	if h.Cache != nil {
		_ = h.Cache.SetUnread(r.Context(), userID, count, h.UnreadTTL)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"unread": count})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "userId is required", nil)
		return
	}
	notificationID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid notification id", nil)
		return
	}

	updated, err := h.Notifications.MarkRead(r.Context(), userID, notificationID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to mark notification", nil)
		return
	}
	if !updated {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "notification not found", nil)
		return
	}
	if h.Cache != nil {
		_ = h.Cache.BumpUnread(r.Context(), userID, -1)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": notificationID.String(), "read": true})
}

func (h *Handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "userId is required", nil)
		return
	}
	count, err := h.Notifications.MarkAllRead(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to mark notifications", nil)
		return
	}
	if h.Cache != nil {
		_ = h.Cache.SetUnread(r.Context(), userID, 0, h.UnreadTTL)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"updated": count})
}
