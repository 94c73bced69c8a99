package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// NotificationService is the slice of the reconciler the handler needs.
type NotificationService interface {
	Notifications(ctx context.Context, viewer common.Address) ([]domain.Notification, error)
	ToggleRead(ctx context.Context, viewer common.Address, txRef string) (bool, error)
	MarkAllRead(ctx context.Context, viewer common.Address) error
	UnreadCount(ctx context.Context, viewer common.Address) (int, error)
}

// NotificationHandler serves the per-wallet notification feed.
type NotificationHandler struct {
	svc    NotificationService
	logger *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(svc NotificationService, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, logger: logger}
}

func requireViewer(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	viewer, err := parseViewer(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, false
	}
	if viewer == (common.Address{}) {
		writeError(w, http.StatusBadRequest, "viewer query parameter required")
		return common.Address{}, false
	}
	return viewer, true
}

func (h *NotificationHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	writeError(w, http.StatusBadGateway, op+" failed")
}

// List returns the viewer's notifications, newest first.
// GET /api/notifications?viewer=0x...
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	viewer, ok := requireViewer(w, r)
	if !ok {
		return
	}
	items, err := h.svc.Notifications(r.Context(), viewer)
	if err != nil {
		h.fail(w, r, "list notifications", err)
		return
	}
	if items == nil {
		items = []domain.Notification{}
	}
	unread := 0
	for _, n := range items {
		if !n.IsRead {
			unread++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": items,
		"unread":        unread,
	})
}

// Toggle flips the read flag of one notification.
// POST /api/notifications/{tx}/toggle?viewer=0x...
func (h *NotificationHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	viewer, ok := requireViewer(w, r)
	if !ok {
		return
	}
	tx := pathParam(r, "tx")
	if tx == "" {
		writeError(w, http.StatusBadRequest, "tx path parameter required")
		return
	}
	read, err := h.svc.ToggleRead(r.Context(), viewer, tx)
	if err != nil {
		h.fail(w, r, "toggle read", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tx_ref": tx, "is_read": read})
}

// ReadAll marks every visible notification read.
// POST /api/notifications/read-all?viewer=0x...
func (h *NotificationHandler) ReadAll(w http.ResponseWriter, r *http.Request) {
	viewer, ok := requireViewer(w, r)
	if !ok {
		return
	}
	if err := h.svc.MarkAllRead(r.Context(), viewer); err != nil {
		h.fail(w, r, "mark all read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unread returns the badge count: unread items newer than the last visit.
// GET /api/notifications/unread?viewer=0x...
func (h *NotificationHandler) Unread(w http.ResponseWriter, r *http.Request) {
	viewer, ok := requireViewer(w, r)
	if !ok {
		return
	}
	n, err := h.svc.UnreadCount(r.Context(), viewer)
	if err != nil {
		h.fail(w, r, "unread count", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}
