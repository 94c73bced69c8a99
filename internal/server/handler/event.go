package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

var knownChannels = map[string]bool{
	domain.ChannelSnapshots:     true,
	domain.ChannelTrades:        true,
	domain.ChannelNotifications: true,
}

// EventHandler replays recent bus events for clients that connect late.
type EventHandler struct {
	history domain.EventHistory
	logger  *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(history domain.EventHistory, logger *slog.Logger) *EventHandler {
	return &EventHandler{history: history, logger: logger}
}

// Recent returns up to limit events from one channel, newest first.
// GET /api/events/{channel}?limit=50
func (h *EventHandler) Recent(w http.ResponseWriter, r *http.Request) {
	channel := pathParam(r, "channel")
	if !knownChannels[channel] {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	raw, err := h.history.Recent(r.Context(), channel, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: event history failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	events := make([]json.RawMessage, 0, len(raw))
	for _, b := range raw {
		if json.Valid(b) {
			events = append(events, b)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": channel, "events": events})
}
