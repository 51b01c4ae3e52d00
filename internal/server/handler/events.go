package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/deedmarket/deedmarket/internal/domain"
)

// EventService provides read access to the durable exchange event log.
type EventService interface {
	Events(ctx context.Context, category domain.EventCategory, opts domain.ListOpts) ([]domain.Event, error)
}

// EventHandler serves the event-log query endpoint.
type EventHandler struct {
	events EventService
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

type listEventsResponse struct {
	Events []domain.Event `json:"events"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ListEvents returns recorded events, newest first, optionally filtered by
// category and time window.
// GET /api/events?category=purchased&limit=50&offset=0&since=&until=
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	category := domain.EventCategory(r.URL.Query().Get("category"))
	if category != "" && !category.Valid() {
		writeError(w, http.StatusBadRequest, "unknown event category")
		return
	}

	opts := parseListOpts(r)
	events, err := h.events.Events(r.Context(), category, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, listEventsResponse{
		Events: events,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}
