package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"github.com/aoikurokawa/zone/internal/domain"
)

// streamIDPattern matches Redis stream ids ("0" or "<ms>-<seq>").
var streamIDPattern = regexp.MustCompile(`^\d+(-\d+)?$`)

// EventHandler pages through the durable event stream.
type EventHandler struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(bus domain.SignalBus, logger *slog.Logger) *EventHandler {
	return &EventHandler{bus: bus, logger: logger.With(slog.String("handler", "events"))}
}

type streamEvent struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

type listEventsResponse struct {
	Events []streamEvent `json:"events"`
	// Next is the cursor to pass as after for the following page.
	Next string `json:"next"`
}

// ListEvents returns events strictly after the given stream id.
// GET /api/events?after=0&count=100
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	if !streamIDPattern.MatchString(after) {
		writeError(w, http.StatusBadRequest, "invalid after cursor")
		return
	}
	count := 100
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid count")
			return
		}
		count = min(n, 1000)
	}

	msgs, err := h.bus.StreamRead(r.Context(), domain.EventsStream, after, count)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	resp := listEventsResponse{Events: make([]streamEvent, 0, len(msgs)), Next: after}
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		resp.Events = append(resp.Events, streamEvent{ID: m.ID, Event: m.Payload})
		resp.Next = m.ID
	}
	writeJSON(w, http.StatusOK, resp)
}
