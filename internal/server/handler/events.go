package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	errorsmod "cosmossdk.io/errors"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// EventService lists the audit log.
type EventService interface {
	ListEvents(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error)
}

// StreamReader reads the replicated event stream.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventHandler serves the audit log and, when Redis is configured, the
// event stream cursor API.
type EventHandler struct {
	svc    EventService
	stream StreamReader
	name   string
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler. stream may be nil.
func NewEventHandler(svc EventService, stream StreamReader, streamName string, logger *slog.Logger) *EventHandler {
	return &EventHandler{svc: svc, stream: stream, name: streamName, logger: logger.With(slog.String("handler", "events"))}
}

type listEventsResponse struct {
	Events []domain.Event `json:"events"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// List returns audit events in commit order.
// GET /api/v1/events?limit=50&offset=0&since=&until=
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	events, err := h.svc.ListEvents(r.Context(), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events, Limit: opts.Limit, Offset: opts.Offset})
}

type streamEntry struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

type streamResponse struct {
	Entries []streamEntry `json:"entries"`
	// Next is the cursor to pass as ?after= on the following call.
	Next string `json:"next"`
}

// Stream pages through the Redis event stream after a cursor.
// GET /api/v1/events/stream?after=0&count=100
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeError(w, r, h.logger, errorsmod.Wrap(domain.ErrNotFound, "event stream is not configured"))
		return
	}
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, h.logger, errorsmod.Wrapf(domain.ErrInvalidValue, "count %q", v))
			return
		}
		count = min(n, 1000)
	}

	msgs, err := h.stream.StreamRead(r.Context(), h.name, after, count)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := streamResponse{Entries: make([]streamEntry, 0, len(msgs)), Next: after}
	for _, m := range msgs {
		resp.Entries = append(resp.Entries, streamEntry{ID: m.ID, Event: m.Payload})
		resp.Next = m.ID
	}
	writeJSON(w, http.StatusOK, resp)
}
