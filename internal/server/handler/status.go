package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// StatusService reports engine-level counters.
type StatusService interface {
	OracleCount(ctx context.Context) (int, error)
	GetRequiredConsensus(ctx context.Context) (uint32, error)
	GetLastOverrideTime(ctx context.Context) (time.Time, error)
}

// StatusHandler serves process and engine status.
type StatusHandler struct {
	svc       StatusService
	version   string
	store     string
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(svc StatusService, version, store string, startedAt time.Time, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		svc:       svc,
		version:   version,
		store:     store,
		startedAt: startedAt,
		logger:    logger.With(slog.String("handler", "status")),
	}
}

// GetStatus responds with version, uptime and engine counters.
// GET /api/v1/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	oracles, err := h.svc.OracleCount(ctx)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	threshold, err := h.svc.GetRequiredConsensus(ctx)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	last, err := h.svc.GetLastOverrideTime(ctx)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp := map[string]any{
		"version":            h.version,
		"store":              h.store,
		"uptime_seconds":     int64(time.Since(h.startedAt).Seconds()),
		"oracles":            oracles,
		"required_consensus": threshold,
		"last_override_time": int64(0),
	}
	if !last.IsZero() {
		resp["last_override_time"] = last.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}
