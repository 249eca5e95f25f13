package handler

import (
	"context"
	"log/slog"
	"net/http"

	errorsmod "cosmossdk.io/errors"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// OverrideService is what the override handler needs from the engine.
type OverrideService interface {
	EmergencyOverride(ctx context.Context, approvers []domain.Credential, id domain.MarketID, forced domain.Outcome, justification domain.Hash) (domain.OverrideRecord, error)
	GetOverrideRecord(ctx context.Context, id domain.MarketID) (domain.OverrideRecord, bool, error)
	ListOverrideRecords(ctx context.Context, id domain.MarketID) ([]domain.OverrideRecord, error)
}

// OverrideVerifier checks override records against their off-store copies.
type OverrideVerifier interface {
	VerifyOverrides(ctx context.Context, records []domain.OverrideRecord) (int, error)
}

// OverrideHandler serves the emergency override.
type OverrideHandler struct {
	svc      OverrideService
	verifier OverrideVerifier
	logger   *slog.Logger
}

// NewOverrideHandler creates an OverrideHandler. verifier may be nil when
// no archive is configured.
func NewOverrideHandler(svc OverrideService, verifier OverrideVerifier, logger *slog.Logger) *OverrideHandler {
	return &OverrideHandler{svc: svc, verifier: verifier, logger: logger.With(slog.String("handler", "override"))}
}

type overrideRequest struct {
	Approvals         []domain.Credential `json:"approvals"`
	ForcedOutcome     uint32              `json:"forced_outcome"`
	JustificationHash domain.Hash         `json:"justification_hash"`
}

// Execute forces the consensus result of a market.
// POST /api/v1/markets/{id}/override
func (h *OverrideHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, err := marketParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	rec, err := h.svc.EmergencyOverride(r.Context(), req.Approvals, id, domain.Outcome(req.ForcedOutcome), req.JustificationHash)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Get returns the latest override record of a market.
// GET /api/v1/markets/{id}/override
func (h *OverrideHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := marketParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	rec, found, err := h.svc.GetOverrideRecord(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !found {
		writeError(w, r, h.logger, errorsmod.Wrapf(domain.ErrNotFound, "no override on %s", id.Hex()))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type listOverridesResponse struct {
	Overrides []domain.OverrideRecord `json:"overrides"`
	Total     int                     `json:"total"`
}

// List returns every override of a market, oldest first.
// GET /api/v1/markets/{id}/overrides
func (h *OverrideHandler) List(w http.ResponseWriter, r *http.Request) {
	id, err := marketParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	recs, err := h.svc.ListOverrideRecords(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if recs == nil {
		recs = []domain.OverrideRecord{}
	}
	writeJSON(w, http.StatusOK, listOverridesResponse{Overrides: recs, Total: len(recs)})
}

type verifyResponse struct {
	Total    int    `json:"total"`
	Verified int    `json:"verified"`
	Error    string `json:"error,omitempty"`
}

// Verify compares a market's override history with the archive. Any
// missing, unreadable or differing object yields status 409.
// GET /api/v1/markets/{id}/overrides/verify
func (h *OverrideHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		writeError(w, r, h.logger, errorsmod.Wrap(domain.ErrNotFound, "override archive is not configured"))
		return
	}
	id, err := marketParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	recs, err := h.svc.ListOverrideRecords(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	n, err := h.verifier.VerifyOverrides(r.Context(), recs)
	resp := verifyResponse{Total: len(recs), Verified: n}
	if err != nil {
		h.logger.WarnContext(r.Context(), "override archive verification failed",
			slog.String("market_id", id.Hex()),
			slog.String("error", err.Error()),
		)
		resp.Error = err.Error()
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
