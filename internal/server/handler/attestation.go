package handler

import (
	"context"
	"log/slog"
	"net/http"

	errorsmod "cosmossdk.io/errors"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// AttestationService is what the attestation handler needs from the engine.
type AttestationService interface {
	SubmitAttestation(ctx context.Context, oracle domain.Credential, id domain.MarketID, outcome domain.Outcome, evidence domain.Hash) error
	GetAttestation(ctx context.Context, id domain.MarketID, oracle domain.Address) (domain.Attestation, bool, error)
	ListAttestations(ctx context.Context, id domain.MarketID) ([]domain.Attestation, error)
}

// AttestationHandler serves oracle votes.
type AttestationHandler struct {
	svc    AttestationService
	logger *slog.Logger
}

// NewAttestationHandler creates an AttestationHandler.
func NewAttestationHandler(svc AttestationService, logger *slog.Logger) *AttestationHandler {
	return &AttestationHandler{svc: svc, logger: logger.With(slog.String("handler", "attestation"))}
}

type submitAttestationRequest struct {
	Credential   domain.Credential `json:"credential"`
	Outcome      uint32            `json:"outcome"`
	EvidenceHash domain.Hash       `json:"evidence_hash"`
}

// Submit records the caller's vote on a market.
// POST /api/v1/markets/{id}/attestations
func (h *AttestationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, err := marketParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req submitAttestationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	outcome := domain.Outcome(req.Outcome)
	if err := h.svc.SubmitAttestation(r.Context(), req.Credential, id, outcome, req.EvidenceHash); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	a, _, err := h.svc.GetAttestation(r.Context(), id, req.Credential.Identity)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

type listAttestationsResponse struct {
	Attestations []domain.Attestation `json:"attestations"`
	Total        int                  `json:"total"`
}

// List returns the attestations of a market in submission order.
// GET /api/v1/markets/{id}/attestations
func (h *AttestationHandler) List(w http.ResponseWriter, r *http.Request) {
	id, err := marketParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	list, err := h.svc.ListAttestations(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []domain.Attestation{}
	}
	writeJSON(w, http.StatusOK, listAttestationsResponse{Attestations: list, Total: len(list)})
}

// Get returns one oracle's attestation on a market.
// GET /api/v1/markets/{id}/attestations/{oracle}
func (h *AttestationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := marketParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	oracle, err := addressParam(r, "oracle")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	a, found, err := h.svc.GetAttestation(r.Context(), id, oracle)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !found {
		writeError(w, r, h.logger, errorsmod.Wrapf(domain.ErrNotFound, "no attestation by %s", oracle))
		return
	}
	writeJSON(w, http.StatusOK, a)
}
