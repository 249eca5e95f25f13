package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// MarketService is what the market handler needs from the engine.
type MarketService interface {
	RegisterMarket(ctx context.Context, caller domain.Credential, id domain.MarketID, resolutionTime time.Time) error
	GetMarket(ctx context.Context, id domain.MarketID) (domain.Market, error)
	GetAttestationCounts(ctx context.Context, id domain.MarketID) (yes, no uint32, err error)
	CheckConsensus(ctx context.Context, id domain.MarketID) (bool, domain.Outcome, error)
	GetConsensusResult(ctx context.Context, id domain.MarketID) (domain.Outcome, error)
	IsManualOverride(ctx context.Context, id domain.MarketID) (bool, error)
}

// MarketHandler serves market registration and consensus reads.
type MarketHandler struct {
	svc    MarketService
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(svc MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{svc: svc, logger: logger.With(slog.String("handler", "market"))}
}

type registerMarketRequest struct {
	Credential     domain.Credential `json:"credential"`
	MarketID       domain.MarketID   `json:"market_id"`
	ResolutionTime int64             `json:"resolution_time"`
}

type marketResponse struct {
	ID             domain.MarketID `json:"id"`
	ResolutionTime int64           `json:"resolution_time"`
	YesCount       uint32          `json:"yes_count"`
	NoCount        uint32          `json:"no_count"`
	RegisteredAt   int64           `json:"registered_at"`
}

func toMarketResponse(m domain.Market) marketResponse {
	return marketResponse{
		ID:             m.ID,
		ResolutionTime: m.ResolutionTime.Unix(),
		YesCount:       m.YesCount,
		NoCount:        m.NoCount,
		RegisteredAt:   m.RegisteredAt.Unix(),
	}
}

// Register registers or re-registers a market.
// POST /api/v1/markets
func (h *MarketHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resolution := time.Unix(req.ResolutionTime, 0).UTC()
	if err := h.svc.RegisterMarket(r.Context(), req.Credential, req.MarketID, resolution); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	m, err := h.svc.GetMarket(r.Context(), req.MarketID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMarketResponse(m))
}

// Get returns a registered market.
// GET /api/v1/markets/{id}
func (h *MarketHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := marketParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	m, err := h.svc.GetMarket(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketResponse(m))
}

// Counts returns the running yes/no tallies.
// GET /api/v1/markets/{id}/counts
func (h *MarketHandler) Counts(w http.ResponseWriter, r *http.Request) {
	id, err := marketParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	yes, no, err := h.svc.GetAttestationCounts(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint32{"yes": yes, "no": no})
}

type consensusResponse struct {
	Reached bool   `json:"reached"`
	Outcome uint32 `json:"outcome"`
	Label   string `json:"label"`
}

// Consensus evaluates the attestations of a market. It never writes.
// GET /api/v1/markets/{id}/consensus
func (h *MarketHandler) Consensus(w http.ResponseWriter, r *http.Request) {
	id, err := marketParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	reached, outcome, err := h.svc.CheckConsensus(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := consensusResponse{Reached: reached, Outcome: uint32(outcome), Label: outcome.String()}
	if !reached {
		resp.Label = "none"
	}
	writeJSON(w, http.StatusOK, resp)
}

type resultResponse struct {
	Outcome        uint32 `json:"outcome"`
	Label          string `json:"label"`
	ManualOverride bool   `json:"manual_override"`
}

// Result returns the stored consensus result, which only an emergency
// override writes.
// GET /api/v1/markets/{id}/result
func (h *MarketHandler) Result(w http.ResponseWriter, r *http.Request) {
	id, err := marketParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	outcome, err := h.svc.GetConsensusResult(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	manual, err := h.svc.IsManualOverride(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Outcome: uint32(outcome), Label: outcome.String(), ManualOverride: manual})
}
