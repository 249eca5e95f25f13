package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	errorsmod "cosmossdk.io/errors"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// OracleService is what the oracle registry handler needs from the engine.
type OracleService interface {
	RegisterOracle(ctx context.Context, caller domain.Credential, oracle domain.Address, name string) error
	GetOracle(ctx context.Context, addr domain.Address) (domain.Oracle, error)
	ListOracles(ctx context.Context) ([]domain.Oracle, error)
}

// OracleHandler serves the oracle registry.
type OracleHandler struct {
	svc    OracleService
	logger *slog.Logger
}

// NewOracleHandler creates an OracleHandler.
func NewOracleHandler(svc OracleService, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{svc: svc, logger: logger.With(slog.String("handler", "oracle"))}
}

type registerOracleRequest struct {
	Credential domain.Credential `json:"credential"`
	Address    string            `json:"address"`
	Name       string            `json:"name"`
}

// Register adds an oracle to the registry.
// POST /api/v1/oracles
func (h *OracleHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerOracleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	addr := domain.NewAddress(req.Address)
	if err := h.svc.RegisterOracle(r.Context(), req.Credential, addr, req.Name); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	o, err := h.svc.GetOracle(r.Context(), addr)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

type listOraclesResponse struct {
	Oracles []domain.Oracle `json:"oracles"`
	Total   int             `json:"total"`
}

// List returns every registered oracle in registration order.
// GET /api/v1/oracles
func (h *OracleHandler) List(w http.ResponseWriter, r *http.Request) {
	oracles, err := h.svc.ListOracles(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if oracles == nil {
		oracles = []domain.Oracle{}
	}
	writeJSON(w, http.StatusOK, listOraclesResponse{Oracles: oracles, Total: len(oracles)})
}

// Get returns one oracle.
// GET /api/v1/oracles/{address}
func (h *OracleHandler) Get(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	o, err := h.svc.GetOracle(r.Context(), addr)
	if errors.Is(err, domain.ErrNotRegistered) {
		err = errorsmod.Wrap(domain.ErrNotFound, err.Error())
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
