package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// AdminService is what the admin handler needs from the engine.
type AdminService interface {
	Initialize(ctx context.Context, admin domain.Credential, requiredConsensus uint32) error
	AddAdminSigner(ctx context.Context, caller domain.Credential, newAdmin domain.Address) error
	SetRequiredSignatures(ctx context.Context, caller domain.Credential, n uint32) error
	SetOverrideCooldown(ctx context.Context, caller domain.Credential, cooldown time.Duration) error
	AdminConfig(ctx context.Context) (domain.AdminConfig, error)
}

// AdminHandler serves initialisation and the admin signer configuration.
type AdminHandler struct {
	svc    AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(svc AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger.With(slog.String("handler", "admin"))}
}

type initializeRequest struct {
	Credential        domain.Credential `json:"credential"`
	RequiredConsensus uint32            `json:"required_consensus"`
}

// Initialize makes the caller the admin.
// POST /api/v1/initialize
func (h *AdminHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.Initialize(r.Context(), req.Credential, req.RequiredConsensus); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.writeConfig(w, r, http.StatusCreated)
}

// adminConfigResponse renders durations and times as unix seconds.
type adminConfigResponse struct {
	Admin              domain.Address   `json:"admin"`
	RequiredConsensus  uint32           `json:"required_consensus"`
	Signers            []domain.Address `json:"signers"`
	RequiredSignatures uint32           `json:"required_signatures"`
	OverrideCooldownS  int64            `json:"override_cooldown_seconds"`
	LastOverrideTime   int64            `json:"last_override_time"`
	Initialized        bool             `json:"initialized"`
}

// GetConfig returns the admin configuration, or defaults before
// initialisation.
// GET /api/v1/admin
func (h *AdminHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	h.writeConfig(w, r, http.StatusOK)
}

func (h *AdminHandler) writeConfig(w http.ResponseWriter, r *http.Request, status int) {
	cfg, err := h.svc.AdminConfig(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := adminConfigResponse{
		Admin:              cfg.Admin,
		RequiredConsensus:  cfg.RequiredConsensus,
		Signers:            cfg.Signers,
		RequiredSignatures: cfg.RequiredSignatures,
		OverrideCooldownS:  int64(cfg.OverrideCooldown / time.Second),
		Initialized:        !cfg.InitializedAt.IsZero(),
	}
	if resp.Signers == nil {
		resp.Signers = []domain.Address{}
	}
	if !cfg.LastOverrideTime.IsZero() {
		resp.LastOverrideTime = cfg.LastOverrideTime.Unix()
	}
	writeJSON(w, status, resp)
}

type addSignerRequest struct {
	Credential domain.Credential `json:"credential"`
	Signer     string            `json:"signer"`
}

// AddSigner adds an admin signer.
// POST /api/v1/admin/signers
func (h *AdminHandler) AddSigner(w http.ResponseWriter, r *http.Request) {
	var req addSignerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.AddAdminSigner(r.Context(), req.Credential, domain.NewAddress(req.Signer)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.writeConfig(w, r, http.StatusOK)
}

type requiredSignaturesRequest struct {
	Credential domain.Credential `json:"credential"`
	Required   uint32            `json:"required"`
}

// SetRequiredSignatures changes the override quorum.
// PUT /api/v1/admin/required-signatures
func (h *AdminHandler) SetRequiredSignatures(w http.ResponseWriter, r *http.Request) {
	var req requiredSignaturesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.SetRequiredSignatures(r.Context(), req.Credential, req.Required); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.writeConfig(w, r, http.StatusOK)
}

type overrideCooldownRequest struct {
	Credential      domain.Credential `json:"credential"`
	CooldownSeconds int64             `json:"cooldown_seconds"`
}

// SetOverrideCooldown changes the global override cooldown.
// PUT /api/v1/admin/override-cooldown
func (h *AdminHandler) SetOverrideCooldown(w http.ResponseWriter, r *http.Request) {
	var req overrideCooldownRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	cooldown := time.Duration(req.CooldownSeconds) * time.Second
	if err := h.svc.SetOverrideCooldown(r.Context(), req.Credential, cooldown); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.writeConfig(w, r, http.StatusOK)
}
