package handlers

import (
	"encoding/json"
	"net/http"

	"qrlabel-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// AdminHandler serves the wristband provisioning endpoint
type AdminHandler struct {
	svc *services.ProvisionService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(svc *services.ProvisionService) *AdminHandler {
	return &AdminHandler{svc: svc}
}

// ProvisionRequest is the body of POST /api/v1/admin/wristbands
type ProvisionRequest struct {
	Count int `json:"count"`
}

// ProvisionResponse lists the minted wristbands
type ProvisionResponse struct {
	OK         bool                            `json:"ok"`
	Wristbands []services.ProvisionedWristband `json:"wristbands"`
}

// Provision handles POST /api/v1/admin/wristbands
func (h *AdminHandler) Provision(w http.ResponseWriter, r *http.Request) {
	var req ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Count < 1 {
		respondError(w, "count must be positive", http.StatusBadRequest)
		return
	}

	minted, err := h.svc.Provision(r.Context(), req.Count)
	if err != nil {
		log.Error().Err(err).Int("count", req.Count).Msg("Failed to provision wristbands")
		respondError(w, "provisioning failed", http.StatusInternalServerError)
		return
	}

	log.Info().Int("count", len(minted)).Msg("Provisioning batch complete")
	respondJSON(w, http.StatusOK, ProvisionResponse{OK: true, Wristbands: minted})
}
