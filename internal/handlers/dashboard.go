package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"qrlabel-backend/internal/models"
	"qrlabel-backend/internal/repository"
	"qrlabel-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// DashboardHandler serves the owner-facing read endpoints and push settings
type DashboardHandler struct {
	svc      *services.WristbandService
	registry *services.PushRegistry
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(svc *services.WristbandService, registry *services.PushRegistry) *DashboardHandler {
	return &DashboardHandler{svc: svc, registry: registry}
}

// ListResponse is the dashboard listing envelope
type ListResponse struct {
	OK         bool                   `json:"ok"`
	Wristbands []models.DashboardItem `json:"wristbands"`
}

// List handles GET /api/v1/wristbands
func (h *DashboardHandler) List(w http.ResponseWriter, r *http.Request) {
	appID := r.URL.Query().Get("app_id")
	if appID == "" {
		respondError(w, "missing app_id", http.StatusBadRequest)
		return
	}

	items, err := h.svc.ListActive(r.Context(), appID)
	if err != nil {
		log.Error().Err(err).Str("app_id", appID).Msg("Failed to list wristbands")
		respondError(w, "fetch failed", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []models.DashboardItem{}
	}

	respondJSON(w, http.StatusOK, ListResponse{OK: true, Wristbands: items})
}

// LocationResponse is the map reader envelope
type LocationResponse struct {
	OK       bool               `json:"ok"`
	Location *services.LastSeen `json:"location"`
}

// Location handles GET /api/v1/wristbands/{wristband_id}/location
func (h *DashboardHandler) Location(w http.ResponseWriter, r *http.Request) {
	appID := r.URL.Query().Get("app_id")
	wristbandID := chi.URLParam(r, "wristband_id")
	if appID == "" || wristbandID == "" {
		respondError(w, "missing app_id or wristband_id", http.StatusBadRequest)
		return
	}

	lastSeen, err := h.svc.LastSeen(r.Context(), wristbandID, appID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			respondError(w, "not_found", http.StatusNotFound)
		case errors.Is(err, services.ErrNoLocation):
			respondError(w, "no_location", http.StatusNotFound)
		default:
			log.Error().Err(err).Str("wristband_id", wristbandID).Msg("Failed to resolve last seen")
			respondError(w, "fetch failed", http.StatusInternalServerError)
		}
		return
	}

	respondJSON(w, http.StatusOK, LocationResponse{OK: true, Location: lastSeen})
}

// SetPushRequest is the body of POST /api/v1/wristbands/{wristband_id}/push
type SetPushRequest struct {
	AppID   string `json:"app_id"`
	Enabled bool   `json:"enabled"`
}

// SetPush handles POST /api/v1/wristbands/{wristband_id}/push
func (h *DashboardHandler) SetPush(w http.ResponseWriter, r *http.Request) {
	wristbandID := chi.URLParam(r, "wristband_id")

	var req SetPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AppID == "" || wristbandID == "" {
		respondError(w, "missing app_id or wristband_id", http.StatusBadRequest)
		return
	}

	if err := h.svc.SetPushEnabled(r.Context(), wristbandID, req.AppID, req.Enabled); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, "not_found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("wristband_id", wristbandID).Msg("Failed to update push flag")
		respondError(w, "update failed", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// RegisterPushRequest is the body of POST /api/v1/push/register
type RegisterPushRequest struct {
	AppID       string `json:"app_id"`
	DeviceToken string `json:"device_token"`
}

// RegisterPush handles POST /api/v1/push/register
func (h *DashboardHandler) RegisterPush(w http.ResponseWriter, r *http.Request) {
	var req RegisterPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AppID == "" || req.DeviceToken == "" {
		respondError(w, "missing app_id or device_token", http.StatusBadRequest)
		return
	}

	if err := h.registry.Register(r.Context(), req.AppID, req.DeviceToken); err != nil {
		log.Error().Err(err).Str("app_id", req.AppID).Msg("Failed to register push token")
		respondError(w, "register failed", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
