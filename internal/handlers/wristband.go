package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"qrlabel-backend/internal/models"
	"qrlabel-backend/internal/services"
	"qrlabel-backend/internal/token"

	"github.com/rs/zerolog/log"
)

// WristbandHandler handles the status and activation endpoints
type WristbandHandler struct {
	svc   *services.WristbandService
	codec *token.Codec
}

// NewWristbandHandler creates a new wristband handler
func NewWristbandHandler(svc *services.WristbandService, codec *token.Codec) *WristbandHandler {
	return &WristbandHandler{svc: svc, codec: codec}
}

// StatusRequest is the body of POST /api/v1/wristband/status
type StatusRequest struct {
	Token string `json:"token"`
	AppID string `json:"app_id"`
}

// StatusResponse echoes the resolved lifecycle state. AppID is echoed for
// the caller's correlation only; the lookup is not owner-scoped.
type StatusResponse struct {
	OK        bool              `json:"ok"`
	Exists    bool              `json:"exists"`
	Status    models.Status     `json:"status"`
	Wristband *models.Wristband `json:"wristband"`
	AppID     string            `json:"app_id"`
}

// Status handles POST /api/v1/wristband/status
func (h *WristbandHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		respondError(w, "missing token", http.StatusBadRequest)
		return
	}

	tokenText, err := h.resolveToken(req.Token)
	if err != nil {
		respondError(w, "invalid_code", http.StatusBadRequest)
		return
	}

	result, err := h.svc.Status(ctx, tokenText)
	if err != nil {
		log.Error().Err(err).Str("token", tokenText).Msg("Status lookup failed")
		// Transport-level 200; the caller inspects ok and retries.
		respondJSON(w, http.StatusOK, ErrorResponse{Error: "lookup_failed"})
		return
	}

	respondJSON(w, http.StatusOK, StatusResponse{
		OK:        true,
		Exists:    result.Exists,
		Status:    result.Status,
		Wristband: result.Wristband,
		AppID:     req.AppID,
	})
}

// ActivateRequest is the body of POST /api/v1/wristband/activate
type ActivateRequest struct {
	Token      string   `json:"token"`
	AppID      string   `json:"app_id"`
	DeviceID   *string  `json:"device_id"`
	ChildName  *string  `json:"child_name"`
	ParentName *string  `json:"parent_name"`
	Phone      *string  `json:"phone"`
	Timezone   string   `json:"timezone"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
	Accuracy   *float64 `json:"accuracy"`
}

// ActivateResponse is the success envelope of the activation endpoint
type ActivateResponse struct {
	OK        bool              `json:"ok"`
	Status    models.Status     `json:"status"`
	Wristband *models.Wristband `json:"wristband"`
}

// ConflictResponse reports an expected, recoverable activation conflict.
// The current record is included so the caller can render without a second
// round trip.
type ConflictResponse struct {
	OK        bool              `json:"ok"`
	Code      models.Conflict   `json:"code"`
	Status    models.Status     `json:"status"`
	Wristband *models.Wristband `json:"wristband"`
}

// Activate handles POST /api/v1/wristband/activate
func (h *WristbandHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Token == "" || req.AppID == "" {
		respondError(w, "missing token or app_id", http.StatusBadRequest)
		return
	}

	tokenText, err := h.resolveToken(req.Token)
	if err != nil {
		respondError(w, "invalid_code", http.StatusBadRequest)
		return
	}

	result, err := h.svc.Activate(ctx, models.Activation{
		TokenText:  tokenText,
		OwnerAppID: req.AppID,
		DeviceID:   req.DeviceID,
		ChildName:  req.ChildName,
		ParentName: req.ParentName,
		Phone:      req.Phone,
		Timezone:   req.Timezone,
		Lat:        req.Lat,
		Lng:        req.Lng,
		AccuracyM:  req.Accuracy,
	})
	if err != nil {
		log.Error().Err(err).Str("token", tokenText).Str("app_id", req.AppID).Msg("Failed to activate wristband")
		respondError(w, "activation failed", http.StatusInternalServerError)
		return
	}

	if result.Conflict != models.ConflictNone {
		log.Info().
			Str("token", tokenText).
			Str("app_id", req.AppID).
			Str("code", string(result.Conflict)).
			Msg("Activation rejected")
		status := models.StatusActive
		if result.Conflict == models.ConflictExpired {
			status = models.StatusUsed
		}
		respondJSON(w, http.StatusOK, ConflictResponse{
			Code:      result.Conflict,
			Status:    status,
			Wristband: result.Wristband,
		})
		return
	}

	log.Info().
		Str("token", tokenText).
		Str("app_id", req.AppID).
		Str("wristband_id", result.Wristband.ID).
		Msg("Wristband activated")

	respondJSON(w, http.StatusOK, ActivateResponse{
		OK:        true,
		Status:    result.Wristband.Status,
		Wristband: result.Wristband,
	})
}

// resolveToken accepts either a bare token or a full scanned QR URL
func (h *WristbandHandler) resolveToken(raw string) (string, error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return h.codec.Parse(raw)
	}
	return token.Normalize(raw)
}
