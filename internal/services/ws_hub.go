package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"qrlabel-backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WSMessage represents a WebSocket message sent to a connected owner app
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// WSHub manages WebSocket connections, keyed by owner app id. The app keeps
// one connection open while foregrounded and refreshes its dashboard when a
// scan_event message arrives.
type WSHub struct {
	mu          sync.RWMutex
	connections map[string]*websocket.Conn
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		connections: make(map[string]*websocket.Conn),
	}
}

// Register registers a connection for an app installation
func (h *WSHub) Register(appID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Close existing connection if any
	if existing, ok := h.connections[appID]; ok {
		existing.Close()
	}
	h.connections[appID] = conn

	log.Info().Str("app_id", appID).Msg("WebSocket connection registered")
}

// Unregister removes the connection for an app installation
func (h *WSHub) Unregister(appID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn, ok := h.connections[appID]; ok {
		conn.Close()
		delete(h.connections, appID)
		log.Info().Str("app_id", appID).Msg("WebSocket connection unregistered")
	}
}

// IsOnline checks if an app installation is connected
func (h *WSHub) IsOnline(appID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.connections[appID]
	return ok
}

// SendToApp sends a message to a connected app installation
func (h *WSHub) SendToApp(appID string, message WSMessage) error {
	h.mu.RLock()
	conn, ok := h.connections[appID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("app %s is not connected", appID)
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.Unregister(appID)
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// NotifyScan pushes a scan event to the owner's live feed, if connected
func (h *WSHub) NotifyScan(_ context.Context, wb *models.Wristband, ev *models.ScanEvent) {
	if wb.OwnerAppID == nil || !h.IsOnline(*wb.OwnerAppID) {
		return
	}

	message := WSMessage{
		Type: "scan_event",
		Data: map[string]interface{}{
			"wristband_id": wb.ID,
			"token_text":   ev.TokenText,
			"consent":      ev.Consent,
			"lat":          ev.Lat,
			"lng":          ev.Lng,
			"accuracy_m":   ev.AccuracyM,
			"at":           ev.CreatedAt,
		},
	}
	if err := h.SendToApp(*wb.OwnerAppID, message); err != nil {
		log.Error().Err(err).Str("app_id", *wb.OwnerAppID).Msg("Failed to push scan event over WebSocket")
	}
}
