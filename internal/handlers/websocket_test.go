package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"qrlabel-backend/internal/models"
	"qrlabel-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketRequiresAppID(t *testing.T) {
	hub := services.NewWSHub()
	handler := NewWebSocketHandler(hub)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	handler.HandleWebSocket(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebSocketScanFeed(t *testing.T) {
	hub := services.NewWSHub()
	handler := NewWebSocketHandler(hub)

	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?app_id=A1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Registration happens in the server goroutine after the upgrade.
	require.Eventually(t, func() bool { return hub.IsOnline("A1") },
		time.Second, 10*time.Millisecond)

	owner := "A1"
	lat, lng := 55.70, 12.59
	hub.NotifyScan(context.Background(),
		&models.Wristband{ID: "wb-1", TokenText: "XJ4Q9", OwnerAppID: &owner},
		&models.ScanEvent{ID: "scan-1", TokenText: "XJ4Q9", Consent: true, Lat: &lat, Lng: &lng, CreatedAt: time.Now()},
	)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg services.WSMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "scan_event", msg.Type)

	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "wb-1", data["wristband_id"])
	assert.Equal(t, "XJ4Q9", data["token_text"])
	assert.Equal(t, true, data["consent"])
}

func TestWebSocketOfflineOwnerIsSkipped(t *testing.T) {
	hub := services.NewWSHub()
	owner := "nobody-connected"

	// Must not panic or block with no connection registered.
	hub.NotifyScan(context.Background(),
		&models.Wristband{ID: "wb-1", TokenText: "XJ4Q9", OwnerAppID: &owner},
		&models.ScanEvent{ID: "scan-1", TokenText: "XJ4Q9"},
	)
	assert.False(t, hub.IsOnline(owner))
}
