package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qrlabel-backend/internal/config"
	"qrlabel-backend/internal/models"
	"qrlabel-backend/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	apnstoken "github.com/sideshow/apns2/token"
)

// PushTokenStore is the persistence surface for device push tokens
type PushTokenStore interface {
	Upsert(ctx context.Context, appID, deviceToken string, now time.Time) error
	GetByAppID(ctx context.Context, appID string) (string, error)
}

// PushNotifier sends an APNs alert to the owner's device when a finder
// interacts with one of their wristbands.
type PushNotifier struct {
	client *apns2.Client
	topic  string
	tokens PushTokenStore
}

// NewPushNotifier creates an APNs notifier with token-based authentication
func NewPushNotifier(cfg config.APNSConfig, tokens PushTokenStore) (*PushNotifier, error) {
	authKey, err := apnstoken.AuthKeyFromFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&apnstoken.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &PushNotifier{
		client: client,
		topic:  cfg.Topic,
		tokens: tokens,
	}, nil
}

// NotifyScan pushes a scan alert to the owner. Honors the wristband's
// push_enabled flag; silently skips owners with no registered device.
func (n *PushNotifier) NotifyScan(ctx context.Context, wb *models.Wristband, ev *models.ScanEvent) {
	if !wb.PushEnabled || wb.OwnerAppID == nil {
		return
	}

	deviceToken, err := n.tokens.GetByAppID(ctx, *wb.OwnerAppID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Error().Err(err).Str("owner_app_id", *wb.OwnerAppID).Msg("Failed to look up push token")
		}
		return
	}

	child := "Your child"
	if wb.ChildName != nil && *wb.ChildName != "" {
		child = *wb.ChildName
	}
	body := fmt.Sprintf("%s's wristband was just scanned.", child)
	if ev.Consent {
		body = fmt.Sprintf("%s's wristband was scanned and a location was shared.", child)
	}

	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       n.topic,
		Payload: payload.NewPayload().
			AlertTitle("Wristband scanned").
			AlertBody(body).
			Sound("default").
			Custom("wristband_id", wb.ID),
	}

	res, err := n.client.PushWithContext(ctx, notification)
	if err != nil {
		log.Error().Err(err).Str("wristband_id", wb.ID).Msg("Failed to send push")
		return
	}
	if !res.Sent() {
		log.Warn().
			Int("status", res.StatusCode).
			Str("reason", res.Reason).
			Str("wristband_id", wb.ID).
			Msg("Push rejected by APNs")
		return
	}

	log.Info().Str("wristband_id", wb.ID).Msg("Scan push sent")
}

// PushRegistry stores device tokens reported by app installations
type PushRegistry struct {
	tokens PushTokenStore
	now    func() time.Time
}

// NewPushRegistry creates a new push registry
func NewPushRegistry(tokens PushTokenStore) *PushRegistry {
	return &PushRegistry{tokens: tokens, now: time.Now}
}

// Register stores or replaces the device token for an app installation
func (p *PushRegistry) Register(ctx context.Context, appID, deviceToken string) error {
	if appID == "" || deviceToken == "" {
		return fmt.Errorf("missing app_id or device_token")
	}
	return p.tokens.Upsert(ctx, appID, deviceToken, p.now())
}
