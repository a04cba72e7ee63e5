package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PushTokenRepository stores the device push token of each app installation
type PushTokenRepository struct {
	db *pgxpool.Pool
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(db *pgxpool.Pool) *PushTokenRepository {
	return &PushTokenRepository{db: db}
}

// Upsert stores or replaces the push token for an app installation
func (r *PushTokenRepository) Upsert(ctx context.Context, appID, deviceToken string, now time.Time) error {
	query := `
		INSERT INTO push_tokens (app_id, device_token, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (app_id) DO UPDATE SET device_token = EXCLUDED.device_token, updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Exec(ctx, query, appID, deviceToken, now)
	if err != nil {
		return fmt.Errorf("failed to upsert push token: %w", err)
	}
	return nil
}

// GetByAppID retrieves the push token for an app installation
func (r *PushTokenRepository) GetByAppID(ctx context.Context, appID string) (string, error) {
	query := `SELECT device_token FROM push_tokens WHERE app_id = $1`
	var deviceToken string
	if err := r.db.QueryRow(ctx, query, appID).Scan(&deviceToken); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get push token: %w", err)
	}
	return deviceToken, nil
}
