package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qrlabel-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

const wristbandColumns = `id, token_text, status, owner_app_id, child_name, parent_name, phone,
		timezone, activated_at, expires_at, activated_device_id,
		activated_lat, activated_lng, activated_accuracy_m, push_enabled, created_at, updated_at`

// WristbandRepository handles database operations for wristbands
type WristbandRepository struct {
	db *pgxpool.Pool
}

// NewWristbandRepository creates a new wristband repository
func NewWristbandRepository(db *pgxpool.Pool) *WristbandRepository {
	return &WristbandRepository{db: db}
}

// GetByToken retrieves a wristband by its token text
func (r *WristbandRepository) GetByToken(ctx context.Context, tokenText string) (*models.Wristband, error) {
	query := `SELECT ` + wristbandColumns + ` FROM wristbands WHERE token_text = $1`
	wb, err := scanWristband(r.db.QueryRow(ctx, query, tokenText))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get wristband by token: %w", err)
	}
	return wb, nil
}

// GetByID retrieves a wristband by ID
func (r *WristbandRepository) GetByID(ctx context.Context, id string) (*models.Wristband, error) {
	query := `SELECT ` + wristbandColumns + ` FROM wristbands WHERE id = $1`
	wb, err := scanWristband(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get wristband: %w", err)
	}
	return wb, nil
}

// Claim performs the one state-mutating transition, available -> active, as
// a single conditional upsert keyed on token_text. Of any number of
// concurrent claimants for the same token, exactly one gets a row back; the
// rest see claimed=false and must re-read to learn the conflict. There is
// no window where two claimants both observe the row as available.
func (r *WristbandRepository) Claim(ctx context.Context, act models.Activation, now time.Time) (*models.Wristband, bool, error) {
	expires := now.Add(models.ActivationWindow)
	query := `
		INSERT INTO wristbands (
			id, token_text, status, owner_app_id, child_name, parent_name, phone,
			timezone, activated_at, expires_at, activated_device_id,
			activated_lat, activated_lng, activated_accuracy_m, created_at, updated_at
		)
		VALUES ($1, $2, 'active', $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $8, $8)
		ON CONFLICT (token_text) DO UPDATE SET
			status               = 'active',
			owner_app_id         = EXCLUDED.owner_app_id,
			child_name           = EXCLUDED.child_name,
			parent_name          = EXCLUDED.parent_name,
			phone                = EXCLUDED.phone,
			timezone             = EXCLUDED.timezone,
			activated_at         = EXCLUDED.activated_at,
			expires_at           = EXCLUDED.expires_at,
			activated_device_id  = EXCLUDED.activated_device_id,
			activated_lat        = EXCLUDED.activated_lat,
			activated_lng        = EXCLUDED.activated_lng,
			activated_accuracy_m = EXCLUDED.activated_accuracy_m,
			updated_at           = EXCLUDED.updated_at
		WHERE wristbands.status = 'available'
		RETURNING ` + wristbandColumns
	wb, err := scanWristband(r.db.QueryRow(ctx, query,
		act.NewID, act.TokenText, act.OwnerAppID, act.ChildName, act.ParentName, act.Phone,
		act.Timezone, now, expires, act.DeviceID, act.Lat, act.Lng, act.AccuracyM,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race or the row was never available.
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to claim wristband: %w", err)
	}
	return wb, true, nil
}

// ListActiveByOwner retrieves the owner's active wristbands, most recently
// updated first, each with the latest consented scan timestamp.
func (r *WristbandRepository) ListActiveByOwner(ctx context.Context, ownerAppID string, now time.Time) ([]models.DashboardItem, error) {
	query := `
		SELECT ` + wristbandColumns + `, s.last_scan_at
		FROM wristbands w
		LEFT JOIN LATERAL (
			SELECT max(created_at) AS last_scan_at
			FROM scan_events
			WHERE token_text = w.token_text AND consent
		) s ON true
		WHERE w.owner_app_id = $1 AND w.status = 'active' AND w.expires_at > $2
		ORDER BY w.updated_at DESC
	`
	rows, err := r.db.Query(ctx, query, ownerAppID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list wristbands: %w", err)
	}
	defer rows.Close()

	var items []models.DashboardItem
	for rows.Next() {
		var item models.DashboardItem
		if err := rows.Scan(
			&item.ID, &item.TokenText, &item.Status, &item.OwnerAppID,
			&item.ChildName, &item.ParentName, &item.Phone, &item.Timezone,
			&item.ActivatedAt, &item.ExpiresAt, &item.ActivatedDeviceID,
			&item.ActivatedLat, &item.ActivatedLng, &item.ActivatedAccuracyM,
			&item.PushEnabled, &item.CreatedAt, &item.UpdatedAt, &item.LastScanAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan wristband row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read wristband rows: %w", err)
	}
	return items, nil
}

// SetPushEnabled flips scan notifications for a wristband, owner-scoped
func (r *WristbandRepository) SetPushEnabled(ctx context.Context, id, ownerAppID string, enabled bool) error {
	query := `UPDATE wristbands SET push_enabled = $1, updated_at = now() WHERE id = $2 AND owner_app_id = $3`
	result, err := r.db.Exec(ctx, query, enabled, id, ownerAppID)
	if err != nil {
		return fmt.Errorf("failed to update push flag: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireOverdue sweeps active wristbands past their validity window to used.
// Reads already treat such rows as used; this converges the stored state.
func (r *WristbandRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE wristbands SET status = 'used', updated_at = $1 WHERE status = 'active' AND expires_at < $1`
	result, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire wristbands: %w", err)
	}
	return result.RowsAffected(), nil
}

// CreateAvailable inserts a freshly provisioned wristband
func (r *WristbandRepository) CreateAvailable(ctx context.Context, wb *models.Wristband) error {
	query := `
		INSERT INTO wristbands (id, token_text, status, timezone, created_at, updated_at)
		VALUES ($1, $2, 'available', $3, $4, $4)
	`
	_, err := r.db.Exec(ctx, query, wb.ID, wb.TokenText, wb.Timezone, wb.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create wristband: %w", err)
	}
	return nil
}

// TokenExists checks if a token is already assigned
func (r *WristbandRepository) TokenExists(ctx context.Context, tokenText string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM wristbands WHERE token_text = $1)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, tokenText).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check token existence: %w", err)
	}
	return exists, nil
}

func scanWristband(row pgx.Row) (*models.Wristband, error) {
	var wb models.Wristband
	err := row.Scan(
		&wb.ID, &wb.TokenText, &wb.Status, &wb.OwnerAppID,
		&wb.ChildName, &wb.ParentName, &wb.Phone, &wb.Timezone,
		&wb.ActivatedAt, &wb.ExpiresAt, &wb.ActivatedDeviceID,
		&wb.ActivatedLat, &wb.ActivatedLng, &wb.ActivatedAccuracyM,
		&wb.PushEnabled, &wb.CreatedAt, &wb.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &wb, nil
}
