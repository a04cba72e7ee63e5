package repository

import (
	"context"
	"errors"
	"fmt"

	"qrlabel-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ScanRepository handles database operations for scan events. The table is
// append-only; nothing in the service ever updates or deletes a row.
type ScanRepository struct {
	db *pgxpool.Pool
}

// NewScanRepository creates a new scan repository
func NewScanRepository(db *pgxpool.Pool) *ScanRepository {
	return &ScanRepository{db: db}
}

// Insert appends one scan event
func (r *ScanRepository) Insert(ctx context.Context, ev *models.ScanEvent) error {
	query := `
		INSERT INTO scan_events (id, token_text, lat, lng, accuracy_m, consent, source, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		ev.ID, ev.TokenText, ev.Lat, ev.Lng, ev.AccuracyM, ev.Consent, ev.Source, ev.UserAgent, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert scan event: %w", err)
	}
	return nil
}

// LatestConsented retrieves the most recent scan event with a shared
// location for a token
func (r *ScanRepository) LatestConsented(ctx context.Context, tokenText string) (*models.ScanEvent, error) {
	query := `
		SELECT id, token_text, lat, lng, accuracy_m, consent, source, user_agent, created_at
		FROM scan_events
		WHERE token_text = $1 AND consent AND lat IS NOT NULL AND lng IS NOT NULL
		ORDER BY created_at DESC
		LIMIT 1
	`
	var ev models.ScanEvent
	err := r.db.QueryRow(ctx, query, tokenText).Scan(
		&ev.ID, &ev.TokenText, &ev.Lat, &ev.Lng, &ev.AccuracyM, &ev.Consent, &ev.Source, &ev.UserAgent, &ev.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest scan: %w", err)
	}
	return &ev, nil
}
