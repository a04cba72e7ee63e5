package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qrlabel-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrNotActive is returned when a finder interaction targets a wristband
// that is not currently active.
var ErrNotActive = errors.New("wristband not active")

// ErrMissingLocation is returned when a consenting finder submits no fix.
// Consent without a fix is a client failure; no partial event is recorded.
var ErrMissingLocation = errors.New("missing location")

// ScanNotifier receives a scan event after it is persisted. Notification is
// best-effort: implementations log failures and never fail the insert.
type ScanNotifier interface {
	NotifyScan(ctx context.Context, wb *models.Wristband, ev *models.ScanEvent)
}

// ScanRecord is one finder interaction as submitted by the consent page
type ScanRecord struct {
	TokenText string
	Consent   bool
	Lat       *float64
	Lng       *float64
	AccuracyM *float64
	Source    string
	UserAgent *string
}

// ScanService records finder consent outcomes
type ScanService struct {
	scans     ScanStore
	bands     WristbandStore
	notifiers []ScanNotifier
	now       func() time.Time
}

// NewScanService creates a new scan service
func NewScanService(scans ScanStore, bands WristbandStore, notifiers ...ScanNotifier) *ScanService {
	return &ScanService{
		scans:     scans,
		bands:     bands,
		notifiers: notifiers,
		now:       time.Now,
	}
}

// Record verifies the wristband is effectively active and appends exactly
// one scan event. A decline never carries a location; a consent without a
// usable fix is rejected before anything is written. Multiple scans over
// time are expected and valid, so no uniqueness is enforced.
func (s *ScanService) Record(ctx context.Context, rec ScanRecord) (*models.ScanEvent, error) {
	wb, err := s.bands.GetByToken(ctx, rec.TokenText)
	if err != nil {
		return nil, err
	}
	if wb.Status.Effective(wb.ExpiresAt, s.now()) != models.StatusActive {
		return nil, ErrNotActive
	}

	if rec.Consent && (rec.Lat == nil || rec.Lng == nil) {
		return nil, ErrMissingLocation
	}
	if !rec.Consent {
		rec.Lat, rec.Lng, rec.AccuracyM = nil, nil, nil
	}

	ev := &models.ScanEvent{
		ID:        uuid.New().String(),
		TokenText: rec.TokenText,
		Lat:       rec.Lat,
		Lng:       rec.Lng,
		AccuracyM: rec.AccuracyM,
		Consent:   rec.Consent,
		Source:    rec.Source,
		UserAgent: rec.UserAgent,
		CreatedAt: s.now(),
	}
	if err := s.scans.Insert(ctx, ev); err != nil {
		return nil, fmt.Errorf("failed to record scan: %w", err)
	}

	log.Info().
		Str("token", rec.TokenText).
		Bool("consent", rec.Consent).
		Str("source", rec.Source).
		Msg("Scan recorded")

	for _, n := range s.notifiers {
		n.NotifyScan(ctx, wb, ev)
	}
	return ev, nil
}
