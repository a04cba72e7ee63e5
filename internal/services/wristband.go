package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qrlabel-backend/internal/models"
	"qrlabel-backend/internal/repository"

	"github.com/google/uuid"
)

// ErrNoLocation is returned when a wristband has neither a consented scan
// fix nor an activation fix.
var ErrNoLocation = errors.New("no location recorded")

// WristbandStore is the persistence surface the wristband service needs
type WristbandStore interface {
	GetByToken(ctx context.Context, tokenText string) (*models.Wristband, error)
	GetByID(ctx context.Context, id string) (*models.Wristband, error)
	Claim(ctx context.Context, act models.Activation, now time.Time) (*models.Wristband, bool, error)
	ListActiveByOwner(ctx context.Context, ownerAppID string, now time.Time) ([]models.DashboardItem, error)
	SetPushEnabled(ctx context.Context, id, ownerAppID string, enabled bool) error
}

// ScanStore is the persistence surface for scan events
type ScanStore interface {
	Insert(ctx context.Context, ev *models.ScanEvent) error
	LatestConsented(ctx context.Context, tokenText string) (*models.ScanEvent, error)
}

// WristbandService handles wristband lifecycle business logic
type WristbandService struct {
	bands WristbandStore
	scans ScanStore
	now   func() time.Time
}

// NewWristbandService creates a new wristband service
func NewWristbandService(bands WristbandStore, scans ScanStore) *WristbandService {
	return &WristbandService{
		bands: bands,
		scans: scans,
		now:   time.Now,
	}
}

// StatusResult is the outcome of a status lookup
type StatusResult struct {
	Exists    bool
	Status    models.Status
	Wristband *models.Wristband
}

// Status resolves the current lifecycle state of a token without mutating
// it. A missing row reports as available; the distinction is kept in Exists
// for diagnostics only. Store failures are returned as errors and must not
// be conflated with available.
func (s *WristbandService) Status(ctx context.Context, tokenText string) (*StatusResult, error) {
	wb, err := s.bands.GetByToken(ctx, tokenText)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &StatusResult{Exists: false, Status: models.StatusAvailable}, nil
		}
		return nil, fmt.Errorf("status lookup failed: %w", err)
	}
	return &StatusResult{
		Exists:    true,
		Status:    wb.Status.Effective(wb.ExpiresAt, s.now()),
		Wristband: wb,
	}, nil
}

// ActivationResult is the outcome of an activation attempt. Conflict is
// empty on success; on a conflict Wristband holds the current record so the
// caller can render without a second lookup.
type ActivationResult struct {
	Wristband *models.Wristband
	Conflict  models.Conflict
}

// Activate performs the available -> active transition. The state check and
// the write happen in one conditional statement at the store, so two
// concurrent activators of the same token cannot both win: the loser
// re-reads and gets the conflict plus the winner's record.
func (s *WristbandService) Activate(ctx context.Context, act models.Activation) (*ActivationResult, error) {
	if act.TokenText == "" || act.OwnerAppID == "" {
		return nil, fmt.Errorf("missing token or app_id")
	}
	if act.Timezone == "" {
		act.Timezone = models.DefaultTimezone
	}
	act.NewID = uuid.New().String()

	wb, claimed, err := s.bands.Claim(ctx, act, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to activate wristband: %w", err)
	}
	if claimed {
		return &ActivationResult{Wristband: wb}, nil
	}

	// Lost the race or the row was already claimed. Re-read to report which.
	current, err := s.bands.GetByToken(ctx, act.TokenText)
	if err != nil {
		return nil, fmt.Errorf("failed to read wristband after claim: %w", err)
	}
	_, conflict := models.AttemptActivate(current.Status.Effective(current.ExpiresAt, s.now()))
	if conflict == models.ConflictNone {
		return nil, fmt.Errorf("claim rejected for available wristband %s", act.TokenText)
	}
	return &ActivationResult{Wristband: current, Conflict: conflict}, nil
}

// ListActive retrieves the owner's active wristbands for the dashboard
func (s *WristbandService) ListActive(ctx context.Context, ownerAppID string) ([]models.DashboardItem, error) {
	items, err := s.bands.ListActiveByOwner(ctx, ownerAppID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list wristbands: %w", err)
	}
	return items, nil
}

// LastSeen is the map reader's answer for a wristband
type LastSeen struct {
	Source    string    `json:"source"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	AccuracyM *float64  `json:"accuracy_m"`
	At        time.Time `json:"at"`
}

// LastSeen resolves the most recent known position of a wristband: the
// latest consented scan event, falling back to the activation fix. Owner
// scoped; a wristband belonging to someone else reads as not found.
func (s *WristbandService) LastSeen(ctx context.Context, id, ownerAppID string) (*LastSeen, error) {
	wb, err := s.bands.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wb.OwnerAppID == nil || *wb.OwnerAppID != ownerAppID {
		return nil, repository.ErrNotFound
	}

	ev, err := s.scans.LatestConsented(ctx, wb.TokenText)
	if err == nil {
		return &LastSeen{
			Source:    "scan",
			Lat:       *ev.Lat,
			Lng:       *ev.Lng,
			AccuracyM: ev.AccuracyM,
			At:        ev.CreatedAt,
		}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to get latest scan: %w", err)
	}

	if wb.ActivatedLat != nil && wb.ActivatedLng != nil && wb.ActivatedAt != nil {
		return &LastSeen{
			Source:    "activation",
			Lat:       *wb.ActivatedLat,
			Lng:       *wb.ActivatedLng,
			AccuracyM: wb.ActivatedAccuracyM,
			At:        *wb.ActivatedAt,
		}, nil
	}
	return nil, ErrNoLocation
}

// SetPushEnabled flips scan notifications for one of the owner's wristbands
func (s *WristbandService) SetPushEnabled(ctx context.Context, id, ownerAppID string, enabled bool) error {
	return s.bands.SetPushEnabled(ctx, id, ownerAppID, enabled)
}
