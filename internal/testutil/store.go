// Package testutil provides in-memory store implementations for tests. The
// memory store mirrors the single-statement claim semantics of the SQL
// layer: the state check and the write happen under one lock.
package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"qrlabel-backend/internal/models"
	"qrlabel-backend/internal/repository"
)

// MemStore is an in-memory wristband/scan/push-token store
type MemStore struct {
	mu         sync.Mutex
	byToken    map[string]*models.Wristband
	scans      []*models.ScanEvent
	pushTokens map[string]string

	// FailReads simulates an unreachable store for read operations
	FailReads bool
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		byToken:    make(map[string]*models.Wristband),
		pushTokens: make(map[string]string),
	}
}

// Seed inserts a wristband row directly
func (s *MemStore) Seed(wb *models.Wristband) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *wb
	s.byToken[wb.TokenText] = &cp
}

// SeedScan appends a scan event directly
func (s *MemStore) SeedScan(ev *models.ScanEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.scans = append(s.scans, &cp)
}

// GetByToken retrieves a wristband by token text
func (s *MemStore) GetByToken(_ context.Context, tokenText string) (*models.Wristband, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads {
		return nil, errors.New("store unreachable")
	}
	wb, ok := s.byToken[tokenText]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *wb
	return &cp, nil
}

// GetByID retrieves a wristband by id
func (s *MemStore) GetByID(_ context.Context, id string) (*models.Wristband, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads {
		return nil, errors.New("store unreachable")
	}
	for _, wb := range s.byToken {
		if wb.ID == id {
			cp := *wb
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

// Claim performs the conditional available -> active transition atomically
func (s *MemStore) Claim(_ context.Context, act models.Activation, now time.Time) (*models.Wristband, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires := now.Add(models.ActivationWindow)
	existing, ok := s.byToken[act.TokenText]
	if ok && existing.Status != models.StatusAvailable {
		return nil, false, nil
	}

	wb := &models.Wristband{
		ID:                 act.NewID,
		TokenText:          act.TokenText,
		Status:             models.StatusActive,
		OwnerAppID:         &act.OwnerAppID,
		ChildName:          act.ChildName,
		ParentName:         act.ParentName,
		Phone:              act.Phone,
		Timezone:           act.Timezone,
		ActivatedAt:        &now,
		ExpiresAt:          &expires,
		ActivatedDeviceID:  act.DeviceID,
		ActivatedLat:       act.Lat,
		ActivatedLng:       act.Lng,
		ActivatedAccuracyM: act.AccuracyM,
		PushEnabled:        true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if ok {
		wb.ID = existing.ID
		wb.CreatedAt = existing.CreatedAt
		wb.PushEnabled = existing.PushEnabled
	}
	s.byToken[act.TokenText] = wb

	cp := *wb
	return &cp, true, nil
}

// ListActiveByOwner retrieves the owner's active wristbands
func (s *MemStore) ListActiveByOwner(_ context.Context, ownerAppID string, now time.Time) ([]models.DashboardItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads {
		return nil, errors.New("store unreachable")
	}

	var items []models.DashboardItem
	for _, wb := range s.byToken {
		if wb.OwnerAppID == nil || *wb.OwnerAppID != ownerAppID {
			continue
		}
		if wb.Status != models.StatusActive || wb.ExpiresAt == nil || !wb.ExpiresAt.After(now) {
			continue
		}
		item := models.DashboardItem{Wristband: *wb}
		for _, ev := range s.scans {
			if ev.TokenText == wb.TokenText && ev.Consent {
				if item.LastScanAt == nil || ev.CreatedAt.After(*item.LastScanAt) {
					at := ev.CreatedAt
					item.LastScanAt = &at
				}
			}
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items, nil
}

// SetPushEnabled flips the push flag, owner-scoped
func (s *MemStore) SetPushEnabled(_ context.Context, id, ownerAppID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, wb := range s.byToken {
		if wb.ID == id && wb.OwnerAppID != nil && *wb.OwnerAppID == ownerAppID {
			wb.PushEnabled = enabled
			return nil
		}
	}
	return repository.ErrNotFound
}

// CreateAvailable inserts a provisioned wristband
func (s *MemStore) CreateAvailable(_ context.Context, wb *models.Wristband) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byToken[wb.TokenText]; ok {
		return errors.New("duplicate token")
	}
	cp := *wb
	s.byToken[wb.TokenText] = &cp
	return nil
}

// TokenExists checks if a token is assigned
func (s *MemStore) TokenExists(_ context.Context, tokenText string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byToken[tokenText]
	return ok, nil
}

// Insert appends a scan event
func (s *MemStore) Insert(_ context.Context, ev *models.ScanEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.scans = append(s.scans, &cp)
	return nil
}

// LatestConsented retrieves the latest consented scan with a fix
func (s *MemStore) LatestConsented(_ context.Context, tokenText string) (*models.ScanEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.ScanEvent
	for _, ev := range s.scans {
		if ev.TokenText != tokenText || !ev.Consent || ev.Lat == nil || ev.Lng == nil {
			continue
		}
		if latest == nil || ev.CreatedAt.After(latest.CreatedAt) {
			latest = ev
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

// Upsert stores a push token
func (s *MemStore) Upsert(_ context.Context, appID, deviceToken string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushTokens[appID] = deviceToken
	return nil
}

// GetByAppID retrieves a push token
func (s *MemStore) GetByAppID(_ context.Context, appID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dt, ok := s.pushTokens[appID]
	if !ok {
		return "", repository.ErrNotFound
	}
	return dt, nil
}

// Scans returns a copy of all recorded scan events
func (s *MemStore) Scans() []models.ScanEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScanEvent, 0, len(s.scans))
	for _, ev := range s.scans {
		out = append(out, *ev)
	}
	return out
}
