package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"qrlabel-backend/internal/models"
	"qrlabel-backend/internal/repository"
	"qrlabel-backend/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(store *testutil.MemStore, now time.Time) *WristbandService {
	svc := NewWristbandService(store, store)
	svc.now = func() time.Time { return now }
	return svc
}

func strp(s string) *string { return &s }

func floatp(f float64) *float64 { return &f }

func TestActivateSetsExpiryWindow(t *testing.T) {
	store := testutil.NewMemStore()
	store.Seed(&models.Wristband{ID: "wb-1", TokenText: "XJ4Q9", Status: models.StatusAvailable})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(store, now)

	result, err := svc.Activate(context.Background(), models.Activation{
		TokenText:  "XJ4Q9",
		OwnerAppID: "A1",
		ChildName:  strp("Mira"),
		Timezone:   "Europe/Istanbul",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ConflictNone, result.Conflict)

	wb := result.Wristband
	assert.Equal(t, models.StatusActive, wb.Status)
	assert.Equal(t, "A1", *wb.OwnerAppID)
	require.NotNil(t, wb.ActivatedAt)
	require.NotNil(t, wb.ExpiresAt)
	assert.Equal(t, now, *wb.ActivatedAt)
	// Exactly 24 hours, regardless of the supplied timezone.
	assert.Equal(t, now.Add(24*time.Hour), *wb.ExpiresAt)
	assert.Equal(t, "Europe/Istanbul", wb.Timezone)
}

func TestActivateDefaultsTimezone(t *testing.T) {
	store := testutil.NewMemStore()
	store.Seed(&models.Wristband{ID: "wb-1", TokenText: "XJ4Q9", Status: models.StatusAvailable})
	svc := newTestService(store, time.Now())

	result, err := svc.Activate(context.Background(), models.Activation{TokenText: "XJ4Q9", OwnerAppID: "A1"})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTimezone, result.Wristband.Timezone)
}

func TestActivateMissingRowCreatesIt(t *testing.T) {
	store := testutil.NewMemStore()
	svc := newTestService(store, time.Now())

	result, err := svc.Activate(context.Background(), models.Activation{TokenText: "NEW123", OwnerAppID: "A1"})
	require.NoError(t, err)
	assert.Equal(t, models.ConflictNone, result.Conflict)
	assert.Equal(t, models.StatusActive, result.Wristband.Status)
}

func TestActivateAlreadyActiveReturnsRecord(t *testing.T) {
	store := testutil.NewMemStore()
	store.Seed(&models.Wristband{ID: "wb-1", TokenText: "XJ4Q9", Status: models.StatusAvailable})

	now := time.Now()
	svc := newTestService(store, now)

	first, err := svc.Activate(context.Background(), models.Activation{
		TokenText: "XJ4Q9", OwnerAppID: "A1", ChildName: strp("Mira"),
	})
	require.NoError(t, err)
	require.Equal(t, models.ConflictNone, first.Conflict)

	second, err := svc.Activate(context.Background(), models.Activation{TokenText: "XJ4Q9", OwnerAppID: "A2"})
	require.NoError(t, err)
	assert.Equal(t, models.ConflictAlreadyActive, second.Conflict)
	// The loser gets the winner's record without a second round trip.
	assert.Equal(t, "A1", *second.Wristband.OwnerAppID)
	assert.Equal(t, "Mira", *second.Wristband.ChildName)
}

func TestActivateExpiredWristband(t *testing.T) {
	store := testutil.NewMemStore()
	now := time.Now()
	expired := now.Add(-time.Hour)
	activated := now.Add(-25 * time.Hour)
	store.Seed(&models.Wristband{
		ID: "wb-1", TokenText: "XJ4Q9", Status: models.StatusActive,
		OwnerAppID: strp("A1"), ActivatedAt: &activated, ExpiresAt: &expired,
	})
	svc := newTestService(store, now)

	result, err := svc.Activate(context.Background(), models.Activation{TokenText: "XJ4Q9", OwnerAppID: "A2"})
	require.NoError(t, err)
	assert.Equal(t, models.ConflictExpired, result.Conflict)
	assert.Equal(t, "A1", *result.Wristband.OwnerAppID, "expiry never un-claims a token")
}

func TestActivateUsedWristband(t *testing.T) {
	store := testutil.NewMemStore()
	now := time.Now()
	activated := now.Add(-48 * time.Hour)
	expired := now.Add(-24 * time.Hour)
	store.Seed(&models.Wristband{
		ID: "wb-1", TokenText: "XJ4Q9", Status: models.StatusUsed,
		OwnerAppID: strp("A1"), ActivatedAt: &activated, ExpiresAt: &expired,
	})
	svc := newTestService(store, now)

	result, err := svc.Activate(context.Background(), models.Activation{TokenText: "XJ4Q9", OwnerAppID: "A2"})
	require.NoError(t, err)
	assert.Equal(t, models.ConflictExpired, result.Conflict)
}

func TestActivateRequiresOwner(t *testing.T) {
	svc := newTestService(testutil.NewMemStore(), time.Now())

	_, err := svc.Activate(context.Background(), models.Activation{TokenText: "XJ4Q9"})
	assert.Error(t, err)
}

// TestConcurrentActivation verifies the single-claim invariant: of N
// concurrent activators with distinct owner ids, exactly one wins and the
// persisted owner is the winner's.
func TestConcurrentActivation(t *testing.T) {
	store := testutil.NewMemStore()
	store.Seed(&models.Wristband{ID: "wb-1", TokenText: "XJ4Q9", Status: models.StatusAvailable})
	svc := newTestService(store, time.Now())

	numClaimants := 16
	var wins, conflicts atomic.Int32
	var winnerOwner atomic.Value
	var wg sync.WaitGroup

	for i := 0; i < numClaimants; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			owner := string(rune('A' + idx))
			result, err := svc.Activate(context.Background(), models.Activation{
				TokenText: "XJ4Q9", OwnerAppID: owner,
			})
			if err != nil {
				return
			}
			if result.Conflict == models.ConflictNone {
				wins.Add(1)
				winnerOwner.Store(owner)
			} else if result.Conflict == models.ConflictAlreadyActive {
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one claim must succeed")
	assert.Equal(t, int32(numClaimants-1), conflicts.Load())

	wb, err := store.GetByToken(context.Background(), "XJ4Q9")
	require.NoError(t, err)
	assert.Equal(t, winnerOwner.Load().(string), *wb.OwnerAppID)
}

func TestStatusIdempotentReread(t *testing.T) {
	store := testutil.NewMemStore()
	now := time.Now()
	expires := now.Add(time.Hour)
	store.Seed(&models.Wristband{
		ID: "wb-1", TokenText: "XJ4Q9", Status: models.StatusActive,
		OwnerAppID: strp("A1"), ActivatedAt: &now, ExpiresAt: &expires,
	})
	svc := newTestService(store, now)

	first, err := svc.Status(context.Background(), "XJ4Q9")
	require.NoError(t, err)
	second, err := svc.Status(context.Background(), "XJ4Q9")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, models.StatusActive, first.Status)
}

func TestStatusMissingRowReportsAvailable(t *testing.T) {
	svc := newTestService(testutil.NewMemStore(), time.Now())

	result, err := svc.Status(context.Background(), "NOSUCH")
	require.NoError(t, err)
	assert.False(t, result.Exists)
	assert.Equal(t, models.StatusAvailable, result.Status)
	assert.Nil(t, result.Wristband)
}

func TestStatusLazyExpiry(t *testing.T) {
	store := testutil.NewMemStore()
	now := time.Now()
	activated := now.Add(-25 * time.Hour)
	expired := now.Add(-time.Hour)
	store.Seed(&models.Wristband{
		ID: "wb-1", TokenText: "XJ4Q9", Status: models.StatusActive,
		OwnerAppID: strp("A1"), ActivatedAt: &activated, ExpiresAt: &expired,
	})
	svc := newTestService(store, now)

	result, err := svc.Status(context.Background(), "XJ4Q9")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUsed, result.Status, "overdue active row reads as used")
	// The stored row itself is untouched by the read.
	wb, err := store.GetByToken(context.Background(), "XJ4Q9")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, wb.Status)
}

func TestStatusStoreFailureIsNotAvailable(t *testing.T) {
	store := testutil.NewMemStore()
	store.FailReads = true
	svc := newTestService(store, time.Now())

	result, err := svc.Status(context.Background(), "XJ4Q9")
	assert.Error(t, err)
	assert.Nil(t, result)
}

func TestLastSeenPrefersConsentedScan(t *testing.T) {
	store := testutil.NewMemStore()
	now := time.Now()
	activated := now.Add(-2 * time.Hour)
	expires := now.Add(22 * time.Hour)
	store.Seed(&models.Wristband{
		ID: "wb-1", TokenText: "XJ4Q9", Status: models.StatusActive,
		OwnerAppID: strp("A1"), ActivatedAt: &activated, ExpiresAt: &expires,
		ActivatedLat: floatp(55.67), ActivatedLng: floatp(12.56),
	})
	store.SeedScan(&models.ScanEvent{
		ID: "scan-1", TokenText: "XJ4Q9", Consent: true,
		Lat: floatp(55.70), Lng: floatp(12.59), CreatedAt: now.Add(-time.Hour),
	})
	svc := newTestService(store, now)

	seen, err := svc.LastSeen(context.Background(), "wb-1", "A1")
	require.NoError(t, err)
	assert.Equal(t, "scan", seen.Source)
	assert.Equal(t, 55.70, seen.Lat)
	assert.Equal(t, 12.59, seen.Lng)
}

func TestLastSeenFallsBackToActivation(t *testing.T) {
	store := testutil.NewMemStore()
	now := time.Now()
	activated := now.Add(-2 * time.Hour)
	expires := now.Add(22 * time.Hour)
	store.Seed(&models.Wristband{
		ID: "wb-1", TokenText: "XJ4Q9", Status: models.StatusActive,
		OwnerAppID: strp("A1"), ActivatedAt: &activated, ExpiresAt: &expires,
		ActivatedLat: floatp(55.67), ActivatedLng: floatp(12.56),
	})
	// A declined scan carries no location and must not win.
	store.SeedScan(&models.ScanEvent{
		ID: "scan-1", TokenText: "XJ4Q9", Consent: false, CreatedAt: now.Add(-time.Hour),
	})
	svc := newTestService(store, now)

	seen, err := svc.LastSeen(context.Background(), "wb-1", "A1")
	require.NoError(t, err)
	assert.Equal(t, "activation", seen.Source)
	assert.Equal(t, 55.67, seen.Lat)
	assert.Equal(t, activated, seen.At)
}

func TestLastSeenNoLocation(t *testing.T) {
	store := testutil.NewMemStore()
	now := time.Now()
	expires := now.Add(22 * time.Hour)
	store.Seed(&models.Wristband{
		ID: "wb-1", TokenText: "XJ4Q9", Status: models.StatusActive,
		OwnerAppID: strp("A1"), ActivatedAt: &now, ExpiresAt: &expires,
	})
	svc := newTestService(store, now)

	_, err := svc.LastSeen(context.Background(), "wb-1", "A1")
	assert.ErrorIs(t, err, ErrNoLocation)
}

func TestLastSeenOwnerScoped(t *testing.T) {
	store := testutil.NewMemStore()
	now := time.Now()
	expires := now.Add(22 * time.Hour)
	store.Seed(&models.Wristband{
		ID: "wb-1", TokenText: "XJ4Q9", Status: models.StatusActive,
		OwnerAppID: strp("A1"), ActivatedAt: &now, ExpiresAt: &expires,
		ActivatedLat: floatp(55.67), ActivatedLng: floatp(12.56),
	})
	svc := newTestService(store, now)

	_, err := svc.LastSeen(context.Background(), "wb-1", "someone-else")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestListActiveExcludesOverdue(t *testing.T) {
	store := testutil.NewMemStore()
	now := time.Now()
	fresh := now.Add(20 * time.Hour)
	stale := now.Add(-time.Hour)
	act := now.Add(-4 * time.Hour)
	store.Seed(&models.Wristband{
		ID: "wb-1", TokenText: "AAAA11", Status: models.StatusActive,
		OwnerAppID: strp("A1"), ActivatedAt: &act, ExpiresAt: &fresh, UpdatedAt: now,
	})
	store.Seed(&models.Wristband{
		ID: "wb-2", TokenText: "BBBB22", Status: models.StatusActive,
		OwnerAppID: strp("A1"), ActivatedAt: &act, ExpiresAt: &stale, UpdatedAt: now,
	})
	svc := newTestService(store, now)

	items, err := svc.ListActive(context.Background(), "A1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "wb-1", items[0].ID)
}
