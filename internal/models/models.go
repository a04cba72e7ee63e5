package models

import "time"

// ActivationWindow is how long a wristband stays active after it is claimed.
// expires_at is set once at activation and never extended.
const ActivationWindow = 24 * time.Hour

// DefaultTimezone is used for local-time rendering when the activating app
// does not report one.
const DefaultTimezone = "Europe/Copenhagen"

// Status is the lifecycle state of a wristband. Transitions are monotonic:
// available -> active -> used, never backward.
type Status string

const (
	// StatusAvailable means the wristband was provisioned but never claimed.
	StatusAvailable Status = "available"
	// StatusActive means the wristband is bound to an owner and within its
	// validity window.
	StatusActive Status = "active"
	// StatusUsed means the validity window elapsed or the wristband was
	// retired.
	StatusUsed Status = "used"
)

// Conflict is the reason an activation attempt was rejected.
type Conflict string

const (
	ConflictNone          Conflict = ""
	ConflictAlreadyActive Conflict = "already_active"
	ConflictExpired       Conflict = "expired"
)

// Effective applies the validity window at read time: an active wristband
// whose expires_at has passed reports as used even if the row has not been
// swept yet. A stale row must never render as claimable or scannable.
func (s Status) Effective(expiresAt *time.Time, now time.Time) Status {
	if s == StatusActive && expiresAt != nil && expiresAt.Before(now) {
		return StatusUsed
	}
	return s
}

// AttemptActivate is the single transition function of the lifecycle. It
// returns the state an activation claim would move the wristband to, or the
// conflict that forbids it. Only available -> active is ever allowed.
func AttemptActivate(current Status) (Status, Conflict) {
	switch current {
	case StatusActive:
		return current, ConflictAlreadyActive
	case StatusUsed:
		return current, ConflictExpired
	default:
		return StatusActive, ConflictNone
	}
}

// Wristband represents one physical QR-coded wristband
type Wristband struct {
	ID                 string     `json:"id"`
	TokenText          string     `json:"token_text"`
	Status             Status     `json:"status"`
	OwnerAppID         *string    `json:"owner_app_id"`
	ChildName          *string    `json:"child_name"`
	ParentName         *string    `json:"parent_name"`
	Phone              *string    `json:"phone"`
	Timezone           string     `json:"timezone"`
	ActivatedAt        *time.Time `json:"activated_at"`
	ExpiresAt          *time.Time `json:"expires_at"`
	ActivatedDeviceID  *string    `json:"activated_device_id,omitempty"`
	ActivatedLat       *float64   `json:"activated_lat"`
	ActivatedLng       *float64   `json:"activated_lng"`
	ActivatedAccuracyM *float64   `json:"activated_accuracy_m"`
	PushEnabled        bool       `json:"push_enabled"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Activation carries everything an owner submits when claiming a wristband.
// NewID is the row id to use when the claim creates the row.
type Activation struct {
	NewID      string
	TokenText  string
	OwnerAppID string
	DeviceID   *string
	ChildName  *string
	ParentName *string
	Phone      *string
	Timezone   string
	Lat        *float64
	Lng        *float64
	AccuracyM  *float64
}

// ScanEvent is one finder interaction with an active wristband's consent
// page. Append-only; never mutated or deleted.
type ScanEvent struct {
	ID        string    `json:"id"`
	TokenText string    `json:"token_text"`
	Lat       *float64  `json:"lat"`
	Lng       *float64  `json:"lng"`
	AccuracyM *float64  `json:"accuracy_m"`
	Consent   bool      `json:"consent"`
	Source    string    `json:"source"`
	UserAgent *string   `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DashboardItem is a wristband row enriched with the latest consented scan
// timestamp for the owner's dashboard.
type DashboardItem struct {
	Wristband
	LastScanAt *time.Time `json:"last_scan_at"`
}
