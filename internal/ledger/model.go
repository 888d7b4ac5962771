package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BundleStatus is the lifecycle state of a prepaid session bundle.
type BundleStatus string

const (
	BundleActive    BundleStatus = "active"
	BundleCompleted BundleStatus = "completed"
	BundleCancelled BundleStatus = "cancelled"
	BundleExpired   BundleStatus = "expired"
)

// Bundle is a prepaid pool of treatment sessions. used + remaining == total
// holds at all times; the counters move only through Ledger.Use and
// Ledger.Return.
type Bundle struct {
	ID                uuid.UUID    `json:"id"`
	Code              string       `json:"code"`
	TotalSessions     int          `json:"total_sessions"`
	UsedSessions      int          `json:"used_sessions"`
	RemainingSessions int          `json:"remaining_sessions"`
	Status            BundleStatus `json:"status"`
	ExpiresAt         *time.Time   `json:"expires_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Usable reports whether sessions may still be deducted from the bundle.
func (b *Bundle) Usable(now time.Time) bool {
	if b.Status == BundleCancelled || b.Status == BundleExpired {
		return false
	}
	if b.ExpiresAt != nil && b.ExpiresAt.Before(now) {
		return false
	}
	return true
}

// Action is the journal entry kind.
type Action string

const (
	ActionUse    Action = "use"
	ActionReturn Action = "return"
)

// JournalEntry is one append-only usage record. The existence of a Use entry
// for a (bundle, case) pair is the idempotency guard against double
// deduction; Return entries are counted against Use entries symmetrically.
type JournalEntry struct {
	ID        uuid.UUID  `json:"id"`
	BundleID  uuid.UUID  `json:"bundle_id"`
	CaseID    *uuid.UUID `json:"case_id,omitempty"`
	Action    Action     `json:"action"`
	Sessions  int        `json:"sessions"`
	ActorID   string     `json:"actor_id"`
	ActorRole string     `json:"actor_role"`
	Note      string     `json:"note,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewBundleCode derives the human-readable bundle code from the bundle id.
func NewBundleCode(id uuid.UUID) string {
	return "SB-" + id.String()[:8]
}

// InsufficientSessionsError signals a Use against a bundle with too few
// remaining sessions.
type InsufficientSessionsError struct {
	BundleCode string
	Remaining  int
	Requested  int
}

func (e *InsufficientSessionsError) Error() string {
	return fmt.Sprintf("ledger: bundle %s has %d sessions remaining, %d requested",
		e.BundleCode, e.Remaining, e.Requested)
}

// BundleStateError signals a Use against a bundle that is cancelled, expired
// or past its expiry date.
type BundleStateError struct {
	BundleCode string
	Status     BundleStatus
}

func (e *BundleStateError) Error() string {
	return fmt.Sprintf("ledger: bundle %s is %s and cannot be used", e.BundleCode, e.Status)
}
