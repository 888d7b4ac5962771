package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/rehabflow/clinic-platform/internal/scheduling"
)

// Status is the lifecycle state of a scheduled slot.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known booking status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Booking is a scheduled appointment slot for a provider. It may link to a
// referral case and a session bundle; those links drive the case and ledger
// side effects when the booking changes state.
type Booking struct {
	ID                 uuid.UUID            `json:"id"`
	ProviderID         uuid.UUID            `json:"provider_id"`
	ClinicID           uuid.UUID            `json:"clinic_id"`
	Date               string               `json:"date"` // YYYY-MM-DD
	Slot               scheduling.TimeRange `json:"slot"`
	Status             Status               `json:"status"`
	CaseID             *uuid.UUID           `json:"case_id,omitempty"`
	BundleID           *uuid.UUID           `json:"bundle_id,omitempty"`
	CancellationReason string               `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time           `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}
