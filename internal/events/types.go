// Package events defines the versioned payloads emitted after a successful
// sync-engine commit. Delivery is best-effort; nothing in the core reads
// these back.
package events

import "time"

type CaseAcceptedV1 struct {
	EventID    string    `json:"event_id"`
	CaseID     string    `json:"case_id"`
	CaseCode   string    `json:"case_code"`
	BookingID  string    `json:"booking_id,omitempty"`
	BundleCode string    `json:"bundle_code,omitempty"`
	ActorID    string    `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type CaseStatusChangedV1 struct {
	EventID    string    `json:"event_id"`
	CaseID     string    `json:"case_id"`
	CaseCode   string    `json:"case_code"`
	OldStatus  string    `json:"old_status"`
	NewStatus  string    `json:"new_status"`
	Reversal   bool      `json:"reversal"`
	Reason     string    `json:"reason,omitempty"`
	ActorID    string    `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type BookingCancelledV1 struct {
	EventID    string    `json:"event_id"`
	BookingID  string    `json:"booking_id"`
	ProviderID string    `json:"provider_id"`
	Date       string    `json:"date"`
	Slot       string    `json:"slot"`
	CaseID     string    `json:"case_id,omitempty"`
	Reason     string    `json:"reason"`
	ActorID    string    `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type BookingScheduledV1 struct {
	EventID    string    `json:"event_id"`
	BookingID  string    `json:"booking_id"`
	ProviderID string    `json:"provider_id"`
	Date       string    `json:"date"`
	Slot       string    `json:"slot"`
	CaseID     string    `json:"case_id,omitempty"`
	ActorID    string    `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
