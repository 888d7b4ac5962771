package referral

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a referral case.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known case status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Assessment holds the clinical-assessment fields required to accept a case
// referred between outside organizations.
type Assessment struct {
	Diagnosis     string `json:"diagnosis"`
	TreatmentPlan string `json:"treatment_plan"`
}

// Empty reports whether no assessment has been recorded.
func (a Assessment) Empty() bool {
	return strings.TrimSpace(a.Diagnosis) == "" && strings.TrimSpace(a.TreatmentPlan) == ""
}

// MissingFields lists unset assessment fields by their wire names.
func (a Assessment) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(a.Diagnosis) == "" {
		missing = append(missing, "assessment.diagnosis")
	}
	if strings.TrimSpace(a.TreatmentPlan) == "" {
		missing = append(missing, "assessment.treatment_plan")
	}
	return missing
}

// Merge overlays non-empty fields from in onto a.
func (a Assessment) Merge(in Assessment) Assessment {
	if strings.TrimSpace(in.Diagnosis) != "" {
		a.Diagnosis = in.Diagnosis
	}
	if strings.TrimSpace(in.TreatmentPlan) != "" {
		a.TreatmentPlan = in.TreatmentPlan
	}
	return a
}

// CompletionNote is the structured note required to complete a case. All four
// fields are mandatory free text.
type CompletionNote struct {
	Summary         string `json:"summary"`
	Outcome         string `json:"outcome"`
	Recommendations string `json:"recommendations"`
	FollowUp        string `json:"follow_up"`
}

// MissingFields lists unset completion fields by their wire names.
func (n CompletionNote) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(n.Summary) == "" {
		missing = append(missing, "completion.summary")
	}
	if strings.TrimSpace(n.Outcome) == "" {
		missing = append(missing, "completion.outcome")
	}
	if strings.TrimSpace(n.Recommendations) == "" {
		missing = append(missing, "completion.recommendations")
	}
	if strings.TrimSpace(n.FollowUp) == "" {
		missing = append(missing, "completion.follow_up")
	}
	return missing
}

// Case is a clinical referral tracked from intake through acceptance and
// completion. A case may link to the booking that originated it and to the
// session bundle that funds it.
type Case struct {
	ID                 uuid.UUID      `json:"id"`
	Code               string         `json:"code"`
	Status             Status         `json:"status"`
	SourceOrgID        uuid.UUID      `json:"source_org_id"`
	TargetOrgID        uuid.UUID      `json:"target_org_id"`
	BundleID           *uuid.UUID     `json:"bundle_id,omitempty"`
	BookingID          *uuid.UUID     `json:"booking_id,omitempty"`
	Assessment         Assessment     `json:"assessment"`
	Completion         CompletionNote `json:"completion"`
	AcceptedAt         *time.Time     `json:"accepted_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	CancelledAt        *time.Time     `json:"cancelled_at,omitempty"`
	CancellationReason string         `json:"cancellation_reason,omitempty"`
	Reversed           bool           `json:"reversed"`
	ReversalReason     string         `json:"reversal_reason,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// NewCode derives the human-readable case code from the case id.
func NewCode(id uuid.UUID) string {
	return "RC-" + strings.ToUpper(id.String()[:8])
}

// HistoryEntry is one row of the append-only status audit trail. It is never
// read back for control flow.
type HistoryEntry struct {
	ID        uuid.UUID `json:"id"`
	CaseID    uuid.UUID `json:"case_id"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	ActorID   string    `json:"actor_id"`
	ActorRole string    `json:"actor_role"`
	Reversal  bool      `json:"reversal"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
