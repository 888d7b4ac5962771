package referral

import (
	"strings"

	"github.com/google/uuid"

	"github.com/rehabflow/clinic-platform/internal/domain"
)

// LedgerAction is the session-ledger side effect a case transition requires.
// The ledger itself stays idempotent; the action only states intent.
type LedgerAction int

const (
	LedgerNone LedgerAction = iota
	LedgerUse
	LedgerReturn
)

// TransitionInput carries the request fields accompanying a status change.
type TransitionInput struct {
	Reason     string
	Assessment *Assessment
	Completion *CompletionNote
}

// Plan is the computed outcome of a requested case transition.
type Plan struct {
	From         Status
	To           Status
	NoOp         bool
	Reversal     bool
	LedgerAction LedgerAction
	// ClearAssessment / ClearCompletion undo the forward transition's
	// clinical artifacts on reversal.
	ClearAssessment bool
	ClearCompletion bool
	Reason          string
}

// Machine owns the referral-case transition table. inHouseOrgID identifies
// the designated in-house organization: referrals where either side is
// in-house skip the assessment requirement on acceptance.
type Machine struct {
	inHouseOrgID uuid.UUID
}

// NewMachine creates the case state machine.
func NewMachine(inHouseOrgID uuid.UUID) *Machine {
	return &Machine{inHouseOrgID: inHouseOrgID}
}

// PlanTransition computes the plan for moving a case from its current status
// to requested. Role gates are enforced by the coordinator; this is pure
// state logic over the transition table:
//
//	pending   -> accepted             assessment required for outside orgs;
//	                                  Use the bundle iff a booking is linked
//	accepted  -> pending  (reversal)  clears assessment; Return iff booking linked
//	accepted  -> completed            completion note required; no ledger action
//	completed -> accepted (reversal)  clears completion; no ledger action
//	pending|accepted -> cancelled     reason required; Return iff the case was
//	                                  Accepted with a booking linked
//
// Cancelled and Completed are terminal (Completed only leaves via reversal).
// Requesting the current status is a no-op except for cancelled.
func (m *Machine) PlanTransition(c *Case, requested Status, in TransitionInput) (Plan, error) {
	if !requested.Valid() {
		return Plan{}, invalid(c.Status, requested)
	}

	if c.Status == requested {
		if c.Status == StatusCancelled {
			return Plan{}, invalid(c.Status, requested)
		}
		return Plan{From: c.Status, To: requested, NoOp: true}, nil
	}

	switch c.Status {
	case StatusPending:
		if requested == StatusAccepted {
			return m.planAccept(c, in)
		}
		if requested == StatusCancelled {
			return planCancel(c, in)
		}
	case StatusAccepted:
		switch requested {
		case StatusPending:
			return planRevertToPending(c, in)
		case StatusCompleted:
			return planComplete(c, in)
		case StatusCancelled:
			return planCancel(c, in)
		}
	case StatusCompleted:
		if requested == StatusAccepted {
			return planReopen(c, in)
		}
	case StatusCancelled:
		// terminal
	}
	return Plan{}, invalid(c.Status, requested)
}

func (m *Machine) planAccept(c *Case, in TransitionInput) (Plan, error) {
	if !m.isInHouse(c) {
		assessment := c.Assessment
		if in.Assessment != nil {
			assessment = assessment.Merge(*in.Assessment)
		}
		if missing := assessment.MissingFields(); len(missing) > 0 {
			return Plan{}, &domain.ValidationError{Missing: missing}
		}
	}
	plan := Plan{From: c.Status, To: StatusAccepted}
	// Sessions are pre-authorized only through a booking. Cases created from
	// the dashboard never deduct, even with a bundle attached.
	if c.BookingID != nil && c.BundleID != nil {
		plan.LedgerAction = LedgerUse
	}
	return plan, nil
}

func planRevertToPending(c *Case, in TransitionInput) (Plan, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return Plan{}, &domain.ValidationError{Missing: []string{"reason"}}
	}
	plan := Plan{
		From:            c.Status,
		To:              StatusPending,
		Reversal:        true,
		ClearAssessment: true,
		Reason:          in.Reason,
	}
	if c.BookingID != nil && c.BundleID != nil {
		plan.LedgerAction = LedgerReturn
	}
	return plan, nil
}

func planComplete(c *Case, in TransitionInput) (Plan, error) {
	note := c.Completion
	if in.Completion != nil {
		note = *in.Completion
	}
	if missing := note.MissingFields(); len(missing) > 0 {
		return Plan{}, &domain.ValidationError{Missing: missing}
	}
	// The deduction happened at accept time; completing is ledger-neutral.
	return Plan{From: c.Status, To: StatusCompleted}, nil
}

func planReopen(c *Case, in TransitionInput) (Plan, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return Plan{}, &domain.ValidationError{Missing: []string{"reason"}}
	}
	return Plan{
		From:            c.Status,
		To:              StatusAccepted,
		Reversal:        true,
		ClearCompletion: true,
		Reason:          in.Reason,
	}, nil
}

func planCancel(c *Case, in TransitionInput) (Plan, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return Plan{}, &domain.ValidationError{Missing: []string{"reason"}}
	}
	plan := Plan{From: c.Status, To: StatusCancelled, Reason: in.Reason}
	// Only the booking-originated accept path ever deducted a session, so
	// only that path returns one.
	if c.Status == StatusAccepted && c.BookingID != nil && c.BundleID != nil {
		plan.LedgerAction = LedgerReturn
	}
	return plan, nil
}

func (m *Machine) isInHouse(c *Case) bool {
	return c.SourceOrgID == m.inHouseOrgID || c.TargetOrgID == m.inHouseOrgID
}

func invalid(current, requested Status) error {
	return &domain.InvalidTransitionError{
		Entity:    "case",
		Current:   string(current),
		Requested: string(requested),
	}
}
