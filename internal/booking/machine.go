package booking

import (
	"github.com/rehabflow/clinic-platform/internal/domain"
)

// CaseDrive names the transition the linked referral case must make when the
// booking changes state. The coordinator translates it into a case-machine
// call; the booking machine never touches the case directly.
type CaseDrive int

const (
	CaseDriveNone CaseDrive = iota
	CaseDriveAccept
	CaseDriveRevert
	CaseDriveCancel
)

// Plan is the computed outcome of a requested booking transition.
type Plan struct {
	From      Status
	To        Status
	NoOp      bool
	Reversal  bool
	CaseDrive CaseDrive
	// RequiresReason is set for cancellations; the coordinator validates
	// the reason before applying the plan.
	RequiresReason bool
}

// PlanTransition computes the plan for moving a booking from current to
// requested. Role checks are the coordinator's job; this is pure state logic.
//
//	scheduled -> completed            drive linked case toward Accepted
//	completed -> scheduled (reversal) drive linked case back to Pending
//	scheduled|completed -> cancelled  drive linked case to Cancelled
//
// Requesting the current status is a no-op, except for cancelled which is
// terminal.
func PlanTransition(current, requested Status) (Plan, error) {
	if !requested.Valid() {
		return Plan{}, &domain.InvalidTransitionError{
			Entity:    "booking",
			Current:   string(current),
			Requested: string(requested),
		}
	}

	if current == requested {
		if current == StatusCancelled {
			return Plan{}, invalid(current, requested)
		}
		return Plan{From: current, To: requested, NoOp: true}, nil
	}

	switch current {
	case StatusScheduled:
		switch requested {
		case StatusCompleted:
			return Plan{From: current, To: requested, CaseDrive: CaseDriveAccept}, nil
		case StatusCancelled:
			return Plan{From: current, To: requested, CaseDrive: CaseDriveCancel, RequiresReason: true}, nil
		}
	case StatusCompleted:
		switch requested {
		case StatusScheduled:
			return Plan{From: current, To: requested, Reversal: true, CaseDrive: CaseDriveRevert}, nil
		case StatusCancelled:
			return Plan{From: current, To: requested, CaseDrive: CaseDriveCancel, RequiresReason: true}, nil
		}
	case StatusCancelled:
		// terminal
	}
	return Plan{}, invalid(current, requested)
}

func invalid(current, requested Status) error {
	return &domain.InvalidTransitionError{
		Entity:    "booking",
		Current:   string(current),
		Requested: string(requested),
	}
}
