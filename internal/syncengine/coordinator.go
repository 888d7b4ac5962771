// Package syncengine keeps bookings, referral cases and session bundles
// mutually consistent. Every trigger runs as one pgx transaction: overlap
// check, state machine planning, ledger action and history append commit or
// fail together. Side effects (email, metrics, ring buffer) happen only
// after a successful commit.
package syncengine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rehabflow/clinic-platform/internal/booking"
	"github.com/rehabflow/clinic-platform/internal/domain"
	"github.com/rehabflow/clinic-platform/internal/events"
	"github.com/rehabflow/clinic-platform/internal/identity"
	"github.com/rehabflow/clinic-platform/internal/ledger"
	"github.com/rehabflow/clinic-platform/internal/notify"
	"github.com/rehabflow/clinic-platform/internal/observability/metrics"
	"github.com/rehabflow/clinic-platform/internal/referral"
	"github.com/rehabflow/clinic-platform/internal/scheduling"
	"github.com/rehabflow/clinic-platform/pkg/logging"
)

var tracer trace.Tracer = otel.Tracer("rehabflow.internal.syncengine")

// db is satisfied by *pgxpool.Pool and pgxmock pools.
type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Coordinator is the single entry point for every cross-entity status
// transition.
type Coordinator struct {
	db       db
	bookings *booking.Repository
	cases    *referral.Repository
	ledger   *ledger.Ledger
	checker  *scheduling.OverlapChecker
	machine  *referral.Machine
	notifier *notify.Service
	recent   *RecentLog
	metrics  *metrics.SyncMetrics
	logger   *logging.Logger
	now      func() time.Time
}

// Config wires the coordinator's collaborators.
type Config struct {
	DB       db
	Bookings *booking.Repository
	Cases    *referral.Repository
	Ledger   *ledger.Ledger
	Checker  *scheduling.OverlapChecker
	Machine  *referral.Machine
	Notifier *notify.Service
	Recent   *RecentLog
	Metrics  *metrics.SyncMetrics
	Logger   *logging.Logger
}

// NewCoordinator creates the coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.DB == nil || cfg.Bookings == nil || cfg.Cases == nil || cfg.Ledger == nil {
		panic("syncengine: db, bookings, cases and ledger are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	checker := cfg.Checker
	if checker == nil {
		checker = scheduling.NewOverlapChecker(logger)
	}
	machine := cfg.Machine
	if machine == nil {
		machine = referral.NewMachine(uuid.Nil)
	}
	recent := cfg.Recent
	if recent == nil {
		recent = NewRecentLog(256)
	}
	return &Coordinator{
		db:       cfg.DB,
		bookings: cfg.Bookings,
		cases:    cfg.Cases,
		ledger:   cfg.Ledger,
		checker:  checker,
		machine:  machine,
		notifier: cfg.Notifier,
		recent:   recent,
		metrics:  cfg.Metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Recent exposes the ring of recent transitions for the ops surface.
func (c *Coordinator) Recent() *RecentLog { return c.recent }

// OpenCaseInput asks CreateBooking to open a referral case alongside the
// slot.
type OpenCaseInput struct {
	SourceOrgID uuid.UUID
	TargetOrgID uuid.UUID
	Assessment  *referral.Assessment
}

// CreateBookingInput is a scheduling request.
type CreateBookingInput struct {
	ProviderID uuid.UUID
	ClinicID   uuid.UUID
	Date       string
	Slot       scheduling.TimeRange
	BundleID   *uuid.UUID
	CaseID     *uuid.UUID // link an existing unlinked case
	OpenCase   *OpenCaseInput
}

// CreateBooking schedules a slot after the overlap check passes, optionally
// opening or linking a referral case in the same transaction.
func (c *Coordinator) CreateBooking(ctx context.Context, in CreateBookingInput, actor identity.Actor) (*booking.Booking, *referral.Case, error) {
	ctx, span := tracer.Start(ctx, "syncengine.CreateBooking")
	defer span.End()
	defer c.observeLatency("create_booking", c.now())

	if err := requireTransition(actor); err != nil {
		return nil, nil, err
	}
	if err := scheduling.ValidateDate(in.Date); err != nil {
		return nil, nil, err
	}
	if err := in.Slot.Validate(); err != nil {
		return nil, nil, err
	}
	if in.CaseID != nil && in.OpenCase != nil {
		return nil, nil, errors.New("syncengine: link an existing case or open a new one, not both")
	}

	tx, err := c.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	if err := c.checker.HasConflict(ctx, tx, in.ProviderID, in.Date, in.Slot, uuid.Nil); err != nil {
		var conflict *scheduling.ConflictError
		if errors.As(err, &conflict) {
			c.metrics.ObserveConflict()
		}
		return nil, nil, err
	}

	b := &booking.Booking{
		ID:         uuid.New(),
		ProviderID: in.ProviderID,
		ClinicID:   in.ClinicID,
		Date:       in.Date,
		Slot:       in.Slot,
		Status:     booking.StatusScheduled,
		BundleID:   in.BundleID,
		CaseID:     in.CaseID,
	}

	var cs *referral.Case
	if in.OpenCase != nil {
		caseID := uuid.New()
		b.CaseID = &caseID
		cs = &referral.Case{
			ID:          caseID,
			Code:        referral.NewCode(caseID),
			Status:      referral.StatusPending,
			SourceOrgID: in.OpenCase.SourceOrgID,
			TargetOrgID: in.OpenCase.TargetOrgID,
			BundleID:    in.BundleID,
			BookingID:   &b.ID,
		}
		if in.OpenCase.Assessment != nil {
			cs.Assessment = *in.OpenCase.Assessment
		}
	}

	if err := c.bookings.Create(ctx, tx, b); err != nil {
		// A concurrent create can slip past the predicate read; the
		// bookings_no_overlap constraint catches it at insert time.
		if errors.Is(err, booking.ErrSlotTaken) {
			c.metrics.ObserveConflict()
			return nil, nil, &scheduling.ConflictError{
				ProviderID: b.ProviderID,
				Date:       b.Date,
				Requested:  b.Slot,
			}
		}
		return nil, nil, err
	}
	if cs != nil {
		if err := c.cases.Create(ctx, tx, cs); err != nil {
			return nil, nil, err
		}
	}
	if in.CaseID != nil {
		if err := c.cases.LinkBooking(ctx, tx, *in.CaseID, b.ID); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	c.metrics.ObserveTransition("booking", "", string(booking.StatusScheduled), "ok")
	c.recent.Append(TransitionEvent{
		Time:     c.now().UTC(),
		Trigger:  "create_booking",
		Entity:   "booking",
		EntityID: b.ID.String(),
		To:       string(booking.StatusScheduled),
		ActorID:  actor.ID,
	})
	c.logger.Info("booking created",
		"booking_id", b.ID,
		"provider_id", b.ProviderID,
		"date", b.Date,
		"slot", b.Slot.String(),
	)
	span.SetAttributes(attribute.String("booking_id", b.ID.String()))

	if c.notifier != nil {
		nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		evt := events.BookingScheduledV1{
			EventID:    uuid.NewString(),
			BookingID:  b.ID.String(),
			ProviderID: b.ProviderID.String(),
			Date:       b.Date,
			Slot:       b.Slot.String(),
			ActorID:    actor.ID,
			OccurredAt: c.now().UTC(),
		}
		if b.CaseID != nil {
			evt.CaseID = b.CaseID.String()
		}
		if err := c.notifier.NotifyBookingScheduled(nctx, evt); err != nil {
			c.logger.Error("booking notification failed", "error", err, "booking_id", b.ID)
		}
	}
	return b, cs, nil
}

// CreateCaseInput opens a standalone referral case with no booking. Such
// cases never deduct sessions, even with a bundle attached.
type CreateCaseInput struct {
	SourceOrgID uuid.UUID
	TargetOrgID uuid.UUID
	BundleID    *uuid.UUID
	Assessment  *referral.Assessment
}

// CreateCase opens a standalone pending case.
func (c *Coordinator) CreateCase(ctx context.Context, in CreateCaseInput, actor identity.Actor) (*referral.Case, error) {
	ctx, span := tracer.Start(ctx, "syncengine.CreateCase")
	defer span.End()

	if err := requireTransition(actor); err != nil {
		return nil, err
	}

	tx, err := c.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	id := uuid.New()
	cs := &referral.Case{
		ID:          id,
		Code:        referral.NewCode(id),
		Status:      referral.StatusPending,
		SourceOrgID: in.SourceOrgID,
		TargetOrgID: in.TargetOrgID,
		BundleID:    in.BundleID,
	}
	if in.Assessment != nil {
		cs.Assessment = *in.Assessment
	}
	if err := c.cases.Create(ctx, tx, cs); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	c.logger.Info("case created", "case_id", cs.ID, "code", cs.Code)
	span.SetAttributes(attribute.String("case_id", cs.ID.String()))
	return cs, nil
}

// UpdateBookingInput patches a booking: a reschedule, a status change, or
// both. Assessment fields accompany scheduled→completed requests; Reason is
// required for cancellations and reversals.
type UpdateBookingInput struct {
	Status     *booking.Status
	ProviderID *uuid.UUID
	Date       *string
	Slot       *scheduling.TimeRange
	Reason     string
	Assessment *referral.Assessment
}

// UpdateBooking applies a booking patch and drives the linked case per the
// booking state machine.
func (c *Coordinator) UpdateBooking(ctx context.Context, id uuid.UUID, in UpdateBookingInput, actor identity.Actor) (*booking.Booking, error) {
	return c.updateBooking(ctx, "update_booking", id, in, actor)
}

// CancelBooking cancels a booking and drives the linked case to Cancelled.
func (c *Coordinator) CancelBooking(ctx context.Context, id uuid.UUID, reason string, actor identity.Actor) (*booking.Booking, error) {
	cancelled := booking.StatusCancelled
	return c.updateBooking(ctx, "cancel_booking", id, UpdateBookingInput{
		Status: &cancelled,
		Reason: reason,
	}, actor)
}

func (c *Coordinator) updateBooking(ctx context.Context, trigger string, id uuid.UUID, in UpdateBookingInput, actor identity.Actor) (*booking.Booking, error) {
	ctx, span := tracer.Start(ctx, "syncengine."+trigger)
	defer span.End()
	defer c.observeLatency(trigger, c.now())
	span.SetAttributes(attribute.String("booking_id", id.String()))

	if err := requireTransition(actor); err != nil {
		return nil, err
	}

	tx, err := c.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	b, err := c.bookings.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := c.applyReschedule(ctx, tx, b, in); err != nil {
		return nil, err
	}

	var bookingPlan booking.Plan
	var casePlan referral.Plan
	var cs *referral.Case
	if in.Status != nil {
		bookingPlan, err = booking.PlanTransition(b.Status, *in.Status)
		if err != nil {
			c.metrics.ObserveTransition("booking", string(b.Status), string(*in.Status), "invalid")
			return nil, err
		}
		if bookingPlan.Reversal {
			if err := requireReversal(actor); err != nil {
				return nil, err
			}
		}
		if bookingPlan.RequiresReason && strings.TrimSpace(in.Reason) == "" {
			return nil, &domain.ValidationError{Missing: []string{"reason"}}
		}

		if !bookingPlan.NoOp && b.CaseID != nil && bookingPlan.CaseDrive != booking.CaseDriveNone {
			cs, casePlan, err = c.driveLinkedCase(ctx, tx, b, bookingPlan.CaseDrive, in, actor)
			if err != nil {
				return nil, err
			}
		}

		if !bookingPlan.NoOp {
			var cancelledAt *time.Time
			reason := ""
			if bookingPlan.To == booking.StatusCancelled {
				now := c.now().UTC()
				cancelledAt = &now
				reason = in.Reason
			}
			if err := c.bookings.UpdateStatus(ctx, tx, b.ID, bookingPlan.To, reason, cancelledAt); err != nil {
				return nil, err
			}
			b.Status = bookingPlan.To
			b.CancellationReason = reason
			b.CancelledAt = cancelledAt
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	if in.Status != nil && !bookingPlan.NoOp {
		c.afterBookingTransition(trigger, b, bookingPlan, actor)
	}
	if cs != nil && !casePlan.NoOp {
		c.afterCaseTransition(trigger, cs, casePlan, actor)
	}
	return b, nil
}

// applyReschedule re-runs the overlap check and moves the slot when the
// patch changes provider, date or time.
func (c *Coordinator) applyReschedule(ctx context.Context, tx pgx.Tx, b *booking.Booking, in UpdateBookingInput) error {
	provider := b.ProviderID
	date := b.Date
	slot := b.Slot
	changed := false
	if in.ProviderID != nil && *in.ProviderID != provider {
		provider = *in.ProviderID
		changed = true
	}
	if in.Date != nil && *in.Date != date {
		date = *in.Date
		changed = true
	}
	if in.Slot != nil && *in.Slot != slot {
		slot = *in.Slot
		changed = true
	}
	if !changed {
		return nil
	}
	if b.Status == booking.StatusCancelled {
		return &domain.InvalidTransitionError{
			Entity:    "booking",
			Current:   string(b.Status),
			Requested: "rescheduled",
		}
	}
	if err := scheduling.ValidateDate(date); err != nil {
		return err
	}
	if err := slot.Validate(); err != nil {
		return err
	}
	if err := c.checker.HasConflict(ctx, tx, provider, date, slot, b.ID); err != nil {
		var conflict *scheduling.ConflictError
		if errors.As(err, &conflict) {
			c.metrics.ObserveConflict()
		}
		return err
	}
	if err := c.bookings.UpdateSlot(ctx, tx, b.ID, provider, date, slot.StartMinute, slot.EndMinute); err != nil {
		if errors.Is(err, booking.ErrSlotTaken) {
			c.metrics.ObserveConflict()
			return &scheduling.ConflictError{
				ProviderID: provider,
				Date:       date,
				Requested:  slot,
			}
		}
		return err
	}
	b.ProviderID = provider
	b.Date = date
	b.Slot = slot
	return nil
}

// driveLinkedCase translates a booking-machine case drive into a case
// transition inside the same transaction.
func (c *Coordinator) driveLinkedCase(ctx context.Context, tx pgx.Tx, b *booking.Booking, drive booking.CaseDrive, in UpdateBookingInput, actor identity.Actor) (*referral.Case, referral.Plan, error) {
	cs, err := c.cases.GetForUpdate(ctx, tx, *b.CaseID)
	if err != nil {
		return nil, referral.Plan{}, err
	}

	var requested referral.Status
	input := referral.TransitionInput{Reason: in.Reason, Assessment: in.Assessment}
	switch drive {
	case booking.CaseDriveAccept:
		requested = referral.StatusAccepted
	case booking.CaseDriveRevert:
		// Only an Accepted case follows the booking back; anything else
		// (still pending, already completed) stays put.
		if cs.Status != referral.StatusAccepted {
			return nil, referral.Plan{}, nil
		}
		requested = referral.StatusPending
	case booking.CaseDriveCancel:
		// Already mirrored; nothing to drive.
		if cs.Status == referral.StatusCancelled {
			return nil, referral.Plan{}, nil
		}
		requested = referral.StatusCancelled
	default:
		return nil, referral.Plan{}, nil
	}

	plan, err := c.machine.PlanTransition(cs, requested, input)
	if err != nil {
		c.metrics.ObserveTransition("case", string(cs.Status), string(requested), "invalid")
		return nil, referral.Plan{}, err
	}
	if plan.NoOp {
		return cs, plan, nil
	}
	if err := c.applyCasePlan(ctx, tx, cs, plan, input, actor); err != nil {
		return nil, referral.Plan{}, err
	}
	return cs, plan, nil
}

// UpdateCaseStatus moves a case to the requested status and mirrors the
// originating booking.
func (c *Coordinator) UpdateCaseStatus(ctx context.Context, caseID uuid.UUID, requested referral.Status, in referral.TransitionInput, actor identity.Actor) (*referral.Case, error) {
	return c.updateCase(ctx, "update_case_status", caseID, func(*referral.Case) (referral.Status, error) { return requested, nil }, in, actor)
}

// ReverseCaseStatus undoes the case's last forward transition: Completed
// goes back to Accepted, Accepted back to Pending. Admin only. A case with
// no forward transition to undo is rejected outright.
func (c *Coordinator) ReverseCaseStatus(ctx context.Context, caseID uuid.UUID, reason string, actor identity.Actor) (*referral.Case, error) {
	if err := requireReversal(actor); err != nil {
		return nil, err
	}
	target := func(cs *referral.Case) (referral.Status, error) {
		switch cs.Status {
		case referral.StatusCompleted:
			return referral.StatusAccepted, nil
		case referral.StatusAccepted:
			return referral.StatusPending, nil
		}
		return "", &domain.InvalidTransitionError{
			Entity:    "case",
			Current:   string(cs.Status),
			Requested: "reversal",
		}
	}
	return c.updateCase(ctx, "reverse_case_status", caseID, target, referral.TransitionInput{Reason: reason}, actor)
}

func (c *Coordinator) updateCase(ctx context.Context, trigger string, caseID uuid.UUID, target func(*referral.Case) (referral.Status, error), in referral.TransitionInput, actor identity.Actor) (*referral.Case, error) {
	ctx, span := tracer.Start(ctx, "syncengine."+trigger)
	defer span.End()
	defer c.observeLatency(trigger, c.now())
	span.SetAttributes(attribute.String("case_id", caseID.String()))

	if err := requireTransition(actor); err != nil {
		return nil, err
	}

	tx, err := c.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock the booking before the case so every trigger acquires row locks
	// in the same order.
	bookingRef, err := c.cases.BookingRef(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}
	var b *booking.Booking
	if bookingRef != nil {
		if b, err = c.bookings.GetForUpdate(ctx, tx, *bookingRef); err != nil {
			return nil, err
		}
	}

	cs, err := c.cases.GetForUpdate(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}

	requested, err := target(cs)
	if err != nil {
		c.metrics.ObserveTransition("case", string(cs.Status), "reversal", "invalid")
		return nil, err
	}
	plan, err := c.machine.PlanTransition(cs, requested, in)
	if err != nil {
		c.metrics.ObserveTransition("case", string(cs.Status), string(requested), "invalid")
		return nil, err
	}
	if plan.Reversal {
		if err := requireReversal(actor); err != nil {
			return nil, err
		}
	}
	if plan.NoOp {
		return cs, tx.Commit(ctx)
	}

	if err := c.applyCasePlan(ctx, tx, cs, plan, in, actor); err != nil {
		return nil, err
	}

	var bookingPlan booking.Plan
	mirrored := false
	if b != nil {
		bookingPlan, mirrored, err = c.mirrorBooking(ctx, tx, b, plan, in.Reason)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	c.afterCaseTransition(trigger, cs, plan, actor)
	if mirrored {
		c.afterBookingTransition(trigger, b, bookingPlan, actor)
	}
	return cs, nil
}

// mirrorBooking keeps the originating booking a mirror image of its case:
// booking Completed ⇔ case ≥ Accepted, booking Cancelled ⇔ case Cancelled.
func (c *Coordinator) mirrorBooking(ctx context.Context, tx pgx.Tx, b *booking.Booking, plan referral.Plan, reason string) (booking.Plan, bool, error) {
	var requested booking.Status
	switch {
	case plan.To == referral.StatusAccepted && !plan.Reversal && b.Status == booking.StatusScheduled:
		requested = booking.StatusCompleted
	case plan.To == referral.StatusPending && b.Status == booking.StatusCompleted:
		requested = booking.StatusScheduled
	case plan.To == referral.StatusCancelled && b.Status != booking.StatusCancelled:
		requested = booking.StatusCancelled
	default:
		return booking.Plan{}, false, nil
	}

	bookingPlan, err := booking.PlanTransition(b.Status, requested)
	if err != nil {
		return booking.Plan{}, false, err
	}
	var cancelledAt *time.Time
	cancelReason := ""
	if requested == booking.StatusCancelled {
		now := c.now().UTC()
		cancelledAt = &now
		cancelReason = reason
	}
	if err := c.bookings.UpdateStatus(ctx, tx, b.ID, requested, cancelReason, cancelledAt); err != nil {
		return booking.Plan{}, false, err
	}
	b.Status = requested
	b.CancellationReason = cancelReason
	b.CancelledAt = cancelledAt
	return bookingPlan, true, nil
}

// applyCasePlan mutates the loaded case per the transition plan, performs
// the ledger action and appends the history entry, all on the open
// transaction.
func (c *Coordinator) applyCasePlan(ctx context.Context, tx pgx.Tx, cs *referral.Case, plan referral.Plan, in referral.TransitionInput, actor identity.Actor) error {
	switch plan.LedgerAction {
	case referral.LedgerUse:
		if err := c.ledger.Use(ctx, tx, *cs.BundleID, cs.ID, 1, actor); err != nil {
			return err
		}
	case referral.LedgerReturn:
		if err := c.ledger.Return(ctx, tx, *cs.BundleID, cs.ID, 1, actor); err != nil {
			return err
		}
	}

	now := c.now().UTC()
	switch plan.To {
	case referral.StatusAccepted:
		if plan.Reversal {
			cs.CompletedAt = nil
			cs.Completion = referral.CompletionNote{}
			cs.Reversed = true
			cs.ReversalReason = plan.Reason
		} else {
			if in.Assessment != nil {
				cs.Assessment = cs.Assessment.Merge(*in.Assessment)
			}
			cs.AcceptedAt = &now
		}
	case referral.StatusPending:
		cs.AcceptedAt = nil
		cs.Assessment = referral.Assessment{}
		cs.Reversed = true
		cs.ReversalReason = plan.Reason
	case referral.StatusCompleted:
		if in.Completion != nil {
			cs.Completion = *in.Completion
		}
		cs.CompletedAt = &now
	case referral.StatusCancelled:
		cs.CancelledAt = &now
		cs.CancellationReason = plan.Reason
	}
	cs.Status = plan.To

	if err := c.cases.Update(ctx, tx, cs); err != nil {
		return err
	}

	return c.cases.AppendHistory(ctx, tx, &referral.HistoryEntry{
		ID:        uuid.New(),
		CaseID:    cs.ID,
		OldStatus: plan.From,
		NewStatus: plan.To,
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
		Reversal:  plan.Reversal,
		Reason:    plan.Reason,
	})
}

func (c *Coordinator) afterCaseTransition(trigger string, cs *referral.Case, plan referral.Plan, actor identity.Actor) {
	c.metrics.ObserveTransition("case", string(plan.From), string(plan.To), "ok")
	c.recent.Append(TransitionEvent{
		Time:     c.now().UTC(),
		Trigger:  trigger,
		Entity:   "case",
		EntityID: cs.ID.String(),
		From:     string(plan.From),
		To:       string(plan.To),
		ActorID:  actor.ID,
		Reversal: plan.Reversal,
	})
	c.logger.Info("case transition committed",
		"case_id", cs.ID,
		"code", cs.Code,
		"from", plan.From,
		"to", plan.To,
		"reversal", plan.Reversal,
	)

	if c.notifier == nil {
		return
	}
	// Best-effort: a failed notification never fails the transition.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var err error
	switch {
	case plan.To == referral.StatusAccepted && !plan.Reversal:
		evt := events.CaseAcceptedV1{
			EventID:    uuid.NewString(),
			CaseID:     cs.ID.String(),
			CaseCode:   cs.Code,
			ActorID:    actor.ID,
			OccurredAt: c.now().UTC(),
		}
		if cs.BookingID != nil {
			evt.BookingID = cs.BookingID.String()
		}
		if plan.LedgerAction == referral.LedgerUse && cs.BundleID != nil {
			evt.BundleCode = ledger.NewBundleCode(*cs.BundleID)
		}
		err = c.notifier.NotifyCaseAccepted(ctx, evt)
	default:
		err = c.notifier.NotifyCaseStatusChanged(ctx, events.CaseStatusChangedV1{
			EventID:    uuid.NewString(),
			CaseID:     cs.ID.String(),
			CaseCode:   cs.Code,
			OldStatus:  string(plan.From),
			NewStatus:  string(plan.To),
			Reversal:   plan.Reversal,
			Reason:     plan.Reason,
			ActorID:    actor.ID,
			OccurredAt: c.now().UTC(),
		})
	}
	if err != nil {
		c.logger.Error("case notification failed", "error", err, "case_id", cs.ID)
	}
}

func (c *Coordinator) afterBookingTransition(trigger string, b *booking.Booking, plan booking.Plan, actor identity.Actor) {
	c.metrics.ObserveTransition("booking", string(plan.From), string(plan.To), "ok")
	c.recent.Append(TransitionEvent{
		Time:     c.now().UTC(),
		Trigger:  trigger,
		Entity:   "booking",
		EntityID: b.ID.String(),
		From:     string(plan.From),
		To:       string(plan.To),
		ActorID:  actor.ID,
		Reversal: plan.Reversal,
	})
	c.logger.Info("booking transition committed",
		"booking_id", b.ID,
		"from", plan.From,
		"to", plan.To,
		"reversal", plan.Reversal,
	)

	if c.notifier == nil || plan.To != booking.StatusCancelled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	evt := events.BookingCancelledV1{
		EventID:    uuid.NewString(),
		BookingID:  b.ID.String(),
		ProviderID: b.ProviderID.String(),
		Date:       b.Date,
		Slot:       b.Slot.String(),
		Reason:     b.CancellationReason,
		ActorID:    actor.ID,
		OccurredAt: c.now().UTC(),
	}
	if b.CaseID != nil {
		evt.CaseID = b.CaseID.String()
	}
	if err := c.notifier.NotifyBookingCancelled(ctx, evt); err != nil {
		c.logger.Error("booking notification failed", "error", err, "booking_id", b.ID)
	}
}

func (c *Coordinator) observeLatency(trigger string, start time.Time) {
	c.metrics.ObserveTransitionLatency(trigger, time.Since(start).Seconds())
}

func requireTransition(actor identity.Actor) error {
	if !actor.CanTransition() {
		return &identity.PermissionError{Role: actor.Role, Action: "drive status transitions"}
	}
	return nil
}

func requireReversal(actor identity.Actor) error {
	if !actor.CanReverse() {
		return &identity.PermissionError{Role: actor.Role, Action: "reverse a completed transition"}
	}
	return nil
}
