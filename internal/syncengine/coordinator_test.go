package syncengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rehabflow/clinic-platform/internal/booking"
	"github.com/rehabflow/clinic-platform/internal/domain"
	"github.com/rehabflow/clinic-platform/internal/identity"
	"github.com/rehabflow/clinic-platform/internal/ledger"
	"github.com/rehabflow/clinic-platform/internal/notify"
	"github.com/rehabflow/clinic-platform/internal/referral"
	"github.com/rehabflow/clinic-platform/internal/scheduling"
	"github.com/rehabflow/clinic-platform/pkg/logging"
)

var (
	clinician = identity.Actor{ID: "clin-1", Role: identity.RoleClinician}
	admin     = identity.Actor{ID: "adm-1", Role: identity.RoleAdmin}
	orgStaff  = identity.Actor{ID: "staff-1", Role: identity.RoleOrgStaff}
)

func newTestCoordinator(t *testing.T) (*Coordinator, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	logger := logging.New("error")
	c := NewCoordinator(Config{
		DB:       mock,
		Bookings: booking.NewRepository(mock),
		Cases:    referral.NewRepository(mock),
		Ledger:   ledger.New(ledger.NewRepository(mock), nil, logger),
		Logger:   logger,
	})
	return c, mock
}

func bookingRows(b *booking.Booking) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows([]string{
		"id", "provider_id", "clinic_id", "booking_date", "start_minute", "end_minute",
		"status", "case_id", "bundle_id", "cancellation_reason", "cancelled_at",
		"created_at", "updated_at",
	}).AddRow(
		b.ID, b.ProviderID, b.ClinicID, b.Date, b.Slot.StartMinute, b.Slot.EndMinute,
		b.Status, b.CaseID, b.BundleID, b.CancellationReason, b.CancelledAt,
		now, now,
	)
}

func caseRows(c *referral.Case) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows([]string{
		"id", "code", "status", "source_org_id", "target_org_id", "bundle_id", "booking_id",
		"assessment_diagnosis", "assessment_treatment_plan",
		"completion_summary", "completion_outcome", "completion_recommendations", "completion_follow_up",
		"accepted_at", "completed_at", "cancelled_at", "cancellation_reason",
		"reversed", "reversal_reason", "created_at", "updated_at",
	}).AddRow(
		c.ID, c.Code, c.Status, c.SourceOrgID, c.TargetOrgID, c.BundleID, c.BookingID,
		c.Assessment.Diagnosis, c.Assessment.TreatmentPlan,
		c.Completion.Summary, c.Completion.Outcome, c.Completion.Recommendations, c.Completion.FollowUp,
		c.AcceptedAt, c.CompletedAt, c.CancelledAt, c.CancellationReason,
		c.Reversed, c.ReversalReason, now, now,
	)
}

func activeBundleRows(id uuid.UUID, total, used, remaining int) *pgxmock.Rows {
	now := time.Now().UTC()
	status := ledger.BundleActive
	if remaining == 0 {
		status = ledger.BundleCompleted
	}
	return pgxmock.NewRows([]string{
		"id", "code", "total_sessions", "used_sessions", "remaining_sessions",
		"status", "expires_at", "created_at", "updated_at",
	}).AddRow(id, ledger.NewBundleCode(id), total, used, remaining, status, nil, now, now)
}

func journalTotalsRows(uses, used, returns, returned int) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"uses", "used", "returns", "returned"}).
		AddRow(uses, used, returns, returned)
}

// anyArgs builds n pgxmock.AnyArg matchers for expectations that should not
// constrain the statement's arguments.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func mustRange(t *testing.T, start, end string) scheduling.TimeRange {
	t.Helper()
	r, err := scheduling.NewTimeRange(start, end)
	require.NoError(t, err)
	return r
}

func TestCreateBookingRejectsOverlap(t *testing.T) {
	c, mock := newTestCoordinator(t)
	providerID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM bookings").
		WithArgs(providerID, "2026-09-01", 540, 600).
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_minute", "end_minute"}).
			AddRow(uuid.New(), 570, 630))
	mock.ExpectRollback()

	_, _, err := c.CreateBooking(context.Background(), CreateBookingInput{
		ProviderID: providerID,
		ClinicID:   uuid.New(),
		Date:       "2026-09-01",
		Slot:       mustRange(t, "09:00", "10:00"),
	}, clinician)

	var conflict *scheduling.ConflictError
	require.True(t, errors.As(err, &conflict), "want ConflictError, got %v", err)
	assert.Equal(t, scheduling.TimeRange{StartMinute: 570, EndMinute: 630}, conflict.Existing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBookingAllowsAdjacentSlot(t *testing.T) {
	c, mock := newTestCoordinator(t)
	providerID, clinicID := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	// [10:00,10:30) against an existing [09:30,10:00): no overlap rows.
	mock.ExpectQuery("FROM bookings").
		WithArgs(providerID, "2026-09-01", 600, 630).
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_minute", "end_minute"}))
	mock.ExpectQuery("INSERT INTO bookings").
		WithArgs(anyArgs(9)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectCommit()

	b, cs, err := c.CreateBooking(context.Background(), CreateBookingInput{
		ProviderID: providerID,
		ClinicID:   clinicID,
		Date:       "2026-09-01",
		Slot:       mustRange(t, "10:00", "10:30"),
	}, clinician)
	require.NoError(t, err)
	assert.Nil(t, cs)
	assert.Equal(t, booking.StatusScheduled, b.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBookingOpensLinkedCase(t *testing.T) {
	c, mock := newTestCoordinator(t)
	providerID := uuid.New()
	bundleID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM bookings").
		WithArgs(providerID, "2026-09-01", 540, 570).
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_minute", "end_minute"}))
	mock.ExpectQuery("INSERT INTO bookings").
		WithArgs(anyArgs(9)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectQuery("INSERT INTO referral_cases").
		WithArgs(anyArgs(9)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectCommit()

	b, cs, err := c.CreateBooking(context.Background(), CreateBookingInput{
		ProviderID: providerID,
		ClinicID:   uuid.New(),
		Date:       "2026-09-01",
		Slot:       mustRange(t, "09:00", "09:30"),
		BundleID:   &bundleID,
		OpenCase: &OpenCaseInput{
			SourceOrgID: uuid.New(),
			TargetOrgID: uuid.New(),
		},
	}, clinician)
	require.NoError(t, err)
	require.NotNil(t, cs)
	assert.Equal(t, referral.StatusPending, cs.Status)
	require.NotNil(t, b.CaseID)
	assert.Equal(t, cs.ID, *b.CaseID)
	require.NotNil(t, cs.BookingID)
	assert.Equal(t, b.ID, *cs.BookingID)
	assert.Equal(t, &bundleID, cs.BundleID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCaseStatusAcceptDeductsAndCompletesBooking(t *testing.T) {
	c, mock := newTestCoordinator(t)

	bundleID := uuid.New()
	b := &booking.Booking{
		ID:         uuid.New(),
		ProviderID: uuid.New(),
		ClinicID:   uuid.New(),
		Date:       "2026-09-01",
		Slot:       scheduling.TimeRange{StartMinute: 540, EndMinute: 570},
		Status:     booking.StatusScheduled,
		BundleID:   &bundleID,
	}
	cs := &referral.Case{
		ID:          uuid.New(),
		Status:      referral.StatusPending,
		SourceOrgID: uuid.New(),
		TargetOrgID: uuid.New(),
		BundleID:    &bundleID,
		BookingID:   &b.ID,
	}
	cs.Code = referral.NewCode(cs.ID)
	b.CaseID = &cs.ID

	mock.ExpectBegin()
	// Booking is locked before the case.
	mock.ExpectQuery("SELECT booking_id FROM referral_cases").
		WithArgs(cs.ID).
		WillReturnRows(pgxmock.NewRows([]string{"booking_id"}).AddRow(&b.ID))
	mock.ExpectQuery("FROM bookings").WithArgs(b.ID).WillReturnRows(bookingRows(b))
	mock.ExpectQuery("FROM referral_cases").WithArgs(cs.ID).WillReturnRows(caseRows(cs))
	// Ledger deduction under the bundle lock.
	mock.ExpectQuery("FROM session_bundles").WithArgs(bundleID).
		WillReturnRows(activeBundleRows(bundleID, 5, 0, 5))
	mock.ExpectQuery("FROM session_usage_journal").WithArgs(bundleID, cs.ID).
		WillReturnRows(journalTotalsRows(0, 0, 0, 0))
	mock.ExpectExec("UPDATE session_bundles").
		WithArgs(bundleID, 1, 4, ledger.BundleActive).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO session_usage_journal").
		WithArgs(anyArgs(8)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now().UTC()))
	// Case write + audit trail.
	mock.ExpectExec("UPDATE referral_cases").WithArgs(anyArgs(14)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO case_status_history").
		WithArgs(anyArgs(8)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now().UTC()))
	// The booking mirrors the acceptance.
	mock.ExpectExec("UPDATE bookings").WithArgs(anyArgs(4)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	got, err := c.UpdateCaseStatus(context.Background(), cs.ID, referral.StatusAccepted, referral.TransitionInput{
		Assessment: &referral.Assessment{Diagnosis: "acl tear", TreatmentPlan: "12x physio"},
	}, clinician)
	require.NoError(t, err)
	assert.Equal(t, referral.StatusAccepted, got.Status)
	assert.NotNil(t, got.AcceptedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelBookingReturnsSessionAndCancelsCase(t *testing.T) {
	c, mock := newTestCoordinator(t)

	bundleID := uuid.New()
	caseID := uuid.New()
	b := &booking.Booking{
		ID:         uuid.New(),
		ProviderID: uuid.New(),
		ClinicID:   uuid.New(),
		Date:       "2026-09-01",
		Slot:       scheduling.TimeRange{StartMinute: 540, EndMinute: 570},
		Status:     booking.StatusScheduled,
		CaseID:     &caseID,
		BundleID:   &bundleID,
	}
	acceptedAt := time.Now().UTC()
	cs := &referral.Case{
		ID:          caseID,
		Status:      referral.StatusAccepted,
		SourceOrgID: uuid.New(),
		TargetOrgID: uuid.New(),
		BundleID:    &bundleID,
		BookingID:   &b.ID,
		Assessment:  referral.Assessment{Diagnosis: "acl tear", TreatmentPlan: "12x physio"},
		AcceptedAt:  &acceptedAt,
	}
	cs.Code = referral.NewCode(caseID)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM bookings").WithArgs(b.ID).WillReturnRows(bookingRows(b))
	mock.ExpectQuery("FROM referral_cases").WithArgs(caseID).WillReturnRows(caseRows(cs))
	// The accepted case had deducted a session; cancelling returns it.
	mock.ExpectQuery("FROM session_bundles").WithArgs(bundleID).
		WillReturnRows(activeBundleRows(bundleID, 5, 1, 4))
	mock.ExpectQuery("FROM session_usage_journal").WithArgs(bundleID, caseID).
		WillReturnRows(journalTotalsRows(1, 1, 0, 0))
	mock.ExpectExec("UPDATE session_bundles").
		WithArgs(bundleID, 0, 5, ledger.BundleActive).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO session_usage_journal").
		WithArgs(anyArgs(8)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now().UTC()))
	mock.ExpectExec("UPDATE referral_cases").WithArgs(anyArgs(14)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO case_status_history").
		WithArgs(anyArgs(8)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now().UTC()))
	mock.ExpectExec("UPDATE bookings").WithArgs(anyArgs(4)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	got, err := c.CancelBooking(context.Background(), b.ID, "patient unavailable", clinician)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, got.Status)
	assert.Equal(t, "patient unavailable", got.CancellationReason)
	assert.NotNil(t, got.CancelledAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelBookingRequiresReason(t *testing.T) {
	c, mock := newTestCoordinator(t)
	b := &booking.Booking{
		ID:         uuid.New(),
		ProviderID: uuid.New(),
		ClinicID:   uuid.New(),
		Date:       "2026-09-01",
		Slot:       scheduling.TimeRange{StartMinute: 540, EndMinute: 570},
		Status:     booking.StatusScheduled,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("FROM bookings").WithArgs(b.ID).WillReturnRows(bookingRows(b))
	mock.ExpectRollback()

	_, err := c.CancelBooking(context.Background(), b.ID, "  ", clinician)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reason")
}

func TestOrgStaffCannotDriveTransitions(t *testing.T) {
	c, _ := newTestCoordinator(t)

	_, _, err := c.CreateBooking(context.Background(), CreateBookingInput{
		ProviderID: uuid.New(),
		ClinicID:   uuid.New(),
		Date:       "2026-09-01",
		Slot:       scheduling.TimeRange{StartMinute: 540, EndMinute: 570},
	}, orgStaff)

	var pe *identity.PermissionError
	require.True(t, errors.As(err, &pe), "want PermissionError, got %v", err)
}

func TestClinicianCannotReverse(t *testing.T) {
	c, mock := newTestCoordinator(t)
	b := &booking.Booking{
		ID:         uuid.New(),
		ProviderID: uuid.New(),
		ClinicID:   uuid.New(),
		Date:       "2026-09-01",
		Slot:       scheduling.TimeRange{StartMinute: 540, EndMinute: 570},
		Status:     booking.StatusCompleted,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("FROM bookings").WithArgs(b.ID).WillReturnRows(bookingRows(b))
	mock.ExpectRollback()

	scheduled := booking.StatusScheduled
	_, err := c.UpdateBooking(context.Background(), b.ID, UpdateBookingInput{Status: &scheduled}, clinician)

	var pe *identity.PermissionError
	require.True(t, errors.As(err, &pe), "want PermissionError, got %v", err)

	_, err = c.ReverseCaseStatus(context.Background(), uuid.New(), "why", clinician)
	require.True(t, errors.As(err, &pe))
}

func TestReverseCaseStatusReopensToAccepted(t *testing.T) {
	c, mock := newTestCoordinator(t)

	completedAt := time.Now().UTC()
	acceptedAt := completedAt.Add(-time.Hour)
	cs := &referral.Case{
		ID:          uuid.New(),
		Status:      referral.StatusCompleted,
		SourceOrgID: uuid.New(),
		TargetOrgID: uuid.New(),
		Assessment:  referral.Assessment{Diagnosis: "acl tear", TreatmentPlan: "12x physio"},
		Completion: referral.CompletionNote{
			Summary: "done", Outcome: "good", Recommendations: "rest", FollowUp: "none",
		},
		AcceptedAt:  &acceptedAt,
		CompletedAt: &completedAt,
	}
	cs.Code = referral.NewCode(cs.ID)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT booking_id FROM referral_cases").
		WithArgs(cs.ID).
		WillReturnRows(pgxmock.NewRows([]string{"booking_id"}).AddRow(nil))
	mock.ExpectQuery("FROM referral_cases").WithArgs(cs.ID).WillReturnRows(caseRows(cs))
	mock.ExpectExec("UPDATE referral_cases").WithArgs(anyArgs(14)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO case_status_history").
		WithArgs(anyArgs(8)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now().UTC()))
	mock.ExpectCommit()

	got, err := c.ReverseCaseStatus(context.Background(), cs.ID, "outcome recorded in error", admin)
	require.NoError(t, err)
	assert.Equal(t, referral.StatusAccepted, got.Status)
	assert.True(t, got.Reversed)
	assert.Nil(t, got.CompletedAt)
	assert.Empty(t, got.Completion.Summary, "reopening clears the completion note")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCaseStatusSameStatusIsNoop(t *testing.T) {
	c, mock := newTestCoordinator(t)

	cs := &referral.Case{
		ID:          uuid.New(),
		Status:      referral.StatusPending,
		SourceOrgID: uuid.New(),
		TargetOrgID: uuid.New(),
	}
	cs.Code = referral.NewCode(cs.ID)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT booking_id FROM referral_cases").
		WithArgs(cs.ID).
		WillReturnRows(pgxmock.NewRows([]string{"booking_id"}).AddRow(nil))
	mock.ExpectQuery("FROM referral_cases").WithArgs(cs.ID).WillReturnRows(caseRows(cs))
	mock.ExpectCommit()

	got, err := c.UpdateCaseStatus(context.Background(), cs.ID, referral.StatusPending, referral.TransitionInput{}, clinician)
	require.NoError(t, err)
	assert.Equal(t, referral.StatusPending, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleChecksOverlapExcludingSelf(t *testing.T) {
	c, mock := newTestCoordinator(t)
	b := &booking.Booking{
		ID:         uuid.New(),
		ProviderID: uuid.New(),
		ClinicID:   uuid.New(),
		Date:       "2026-09-01",
		Slot:       scheduling.TimeRange{StartMinute: 540, EndMinute: 570},
		Status:     booking.StatusScheduled,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("FROM bookings").WithArgs(b.ID).WillReturnRows(bookingRows(b))
	// Own row is excluded from the conflict set via the id filter.
	mock.ExpectQuery("FROM bookings").
		WithArgs(b.ProviderID, "2026-09-01", 600, 660, b.ID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_minute", "end_minute"}))
	mock.ExpectExec("UPDATE bookings").
		WithArgs(b.ID, b.ProviderID, "2026-09-01", 600, 660).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	slot := mustRange(t, "10:00", "11:00")
	got, err := c.UpdateBooking(context.Background(), b.ID, UpdateBookingInput{Slot: &slot}, clinician)
	require.NoError(t, err)
	assert.Equal(t, slot, got.Slot)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBookingConflictFromConcurrentCommit(t *testing.T) {
	c, mock := newTestCoordinator(t)
	providerID := uuid.New()

	// The predicate read sees a free slot, but a concurrent transaction
	// commits an overlapping booking first; the exclusion constraint fires
	// at insert time.
	mock.ExpectBegin()
	mock.ExpectQuery("FROM bookings").
		WithArgs(providerID, "2026-09-01", 540, 600).
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_minute", "end_minute"}))
	mock.ExpectQuery("INSERT INTO bookings").
		WithArgs(anyArgs(9)...).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "bookings_no_overlap"})
	mock.ExpectRollback()

	_, _, err := c.CreateBooking(context.Background(), CreateBookingInput{
		ProviderID: providerID,
		ClinicID:   uuid.New(),
		Date:       "2026-09-01",
		Slot:       mustRange(t, "09:00", "10:00"),
	}, clinician)

	var conflict *scheduling.ConflictError
	require.True(t, errors.As(err, &conflict), "want ConflictError, got %v", err)
	assert.Equal(t, providerID, conflict.ProviderID)
	assert.Equal(t, uuid.Nil, conflict.BookingID)
	assert.Contains(t, conflict.Error(), "conflicts with an existing booking")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleConflictFromConcurrentCommit(t *testing.T) {
	c, mock := newTestCoordinator(t)
	b := &booking.Booking{
		ID:         uuid.New(),
		ProviderID: uuid.New(),
		ClinicID:   uuid.New(),
		Date:       "2026-09-01",
		Slot:       scheduling.TimeRange{StartMinute: 540, EndMinute: 570},
		Status:     booking.StatusScheduled,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("FROM bookings").WithArgs(b.ID).WillReturnRows(bookingRows(b))
	mock.ExpectQuery("FROM bookings").
		WithArgs(b.ProviderID, "2026-09-01", 600, 660, b.ID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_minute", "end_minute"}))
	mock.ExpectExec("UPDATE bookings").
		WithArgs(b.ID, b.ProviderID, "2026-09-01", 600, 660).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "bookings_no_overlap"})
	mock.ExpectRollback()

	slot := mustRange(t, "10:00", "11:00")
	_, err := c.UpdateBooking(context.Background(), b.ID, UpdateBookingInput{Slot: &slot}, clinician)

	var conflict *scheduling.ConflictError
	require.True(t, errors.As(err, &conflict), "want ConflictError, got %v", err)
	assert.Equal(t, slot, conflict.Requested)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReverseCaseStatusRejectsPendingCase(t *testing.T) {
	c, mock := newTestCoordinator(t)

	cs := &referral.Case{
		ID:          uuid.New(),
		Status:      referral.StatusPending,
		SourceOrgID: uuid.New(),
		TargetOrgID: uuid.New(),
	}
	cs.Code = referral.NewCode(cs.ID)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT booking_id FROM referral_cases").
		WithArgs(cs.ID).
		WillReturnRows(pgxmock.NewRows([]string{"booking_id"}).AddRow(nil))
	mock.ExpectQuery("FROM referral_cases").WithArgs(cs.ID).WillReturnRows(caseRows(cs))
	mock.ExpectRollback()

	_, err := c.ReverseCaseStatus(context.Background(), cs.ID, "fat-fingered", admin)

	var invalid *domain.InvalidTransitionError
	require.True(t, errors.As(err, &invalid), "want InvalidTransitionError, got %v", err)
	assert.Equal(t, "case", invalid.Entity)
	assert.Equal(t, string(referral.StatusPending), invalid.Current)
	require.NoError(t, mock.ExpectationsWereMet())
}

type recordingSender struct {
	sent []notify.EmailMessage
}

func (s *recordingSender) Send(_ context.Context, msg notify.EmailMessage) error {
	s.sent = append(s.sent, msg)
	return nil
}

func TestAcceptanceEmailNamesDeductedBundle(t *testing.T) {
	c, _ := newTestCoordinator(t)
	sender := &recordingSender{}
	c.notifier = notify.NewService(sender, "ops@clinic.test", logging.New("error"))

	bundleID := uuid.New()
	bookingID := uuid.New()
	cs := &referral.Case{
		ID:          uuid.New(),
		Status:      referral.StatusAccepted,
		SourceOrgID: uuid.New(),
		TargetOrgID: uuid.New(),
		BundleID:    &bundleID,
		BookingID:   &bookingID,
	}
	cs.Code = referral.NewCode(cs.ID)

	c.afterCaseTransition("case_update", cs, referral.Plan{
		From:         referral.StatusPending,
		To:           referral.StatusAccepted,
		LedgerAction: referral.LedgerUse,
	}, admin)

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Body, ledger.NewBundleCode(bundleID))
}
