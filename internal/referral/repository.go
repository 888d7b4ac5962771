package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a case does not exist.
var ErrNotFound = errors.New("case not found")

// Querier is the read surface shared by *pgxpool.Pool and pgxmock pools.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository provides persistence for referral cases and their status
// history. Mutating methods run on the caller's transaction.
type Repository struct {
	db Querier
}

// NewRepository creates a repository backed by a pgx pool (or mock).
func NewRepository(db Querier) *Repository {
	if db == nil {
		panic("referral: db required")
	}
	return &Repository{db: db}
}

const caseColumns = `
	id, code, status, source_org_id, target_org_id, bundle_id, booking_id,
	COALESCE(assessment_diagnosis, ''), COALESCE(assessment_treatment_plan, ''),
	COALESCE(completion_summary, ''), COALESCE(completion_outcome, ''),
	COALESCE(completion_recommendations, ''), COALESCE(completion_follow_up, ''),
	accepted_at, completed_at, cancelled_at, COALESCE(cancellation_reason, ''),
	reversed, COALESCE(reversal_reason, ''), created_at, updated_at
`

// Create inserts a new pending case inside the transaction.
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, c *Case) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO referral_cases
			(id, code, status, source_org_id, target_org_id, bundle_id, booking_id,
			 assessment_diagnosis, assessment_treatment_plan)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))
		RETURNING created_at, updated_at
	`, c.ID, c.Code, c.Status, c.SourceOrgID, c.TargetOrgID, c.BundleID, c.BookingID,
		c.Assessment.Diagnosis, c.Assessment.TreatmentPlan,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("referral: insert case: %w", err)
	}
	return nil
}

// GetForUpdate loads a case and takes a row lock for the duration of the
// transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Case, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+caseColumns+`
		FROM referral_cases
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanCase(row)
}

// Get loads a case without locking; used by read handlers.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Case, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+caseColumns+`
		FROM referral_cases
		WHERE id = $1
	`, id)
	return scanCase(row)
}

// BookingRef returns the case's linked booking id (nil when unlinked)
// without locking the case row. The coordinator reads it first so booking
// and case rows are always locked in the same order regardless of which
// entity triggered the transition.
func (r *Repository) BookingRef(ctx context.Context, tx pgx.Tx, caseID uuid.UUID) (*uuid.UUID, error) {
	var ref *uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT booking_id FROM referral_cases WHERE id = $1
	`, caseID).Scan(&ref)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("referral: booking ref: %w", err)
	}
	return ref, nil
}

// LinkBooking attaches a booking to an existing unlinked case.
func (r *Repository) LinkBooking(ctx context.Context, tx pgx.Tx, caseID, bookingID uuid.UUID) error {
	tag, err := tx.Exec(ctx, `
		UPDATE referral_cases
		SET booking_id = $2, updated_at = now()
		WHERE id = $1 AND booking_id IS NULL
	`, caseID, bookingID)
	if err != nil {
		return fmt.Errorf("referral: link booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("referral: case %s not found or already linked to a booking", caseID)
	}
	return nil
}

// Update writes all mutable case columns. The coordinator mutates the loaded
// struct per the transition plan, then persists it here in the same
// transaction.
func (r *Repository) Update(ctx context.Context, tx pgx.Tx, c *Case) error {
	tag, err := tx.Exec(ctx, `
		UPDATE referral_cases
		SET status = $2,
			assessment_diagnosis = NULLIF($3, ''),
			assessment_treatment_plan = NULLIF($4, ''),
			completion_summary = NULLIF($5, ''),
			completion_outcome = NULLIF($6, ''),
			completion_recommendations = NULLIF($7, ''),
			completion_follow_up = NULLIF($8, ''),
			accepted_at = $9,
			completed_at = $10,
			cancelled_at = $11,
			cancellation_reason = NULLIF($12, ''),
			reversed = $13,
			reversal_reason = NULLIF($14, ''),
			updated_at = now()
		WHERE id = $1
	`, c.ID, c.Status,
		c.Assessment.Diagnosis, c.Assessment.TreatmentPlan,
		c.Completion.Summary, c.Completion.Outcome,
		c.Completion.Recommendations, c.Completion.FollowUp,
		c.AcceptedAt, c.CompletedAt, c.CancelledAt, c.CancellationReason,
		c.Reversed, c.ReversalReason,
	)
	if err != nil {
		return fmt.Errorf("referral: update case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendHistory records one status change in the append-only audit trail.
func (r *Repository) AppendHistory(ctx context.Context, tx pgx.Tx, e *HistoryEntry) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO case_status_history
			(id, case_id, old_status, new_status, actor_id, actor_role, reversal, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		RETURNING created_at
	`, e.ID, e.CaseID, e.OldStatus, e.NewStatus, e.ActorID, e.ActorRole, e.Reversal, e.Reason,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("referral: append history: %w", err)
	}
	return nil
}

// ListHistory returns the status trail for a case, oldest first.
func (r *Repository) ListHistory(ctx context.Context, caseID uuid.UUID) ([]HistoryEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, case_id, old_status, new_status, actor_id, actor_role,
			reversal, COALESCE(reason, ''), created_at
		FROM case_status_history
		WHERE case_id = $1
		ORDER BY created_at ASC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("referral: list history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(
			&e.ID, &e.CaseID, &e.OldStatus, &e.NewStatus,
			&e.ActorID, &e.ActorRole, &e.Reversal, &e.Reason, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("referral: scan history: %w", err)
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("referral: history rows: %w", rows.Err())
	}
	return entries, nil
}

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	if err := row.Scan(
		&c.ID,
		&c.Code,
		&c.Status,
		&c.SourceOrgID,
		&c.TargetOrgID,
		&c.BundleID,
		&c.BookingID,
		&c.Assessment.Diagnosis,
		&c.Assessment.TreatmentPlan,
		&c.Completion.Summary,
		&c.Completion.Outcome,
		&c.Completion.Recommendations,
		&c.Completion.FollowUp,
		&c.AcceptedAt,
		&c.CompletedAt,
		&c.CancelledAt,
		&c.CancellationReason,
		&c.Reversed,
		&c.ReversalReason,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("referral: scan case: %w", err)
	}
	return &c, nil
}
