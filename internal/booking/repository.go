package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a booking does not exist.
var ErrNotFound = errors.New("booking not found")

// ErrSlotTaken is returned when the bookings_no_overlap exclusion constraint
// rejects a slot. It fires when a concurrent transaction committed an
// overlapping booking after the application-level check passed.
var ErrSlotTaken = errors.New("booking slot already taken")

// exclusionViolation is the postgres error code raised by EXCLUDE
// constraints.
const exclusionViolation = "23P01"

func mapSlotConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
		return ErrSlotTaken
	}
	return nil
}

// Querier is the read surface shared by *pgxpool.Pool and pgxmock pools.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository provides persistence for bookings. Mutating methods run on the
// caller's transaction so a state transition and its side effects commit
// together.
type Repository struct {
	db Querier
}

// NewRepository creates a repository backed by a pgx pool (or mock).
func NewRepository(db Querier) *Repository {
	if db == nil {
		panic("booking: db required")
	}
	return &Repository{db: db}
}

const bookingColumns = `
	id, provider_id, clinic_id, booking_date::text, start_minute, end_minute,
	status, case_id, bundle_id, COALESCE(cancellation_reason, ''), cancelled_at,
	created_at, updated_at
`

// Create inserts a new scheduled booking inside the transaction.
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, b *Booking) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO bookings
			(id, provider_id, clinic_id, booking_date, start_minute, end_minute, status, case_id, bundle_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, b.ID, b.ProviderID, b.ClinicID, b.Date, b.Slot.StartMinute, b.Slot.EndMinute,
		b.Status, b.CaseID, b.BundleID,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if conflict := mapSlotConflict(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("booking: insert: %w", err)
	}
	return nil
}

// GetForUpdate loads a booking and takes a row lock for the duration of the
// transaction, serializing concurrent transitions on the same booking.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Booking, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanBooking(row)
}

// Get loads a booking without locking; used by read handlers.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

// UpdateStatus writes the booking's new status and cancellation fields.
func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status Status, reason string, cancelledAt *time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = $2,
			cancellation_reason = NULLIF($3, ''),
			cancelled_at = $4,
			updated_at = now()
		WHERE id = $1
	`, id, status, reason, cancelledAt)
	if err != nil {
		return fmt.Errorf("booking: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSlot moves a booking to a new provider/date/time. The caller must
// have re-run the overlap check first.
func (r *Repository) UpdateSlot(ctx context.Context, tx pgx.Tx, id uuid.UUID, providerID uuid.UUID, date string, start, end int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET provider_id = $2,
			booking_date = $3,
			start_minute = $4,
			end_minute = $5,
			updated_at = now()
		WHERE id = $1
	`, id, providerID, date, start, end)
	if err != nil {
		if conflict := mapSlotConflict(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("booking: update slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	if err := row.Scan(
		&b.ID,
		&b.ProviderID,
		&b.ClinicID,
		&b.Date,
		&b.Slot.StartMinute,
		&b.Slot.EndMinute,
		&b.Status,
		&b.CaseID,
		&b.BundleID,
		&b.CancellationReason,
		&b.CancelledAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("booking: scan: %w", err)
	}
	return &b, nil
}
