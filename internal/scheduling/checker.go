package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rehabflow/clinic-platform/pkg/logging"
)

// ConflictError reports a requested slot overlapping an existing active
// booking for the same provider and date. The conflicting slot's bounds are
// included so the caller can surface them.
type ConflictError struct {
	ProviderID uuid.UUID
	Date       string
	Requested  TimeRange
	Existing   TimeRange
	BookingID  uuid.UUID
}

func (e *ConflictError) Error() string {
	// Conflicts surfaced by the database exclusion constraint carry no
	// conflicting-booking identity.
	if e.BookingID == uuid.Nil {
		return fmt.Sprintf("scheduling: slot %s on %s conflicts with an existing booking",
			e.Requested, e.Date)
	}
	return fmt.Sprintf("scheduling: slot %s on %s conflicts with booking %s at %s",
		e.Requested, e.Date, e.BookingID, e.Existing)
}

// rowQuerier is satisfied by pgx.Tx and *pgxpool.Pool; the checker always
// runs against the coordinator's open transaction so the conflict read and
// the insert commit or fail together.
type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OverlapChecker answers whether a provider slot collides with an existing
// non-cancelled booking. Pure read, no side effects.
type OverlapChecker struct {
	logger *logging.Logger
}

// NewOverlapChecker creates the checker.
func NewOverlapChecker(logger *logging.Logger) *OverlapChecker {
	if logger == nil {
		logger = logging.Default()
	}
	return &OverlapChecker{logger: logger}
}

// HasConflict returns a ConflictError when the requested range overlaps an
// active booking for the provider on the date. excludeID removes the booking
// being rescheduled from the comparison set; pass uuid.Nil when creating.
func (c *OverlapChecker) HasConflict(ctx context.Context, q rowQuerier, providerID uuid.UUID, date string, rng TimeRange, excludeID uuid.UUID) error {
	if err := rng.Validate(); err != nil {
		return err
	}
	if err := ValidateDate(date); err != nil {
		return err
	}

	query := `
		SELECT id, start_minute, end_minute
		FROM bookings
		WHERE provider_id = $1
			AND booking_date = $2
			AND status <> 'cancelled'
			AND start_minute < $4
			AND end_minute > $3
	`
	args := []any{providerID, date, rng.StartMinute, rng.EndMinute}
	if excludeID != uuid.Nil {
		query += " AND id <> $5"
		args = append(args, excludeID)
	}
	query += " ORDER BY start_minute LIMIT 1"

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("scheduling: conflict query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var existing TimeRange
		if err := rows.Scan(&id, &existing.StartMinute, &existing.EndMinute); err != nil {
			return fmt.Errorf("scheduling: scan conflict row: %w", err)
		}
		c.logger.Debug("slot conflict detected",
			"provider_id", providerID,
			"date", date,
			"requested", rng.String(),
			"existing", existing.String(),
		)
		return &ConflictError{
			ProviderID: providerID,
			Date:       date,
			Requested:  rng,
			Existing:   existing,
			BookingID:  id,
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scheduling: conflict rows: %w", err)
	}
	return nil
}
