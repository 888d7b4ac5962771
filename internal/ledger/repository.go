package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrBundleNotFound is returned when a session bundle does not exist.
var ErrBundleNotFound = errors.New("session bundle not found")

// Querier is the read surface shared by *pgxpool.Pool and pgxmock pools.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository provides persistence for session bundles and the usage journal.
type Repository struct {
	db Querier
}

// NewRepository creates a repository backed by a pgx pool (or mock).
func NewRepository(db Querier) *Repository {
	if db == nil {
		panic("ledger: db required")
	}
	return &Repository{db: db}
}

const bundleColumns = `
	id, code, total_sessions, used_sessions, remaining_sessions, status,
	expires_at, created_at, updated_at
`

// CreateBundle inserts a purchased bundle with its full balance remaining.
func (r *Repository) CreateBundle(ctx context.Context, b *Bundle) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO session_bundles
			(id, code, total_sessions, used_sessions, remaining_sessions, status, expires_at)
		VALUES ($1, $2, $3, 0, $3, $4, $5)
		RETURNING created_at, updated_at
	`, b.ID, b.Code, b.TotalSessions, b.Status, b.ExpiresAt,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ledger: insert bundle: %w", err)
	}
	b.UsedSessions = 0
	b.RemainingSessions = b.TotalSessions
	return nil
}

// GetBundle loads a bundle without locking; used by read handlers.
func (r *Repository) GetBundle(ctx context.Context, id uuid.UUID) (*Bundle, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+bundleColumns+`
		FROM session_bundles
		WHERE id = $1
	`, id)
	return scanBundle(row)
}

// GetBundleForUpdate loads a bundle under an exclusive row lock. Every
// counter mutation reads through here so concurrent Use/Return calls on the
// same bundle serialize, which is what makes the journal check-then-act
// sequence race-free.
func (r *Repository) GetBundleForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Bundle, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+bundleColumns+`
		FROM session_bundles
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanBundle(row)
}

// UpdateCounters persists the bundle's counters and status.
func (r *Repository) UpdateCounters(ctx context.Context, tx pgx.Tx, b *Bundle) error {
	tag, err := tx.Exec(ctx, `
		UPDATE session_bundles
		SET used_sessions = $2,
			remaining_sessions = $3,
			status = $4,
			updated_at = now()
		WHERE id = $1
	`, b.ID, b.UsedSessions, b.RemainingSessions, b.Status)
	if err != nil {
		return fmt.Errorf("ledger: update counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBundleNotFound
	}
	return nil
}

// JournalTotals sums the Use and Return entries for a (bundle, case) pair.
// Called under the bundle row lock.
func (r *Repository) JournalTotals(ctx context.Context, tx pgx.Tx, bundleID, caseID uuid.UUID) (uses, usedSessions, returns, returnedSessions int, err error) {
	err = tx.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE action = 'use'),
			COALESCE(SUM(sessions) FILTER (WHERE action = 'use'), 0),
			COUNT(*) FILTER (WHERE action = 'return'),
			COALESCE(SUM(sessions) FILTER (WHERE action = 'return'), 0)
		FROM session_usage_journal
		WHERE bundle_id = $1 AND case_id = $2
	`, bundleID, caseID).Scan(&uses, &usedSessions, &returns, &returnedSessions)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("ledger: journal totals: %w", err)
	}
	return uses, usedSessions, returns, returnedSessions, nil
}

// AppendJournal records one Use or Return entry. The journal is append-only.
func (r *Repository) AppendJournal(ctx context.Context, tx pgx.Tx, e *JournalEntry) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO session_usage_journal
			(id, bundle_id, case_id, action, sessions, actor_id, actor_role, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		RETURNING created_at
	`, e.ID, e.BundleID, e.CaseID, e.Action, e.Sessions, e.ActorID, e.ActorRole, e.Note,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger: append journal: %w", err)
	}
	return nil
}

// ListJournal returns a bundle's usage trail, oldest first.
func (r *Repository) ListJournal(ctx context.Context, bundleID uuid.UUID) ([]JournalEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, bundle_id, case_id, action, sessions, actor_id, actor_role,
			COALESCE(note, ''), created_at
		FROM session_usage_journal
		WHERE bundle_id = $1
		ORDER BY created_at ASC
	`, bundleID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(
			&e.ID, &e.BundleID, &e.CaseID, &e.Action, &e.Sessions,
			&e.ActorID, &e.ActorRole, &e.Note, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ledger: scan journal: %w", err)
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("ledger: journal rows: %w", rows.Err())
	}
	return entries, nil
}

func scanBundle(row pgx.Row) (*Bundle, error) {
	var b Bundle
	if err := row.Scan(
		&b.ID,
		&b.Code,
		&b.TotalSessions,
		&b.UsedSessions,
		&b.RemainingSessions,
		&b.Status,
		&b.ExpiresAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBundleNotFound
		}
		return nil, fmt.Errorf("ledger: scan bundle: %w", err)
	}
	return &b, nil
}
