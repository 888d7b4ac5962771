package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rehabflow/clinic-platform/internal/identity"
	"github.com/rehabflow/clinic-platform/internal/observability/metrics"
	"github.com/rehabflow/clinic-platform/pkg/logging"
)

// Ledger owns the session counters of a bundle and the append-only usage
// journal. Use and Return are idempotent per (bundle, case) pair: the journal
// is the single authoritative double-spend guard, checked under the bundle's
// row lock inside the caller's transaction.
type Ledger struct {
	repo    *Repository
	metrics *metrics.SyncMetrics
	logger  *logging.Logger
	now     func() time.Time
}

// New creates the ledger service.
func New(repo *Repository, m *metrics.SyncMetrics, logger *logging.Logger) *Ledger {
	if repo == nil {
		panic("ledger: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Ledger{
		repo:    repo,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Use deducts sessions from the bundle for the case. A second Use for the
// same (bundle, case) pair is a successful no-op. Runs inside the caller's
// transaction; any error leaves the transaction poisoned for rollback.
func (l *Ledger) Use(ctx context.Context, tx pgx.Tx, bundleID, caseID uuid.UUID, sessions int, actor identity.Actor) error {
	if sessions <= 0 {
		return fmt.Errorf("ledger: use requires a positive session count, got %d", sessions)
	}

	b, err := l.repo.GetBundleForUpdate(ctx, tx, bundleID)
	if err != nil {
		return err
	}

	uses, _, _, _, err := l.repo.JournalTotals(ctx, tx, bundleID, caseID)
	if err != nil {
		return err
	}
	if uses > 0 {
		// Already deducted for this case; repeating the triggering
		// transition must not deduct again.
		l.logger.Debug("ledger use skipped, journal entry exists",
			"bundle_code", b.Code, "case_id", caseID)
		l.metrics.ObserveLedgerOp("use", "noop")
		return nil
	}

	if !b.Usable(l.now().UTC()) {
		l.metrics.ObserveLedgerOp("use", "rejected")
		return &BundleStateError{BundleCode: b.Code, Status: b.Status}
	}
	if b.RemainingSessions < sessions {
		l.metrics.ObserveLedgerOp("use", "insufficient")
		return &InsufficientSessionsError{
			BundleCode: b.Code,
			Remaining:  b.RemainingSessions,
			Requested:  sessions,
		}
	}

	b.UsedSessions += sessions
	b.RemainingSessions -= sessions
	if b.RemainingSessions == 0 {
		b.Status = BundleCompleted
	}
	if err := l.repo.UpdateCounters(ctx, tx, b); err != nil {
		return err
	}

	entry := &JournalEntry{
		ID:        uuid.New(),
		BundleID:  bundleID,
		CaseID:    &caseID,
		Action:    ActionUse,
		Sessions:  sessions,
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
	}
	if err := l.repo.AppendJournal(ctx, tx, entry); err != nil {
		return err
	}

	l.logger.Info("session used",
		"bundle_code", b.Code,
		"case_id", caseID,
		"sessions", sessions,
		"remaining", b.RemainingSessions,
	)
	l.metrics.ObserveLedgerOp("use", "applied")
	return nil
}

// Return gives sessions back to the bundle for the case. Without an
// outstanding Use entry for the pair it is a successful no-op, and a pair is
// only ever returned once per Use: outstanding balance is the sum of Use
// sessions minus the sum of Return sessions, not mere entry existence.
func (l *Ledger) Return(ctx context.Context, tx pgx.Tx, bundleID, caseID uuid.UUID, sessions int, actor identity.Actor) error {
	if sessions <= 0 {
		return fmt.Errorf("ledger: return requires a positive session count, got %d", sessions)
	}

	b, err := l.repo.GetBundleForUpdate(ctx, tx, bundleID)
	if err != nil {
		return err
	}

	_, usedSessions, _, returnedSessions, err := l.repo.JournalTotals(ctx, tx, bundleID, caseID)
	if err != nil {
		return err
	}
	outstanding := usedSessions - returnedSessions
	if outstanding <= 0 {
		l.logger.Debug("ledger return skipped, nothing outstanding",
			"bundle_code", b.Code, "case_id", caseID)
		l.metrics.ObserveLedgerOp("return", "noop")
		return nil
	}

	n := sessions
	if n > outstanding {
		n = outstanding
	}
	// Clamp: used never goes below zero even if counters drifted.
	if n > b.UsedSessions {
		n = b.UsedSessions
	}
	if n == 0 {
		l.metrics.ObserveLedgerOp("return", "noop")
		return nil
	}

	wasCompleted := b.Status == BundleCompleted
	b.UsedSessions -= n
	b.RemainingSessions += n
	if wasCompleted && b.RemainingSessions > 0 {
		b.Status = BundleActive
	}
	if err := l.repo.UpdateCounters(ctx, tx, b); err != nil {
		return err
	}

	entry := &JournalEntry{
		ID:        uuid.New(),
		BundleID:  bundleID,
		CaseID:    &caseID,
		Action:    ActionReturn,
		Sessions:  n,
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
	}
	if err := l.repo.AppendJournal(ctx, tx, entry); err != nil {
		return err
	}

	l.logger.Info("session returned",
		"bundle_code", b.Code,
		"case_id", caseID,
		"sessions", n,
		"remaining", b.RemainingSessions,
	)
	l.metrics.ObserveLedgerOp("return", "applied")
	return nil
}
