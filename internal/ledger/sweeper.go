package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rehabflow/clinic-platform/pkg/logging"
)

// ExpirySweeper periodically flips active bundles past their expiry date to
// expired, so stale bundles stop funding new acceptances even when nothing
// touches them. Already-deducted sessions are untouched.
type ExpirySweeper struct {
	db       Querier
	logger   *logging.Logger
	interval time.Duration
	now      func() time.Time
}

// NewExpirySweeper creates the sweeper with a default 10 minute interval.
func NewExpirySweeper(db Querier, logger *logging.Logger) *ExpirySweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &ExpirySweeper{
		db:       db,
		logger:   logger,
		interval: 10 * time.Minute,
		now:      time.Now,
	}
}

// WithInterval overrides the sweep interval.
func (s *ExpirySweeper) WithInterval(d time.Duration) *ExpirySweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

// Run sweeps once immediately, then on every tick until ctx is canceled.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ExpirySweeper) sweep(ctx context.Context) {
	n, err := s.SweepOnce(ctx)
	if err != nil {
		s.logger.Error("bundle expiry sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("expired bundles", "count", n)
	}
}

// SweepOnce expires all overdue active bundles and returns how many flipped.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE session_bundles
		SET status = 'expired', updated_at = now()
		WHERE status = 'active'
			AND expires_at IS NOT NULL
			AND expires_at < $1
	`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("ledger: expire bundles: %w", err)
	}
	return tag.RowsAffected(), nil
}
