// Package ops serves the operational dashboard: live entity counts from the
// database joined with counter and latency snapshots read back from the
// prometheus registry. Read-only; nothing here participates in transitions.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/rehabflow/clinic-platform/internal/syncengine"
	"github.com/rehabflow/clinic-platform/pkg/logging"
)

type dashboardDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StatusCounts maps a status string to the number of rows in it.
type StatusCounts map[string]int64

// BundleTotals aggregates the session economy across all bundles.
type BundleTotals struct {
	Bundles           int64 `json:"bundles"`
	TotalSessions     int64 `json:"total_sessions"`
	UsedSessions      int64 `json:"used_sessions"`
	RemainingSessions int64 `json:"remaining_sessions"`
}

// LatencySnapshot summarizes the coordinator latency histogram.
type LatencySnapshot struct {
	Total int64   `json:"total"`
	P90Ms float64 `json:"p90_ms"`
	P95Ms float64 `json:"p95_ms"`
}

// Dashboard is the full operational snapshot.
type Dashboard struct {
	GeneratedAt        time.Time       `json:"generated_at"`
	Bookings           StatusCounts    `json:"bookings"`
	Cases              StatusCounts    `json:"cases"`
	Bundles            BundleTotals    `json:"bundles"`
	TransitionsTotal   int64           `json:"transitions_total"`
	InvalidTransitions int64           `json:"invalid_transitions"`
	LedgerOpsTotal     int64           `json:"ledger_ops_total"`
	SlotConflictsTotal int64           `json:"slot_conflicts_total"`
	TransitionLatency  LatencySnapshot `json:"transition_latency"`
}

// Repository queries entity counts for the dashboard.
type Repository struct {
	db dashboardDB
}

// NewRepository creates the dashboard repository.
func NewRepository(db dashboardDB) *Repository {
	if db == nil {
		panic("ops: db required")
	}
	return &Repository{db: db}
}

func (r *Repository) statusCounts(ctx context.Context, table string) (StatusCounts, error) {
	// table is one of two compile-time constants; never user input.
	rows, err := r.db.Query(ctx, `
		SELECT status, COUNT(*) FROM `+table+` GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("ops: count %s: %w", table, err)
	}
	defer rows.Close()

	counts := StatusCounts{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("ops: scan %s counts: %w", table, err)
		}
		counts[status] = n
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("ops: %s count rows: %w", table, rows.Err())
	}
	return counts, nil
}

// BookingCounts returns booking rows grouped by status.
func (r *Repository) BookingCounts(ctx context.Context) (StatusCounts, error) {
	return r.statusCounts(ctx, "bookings")
}

// CaseCounts returns case rows grouped by status.
func (r *Repository) CaseCounts(ctx context.Context) (StatusCounts, error) {
	return r.statusCounts(ctx, "referral_cases")
}

// BundleTotals sums the session counters across all bundles.
func (r *Repository) BundleTotals(ctx context.Context) (BundleTotals, error) {
	var t BundleTotals
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(total_sessions), 0),
			COALESCE(SUM(used_sessions), 0),
			COALESCE(SUM(remaining_sessions), 0)
		FROM session_bundles
	`).Scan(&t.Bundles, &t.TotalSessions, &t.UsedSessions, &t.RemainingSessions)
	if err != nil {
		return BundleTotals{}, fmt.Errorf("ops: bundle totals: %w", err)
	}
	return t, nil
}

// Handler serves the dashboard and recent-transitions endpoints.
type Handler struct {
	repo     *Repository
	gatherer prometheus.Gatherer
	recent   *syncengine.RecentLog
	logger   *logging.Logger
	now      func() time.Time
}

// NewHandler creates the ops HTTP handler.
func NewHandler(repo *Repository, gatherer prometheus.Gatherer, recent *syncengine.RecentLog, logger *logging.Logger) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		repo:     repo,
		gatherer: gatherer,
		recent:   recent,
		logger:   logger,
		now:      time.Now,
	}
}

// Routes returns the /ops router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/dashboard", h.GetDashboard)
	r.Get("/recent-transitions", h.GetRecentTransitions)
	return r
}

// GetDashboard handles GET /ops/dashboard.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bookings, err := h.repo.BookingCounts(ctx)
	if err != nil {
		h.fail(w, err)
		return
	}
	cases, err := h.repo.CaseCounts(ctx)
	if err != nil {
		h.fail(w, err)
		return
	}
	bundles, err := h.repo.BundleTotals(ctx)
	if err != nil {
		h.fail(w, err)
		return
	}

	d := Dashboard{
		GeneratedAt: h.now().UTC(),
		Bookings:    bookings,
		Cases:       cases,
		Bundles:     bundles,
	}
	h.fillFromRegistry(&d)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(d); err != nil {
		h.logger.Error("failed to encode dashboard", "error", err)
	}
}

// GetRecentTransitions handles GET /ops/recent-transitions.
func (h *Handler) GetRecentTransitions(w http.ResponseWriter, r *http.Request) {
	events := []syncengine.TransitionEvent{}
	if h.recent != nil {
		events = h.recent.Snapshot()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"transitions": events}); err != nil {
		h.logger.Error("failed to encode recent transitions", "error", err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	h.logger.Error("dashboard query failed", "error", err)
	http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
}

// fillFromRegistry reads the sync counters and the latency histogram back
// out of the prometheus registry.
func (h *Handler) fillFromRegistry(d *Dashboard) {
	mfs, err := h.gatherer.Gather()
	if err != nil {
		h.logger.Error("failed to gather metrics", "error", err)
		return
	}
	for _, mf := range mfs {
		switch mf.GetName() {
		case "rehabflow_sync_transitions_total":
			for _, m := range mf.Metric {
				n := int64(m.GetCounter().GetValue())
				d.TransitionsTotal += n
				if hasLabel(m, "outcome", "invalid") {
					d.InvalidTransitions += n
				}
			}
		case "rehabflow_ledger_operations_total":
			for _, m := range mf.Metric {
				d.LedgerOpsTotal += int64(m.GetCounter().GetValue())
			}
		case "rehabflow_scheduling_conflicts_total":
			for _, m := range mf.Metric {
				d.SlotConflictsTotal += int64(m.GetCounter().GetValue())
			}
		case "rehabflow_sync_transition_latency_seconds":
			d.TransitionLatency = snapshotLatency(mf)
		}
	}
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.Label {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

// snapshotLatency aggregates the histogram across triggers and estimates
// p90/p95 by linear interpolation within buckets.
func snapshotLatency(mf *dto.MetricFamily) LatencySnapshot {
	cumulativeByUpper := map[float64]uint64{}
	var sampleCount uint64
	for _, m := range mf.Metric {
		hist := m.GetHistogram()
		if hist == nil {
			continue
		}
		sampleCount += hist.GetSampleCount()
		for _, b := range hist.Bucket {
			cumulativeByUpper[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}
	if sampleCount == 0 {
		return LatencySnapshot{}
	}

	uppers := make([]float64, 0, len(cumulativeByUpper))
	for upper := range cumulativeByUpper {
		uppers = append(uppers, upper)
	}
	sort.Float64s(uppers)

	return LatencySnapshot{
		Total: int64(sampleCount),
		P90Ms: quantile(0.90, sampleCount, uppers, cumulativeByUpper) * 1000.0,
		P95Ms: quantile(0.95, sampleCount, uppers, cumulativeByUpper) * 1000.0,
	}
}

func quantile(q float64, total uint64, uppers []float64, cumulativeByUpper map[float64]uint64) float64 {
	target := q * float64(total)
	var prevUpper, prevCum float64

	for _, upper := range uppers {
		cum := float64(cumulativeByUpper[upper])
		if cum < target {
			prevUpper = upper
			prevCum = cum
			continue
		}
		bucketCount := cum - prevCum
		if bucketCount <= 0 || upper == prevUpper {
			return upper
		}
		if math.IsInf(upper, 1) {
			return prevUpper
		}
		fraction := (target - prevCum) / bucketCount
		return prevUpper + fraction*(upper-prevUpper)
	}
	if len(uppers) == 0 {
		return 0
	}
	return uppers[len(uppers)-1]
}
