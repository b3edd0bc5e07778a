package aggregate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/crewlytics/crewsync/pkg/observability"
)

// RefreshResult reports what one refresh pass did
type RefreshResult struct {
	RowsWritten int64         `json:"rows_written"`
	Duration    time.Duration `json:"duration_ns"`
}

// Refresher recomputes trend aggregates from the base tables
type Refresher struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRefresher creates an aggregate refresher
func NewRefresher(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) *Refresher {
	return &Refresher{db: db, logger: logger, metrics: metrics}
}

// Scalar subqueries rather than joins: joining pairings, duty days and
// bid lines in one pass would fan out rows and skew the averages.
const refreshColumns = `
	SELECT per.id,
		(SELECT COUNT(*) FROM pairings p
			WHERE p.period_id = per.id AND p.deleted_at IS NULL),
		(SELECT COUNT(*) FROM bid_lines b
			WHERE b.period_id = per.id AND b.deleted_at IS NULL),
		(SELECT COUNT(*) FROM duty_days d
			JOIN pairings p ON p.id = d.pairing_id
			WHERE p.period_id = per.id AND d.deleted_at IS NULL AND p.deleted_at IS NULL),
		(SELECT COALESCE(ROUND(AVG(p.credit_hours), 2), 0) FROM pairings p
			WHERE p.period_id = per.id AND p.deleted_at IS NULL),
		(SELECT COALESCE(ROUND(AVG(p.block_hours), 2), 0) FROM pairings p
			WHERE p.period_id = per.id AND p.deleted_at IS NULL),
		(SELECT COALESCE(ROUND(AVG(b.days_off), 2), 0) FROM bid_lines b
			WHERE b.period_id = per.id AND b.deleted_at IS NULL),
		NOW()
	FROM periods per
	WHERE per.deleted_at IS NULL`

// Refresh recomputes the aggregate rows for one period, or for every
// non-deleted period when periodID is nil. The delete and insert share
// a transaction; concurrent readers see the old snapshot until commit.
// Back-to-back refreshes with no intervening writes produce identical
// derived columns; only computed_at, the refresh timestamp, differs.
func (r *Refresher) Refresh(ctx context.Context, periodID *int64) (*RefreshResult, error) {
	start := time.Now()
	scope := "all"
	if periodID != nil {
		scope = "period"
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin refresh transaction: %w", err)
	}
	defer tx.Rollback()

	insert := `INSERT INTO trend_aggregates
		(period_id, pairing_count, bid_line_count, total_duty_days,
		 avg_credit_hours, avg_block_hours, avg_days_off, computed_at)` + refreshColumns

	var result sql.Result
	if periodID == nil {
		if _, err = tx.ExecContext(ctx, `DELETE FROM trend_aggregates`); err != nil {
			return nil, fmt.Errorf("failed to clear aggregates: %w", err)
		}
		result, err = tx.ExecContext(ctx, insert)
	} else {
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM trend_aggregates WHERE period_id = $1`, *periodID); err != nil {
			return nil, fmt.Errorf("failed to clear aggregates for period %d: %w", *periodID, err)
		}
		result, err = tx.ExecContext(ctx, insert+` AND per.id = $1`, *periodID)
	}
	if err != nil {
		r.countRefresh("error")
		return nil, fmt.Errorf("failed to recompute aggregates: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		r.countRefresh("error")
		return nil, fmt.Errorf("failed to commit refresh: %w", err)
	}

	out := &RefreshResult{RowsWritten: rows, Duration: time.Since(start)}
	r.countRefresh("ok")
	if r.metrics != nil {
		r.metrics.RefreshDuration.Observe(out.Duration.Seconds())
		r.metrics.RefreshRows.Set(float64(rows))
	}
	if r.logger != nil {
		r.logger.WithFields(map[string]interface{}{
			"scope":        scope,
			"rows_written": rows,
			"duration_ms":  out.Duration.Milliseconds(),
		}).Info("aggregate refresh finished")
	}
	return out, nil
}

func (r *Refresher) countRefresh(status string) {
	if r.metrics != nil {
		r.metrics.RefreshTotal.WithLabelValues(status).Inc()
	}
}
