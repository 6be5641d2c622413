package history

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetainResult reports one retention run.
type RetainResult struct {
	RetentionDays   int   `json:"retentionDays"`
	DeletedCount    int64 `json:"deletedCount"`
	AggregatedCount int64 `json:"aggregatedCount"`
}

// Retain folds rows older than retentionDays into inference_aggregates and
// deletes them.
//
// Rows are first marked with aggregated_at, then only marked rows are folded
// and deleted, all in one transaction. A retried run therefore never folds
// the same row twice. Merging into an existing bucket sums count and revenue,
// keeps the larger unique-user count and averages the two latency means;
// the last two are approximations.
func (s *Store) Retain(ctx context.Context, retentionDays int) (RetainResult, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	res := RetainResult{RetentionDays: retentionDays}

	now := s.now()
	cutoff := toMillis(now.Add(-time.Duration(retentionDays) * 24 * time.Hour))
	runAt := toMillis(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("retain: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
UPDATE inference_history SET aggregated_at = ?
WHERE created_at < ? AND aggregated_at IS NULL`, runAt, cutoff); err != nil {
		return res, fmt.Errorf("retain: mark: %w", err)
	}

	agg, err := tx.ExecContext(ctx, `
INSERT INTO inference_aggregates
    (model_id, agent_id, date, inference_count, total_revenue, unique_users, avg_latency_ms)
SELECT model_id,
       MAX(agent_id),
       `+dateExpr+` AS day,
       COUNT(*),
       SUM(amount_usdc),
       COUNT(DISTINCT payer_wallet),
       COALESCE(AVG(latency_ms), 0)
FROM inference_history
WHERE aggregated_at = ?
GROUP BY model_id, day
ON CONFLICT (model_id, date) DO UPDATE SET
    inference_count = inference_count + excluded.inference_count,
    total_revenue   = total_revenue + excluded.total_revenue,
    unique_users    = MAX(unique_users, excluded.unique_users),
    avg_latency_ms  = (avg_latency_ms + excluded.avg_latency_ms) / 2`, runAt)
	if err != nil {
		return res, fmt.Errorf("retain: aggregate: %w", err)
	}
	if res.AggregatedCount, err = agg.RowsAffected(); err != nil {
		return res, fmt.Errorf("retain: aggregate count: %w", err)
	}

	del, err := tx.ExecContext(ctx, `
DELETE FROM inference_history
WHERE aggregated_at IS NOT NULL AND created_at < ?`, cutoff)
	if err != nil {
		return res, fmt.Errorf("retain: delete: %w", err)
	}
	if res.DeletedCount, err = del.RowsAffected(); err != nil {
		return res, fmt.Errorf("retain: delete count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("retain: commit: %w", err)
	}

	s.log.Info("retain: history compacted",
		zap.Int("retention_days", retentionDays),
		zap.Int64("aggregated", res.AggregatedCount),
		zap.Int64("deleted", res.DeletedCount),
	)
	return res, nil
}
