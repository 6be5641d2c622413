package history

import (
	"context"
	"database/sql"
	"math/big"
	"strings"
	"time"
)

// ModelTotal is the gross activity of one model over the live history.
type ModelTotal struct {
	ModelID      string
	ModelName    string
	AgentID      int64
	Gross        *big.Int
	Count        int64
	UniqueUsers  int64
	AvgLatencyMs float64
	LastUsedAt   *time.Time
}

// DailyBucket is one day of activity, optionally for a single model.
type DailyBucket struct {
	Date        string
	ModelID     string
	Count       int64
	Gross       *big.Int
	UniqueUsers int64
}

const modelTotalsSelect = `
SELECT model_id,
       MAX(model_name),
       MAX(agent_id),
       COALESCE(SUM(amount_usdc), 0),
       COUNT(*),
       COUNT(DISTINCT payer_wallet),
       COALESCE(AVG(latency_ms), 0),
       MAX(created_at)
FROM inference_history
`

func (s *Store) scanModelTotals(ctx context.Context, op, query string, args ...any) ([]ModelTotal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryErr(op, err)
	}
	defer rows.Close()

	var out []ModelTotal
	for rows.Next() {
		var (
			t     ModelTotal
			gross int64
			last  sql.NullInt64
		)
		if err := rows.Scan(&t.ModelID, &t.ModelName, &t.AgentID, &gross, &t.Count, &t.UniqueUsers,
			&t.AvgLatencyMs, &last); err != nil {
			return nil, queryErr("scan "+op, err)
		}
		t.Gross = big.NewInt(gross)
		if last.Valid {
			lu := fromMillis(last.Int64)
			t.LastUsedAt = &lu
		}
		if t.ModelName == "" {
			t.ModelName = "Model #" + t.ModelID
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr(op, err)
	}
	return out, nil
}

// ModelTotals groups live history by model for the given ids, highest
// revenue first.
func (s *Store) ModelTotals(ctx context.Context, modelIDs []string) ([]ModelTotal, error) {
	if len(modelIDs) == 0 {
		return nil, nil
	}
	in, args := inClause(modelIDs)
	return s.scanModelTotals(ctx, "model totals",
		modelTotalsSelect+"WHERE model_id IN "+in+"\nGROUP BY model_id\nORDER BY 4 DESC, model_id", args...)
}

// PayerTotals groups a payer's spending by model, highest spend first.
func (s *Store) PayerTotals(ctx context.Context, wallet string) ([]ModelTotal, error) {
	return s.scanModelTotals(ctx, "payer totals",
		modelTotalsSelect+"WHERE payer_wallet = ?\nGROUP BY model_id\nORDER BY 4 DESC, model_id", strings.ToLower(wallet))
}

// DistinctPayers counts unique payers across the given models.
func (s *Store) DistinctPayers(ctx context.Context, modelIDs []string) (int64, error) {
	if len(modelIDs) == 0 {
		return 0, nil
	}
	in, args := inClause(modelIDs)
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT payer_wallet) FROM inference_history WHERE model_id IN "+in, args...).Scan(&n)
	if err != nil {
		return 0, queryErr("distinct payers", err)
	}
	return n, nil
}

func (s *Store) scanDaily(ctx context.Context, op string, perModel bool, query string, args ...any) ([]DailyBucket, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryErr(op, err)
	}
	defer rows.Close()

	var out []DailyBucket
	for rows.Next() {
		var (
			b     DailyBucket
			gross int64
		)
		dest := []any{&b.Date}
		if perModel {
			dest = append(dest, &b.ModelID)
		}
		dest = append(dest, &b.Count, &gross, &b.UniqueUsers)
		if err := rows.Scan(dest...); err != nil {
			return nil, queryErr("scan "+op, err)
		}
		b.Gross = big.NewInt(gross)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr(op, err)
	}
	return out, nil
}

// DailyPerModel buckets the given models' history by (day, model) since t.
func (s *Store) DailyPerModel(ctx context.Context, modelIDs []string, since time.Time) ([]DailyBucket, error) {
	if len(modelIDs) == 0 {
		return nil, nil
	}
	in, args := inClause(modelIDs)
	args = append([]any{toMillis(since)}, args...)
	return s.scanDaily(ctx, "daily per model", true, `
SELECT `+dateExpr+` AS day, model_id, COUNT(*), COALESCE(SUM(amount_usdc), 0), COUNT(DISTINCT payer_wallet)
FROM inference_history
WHERE created_at >= ? AND model_id IN `+in+`
GROUP BY day, model_id
ORDER BY day ASC, model_id`, args...)
}

// Daily buckets history by day since t, across all models when modelIDs is
// empty.
func (s *Store) Daily(ctx context.Context, modelIDs []string, since time.Time) ([]DailyBucket, error) {
	where := "WHERE created_at >= ?"
	args := []any{toMillis(since)}
	if len(modelIDs) > 0 {
		in, idArgs := inClause(modelIDs)
		where += " AND model_id IN " + in
		args = append(args, idArgs...)
	}
	return s.scanDaily(ctx, "daily", false, `
SELECT `+dateExpr+` AS day, COUNT(*), COALESCE(SUM(amount_usdc), 0), COUNT(DISTINCT payer_wallet)
FROM inference_history
`+where+`
GROUP BY day
ORDER BY day ASC`, args...)
}

// DailyForPayer buckets a payer's spending by day since t.
func (s *Store) DailyForPayer(ctx context.Context, wallet string, since time.Time) ([]DailyBucket, error) {
	return s.scanDaily(ctx, "daily for payer", false, `
SELECT `+dateExpr+` AS day, COUNT(*), COALESCE(SUM(amount_usdc), 0), COUNT(DISTINCT payer_wallet)
FROM inference_history
WHERE payer_wallet = ? AND created_at >= ?
GROUP BY day
ORDER BY day ASC`, strings.ToLower(wallet), toMillis(since))
}

// AggregateFilter selects compacted history. Dates are YYYY-MM-DD, inclusive.
type AggregateFilter struct {
	ModelIDs  []string
	StartDate string
	EndDate   string
}

// Aggregates sums inference_aggregates by day. Unique users per day is the
// largest per-model count, an approximation.
func (s *Store) Aggregates(ctx context.Context, f AggregateFilter) ([]DailyBucket, error) {
	var (
		conds []string
		args  []any
	)
	if len(f.ModelIDs) > 0 {
		in, idArgs := inClause(f.ModelIDs)
		conds = append(conds, "model_id IN "+in)
		args = append(args, idArgs...)
	}
	if f.StartDate != "" {
		conds = append(conds, "date >= ?")
		args = append(args, f.StartDate)
	}
	if f.EndDate != "" {
		conds = append(conds, "date <= ?")
		args = append(args, f.EndDate)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	return s.scanDaily(ctx, "aggregates", false, `
SELECT date, SUM(inference_count), SUM(total_revenue), MAX(unique_users)
FROM inference_aggregates
`+where+`
GROUP BY date
ORDER BY date ASC`, args...)
}

// Now exposes the store clock so callers compute windows consistently.
func (s *Store) Now() time.Time { return s.now() }
