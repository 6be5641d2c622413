package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-inference-billing/internal/x402"
)

// Filter narrows a history query. Zero values mean "any".
type Filter struct {
	ModelID string
	Payer   string
	AgentID int64
	Limit   int
}

// ClampLimit applies the default and the silent upper bound.
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// Query returns matching records, newest first. Limit is clamped to
// MaxQueryLimit.
func (s *Store) Query(ctx context.Context, f Filter) ([]Record, error) {
	var (
		conds []string
		args  []any
	)
	if f.ModelID != "" {
		conds = append(conds, "model_id = ?")
		args = append(args, f.ModelID)
	}
	if f.Payer != "" {
		conds = append(conds, "payer_wallet = ?")
		args = append(args, strings.ToLower(f.Payer))
	}
	if f.AgentID != 0 {
		conds = append(conds, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, ClampLimit(f.Limit, DefaultQueryLimit, MaxQueryLimit))

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s
FROM inference_history
%s
ORDER BY created_at DESC, id DESC
LIMIT ?`, recordColumns, where), args...)
	if err != nil {
		return nil, queryErr("history", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, queryErr("scan history", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("history", err)
	}
	return out, nil
}

// View is a Record decorated for the history UI.
type View struct {
	Record
	AmountFormatted string  `json:"amountFormatted"`
	TimeAgo         string  `json:"timeAgo"`
	ExplorerURL     *string `json:"explorerUrl"`
}

// QueryForUI is Query plus display fields.
func (s *Store) QueryForUI(ctx context.Context, f Filter) ([]View, error) {
	recs, err := s.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]View, len(recs))
	for i, r := range recs {
		out[i] = View{
			Record:          r,
			AmountFormatted: x402.FormatUSDC(r.AmountUnits()),
			TimeAgo:         TimeAgo(r.CreatedAt, now),
			ExplorerURL:     s.explorerURL(r.TxHash, r.ChainID),
		}
	}
	return out, nil
}

// explorerURL returns nil when there is no tx or the chain is unknown.
func (s *Store) explorerURL(txHash *string, chainID int64) *string {
	if txHash == nil || *txHash == "" {
		return nil
	}
	u, err := x402.ExplorerTxURL(*txHash, chainID)
	if err != nil {
		s.log.Warn("history: no explorer for chain", zap.Int64("chain_id", chainID), zap.Error(err))
		return nil
	}
	return &u
}

// TimeAgo renders a coarse relative time such as "5m ago".
func TimeAgo(t, now time.Time) string {
	secs := int64(now.Sub(t) / time.Second)
	if secs < 0 {
		secs = 0
	}
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds ago", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm ago", secs/60)
	case secs < 86400:
		return fmt.Sprintf("%dh ago", secs/3600)
	default:
		return fmt.Sprintf("%dd ago", secs/86400)
	}
}
