package history

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/0gfoundation/0g-inference-billing/internal/x402"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat defaults to JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

var ErrWalletRequired = errors.New("wallet is required")

// ExportFilter selects a payer's history for export. Start and End are
// inclusive; zero means unbounded.
type ExportFilter struct {
	Wallet  string
	ModelID string
	Start   time.Time
	End     time.Time
	Limit   int
}

// ExportRecord is one exported row. AmountUSDC is a 6-place fixed-point
// string derived from integer base units.
type ExportRecord struct {
	ID          string  `json:"id"`
	Date        string  `json:"date"`
	ModelID     string  `json:"modelId"`
	ModelName   string  `json:"modelName"`
	AgentID     int64   `json:"agentId"`
	Input       string  `json:"input"`
	Output      string  `json:"output"`
	AmountUSDC  string  `json:"amountUsdc"`
	TxHash      *string `json:"txHash"`
	ExplorerURL *string `json:"explorerUrl"`
	LatencyMs   *int64  `json:"latencyMs"`
}

// Export returns the wallet's records, newest first, capped at MaxExportLimit.
func (s *Store) Export(ctx context.Context, f ExportFilter) ([]ExportRecord, error) {
	if f.Wallet == "" {
		return nil, ErrWalletRequired
	}
	conds := []string{"payer_wallet = ?"}
	args := []any{strings.ToLower(f.Wallet)}
	if f.ModelID != "" {
		conds = append(conds, "model_id = ?")
		args = append(args, f.ModelID)
	}
	if !f.Start.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, toMillis(f.Start))
	}
	if !f.End.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, toMillis(f.End))
	}
	args = append(args, ClampLimit(f.Limit, DefaultExportLimit, MaxExportLimit))

	rows, err := s.db.QueryContext(ctx, `
SELECT id, created_at, model_id, model_name, agent_id, input_preview, output_preview,
       amount_usdc, tx_hash, chain_id, latency_ms
FROM inference_history
WHERE `+strings.Join(conds, " AND ")+`
ORDER BY created_at DESC, id DESC
LIMIT ?`, args...)
	if err != nil {
		return nil, queryErr("export", err)
	}
	defer rows.Close()

	out := []ExportRecord{}
	for rows.Next() {
		var (
			r         ExportRecord
			createdAt int64
			amount    int64
			chainID   int64
			txHash    sql.NullString
			latency   sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &createdAt, &r.ModelID, &r.ModelName, &r.AgentID, &r.Input, &r.Output,
			&amount, &txHash, &chainID, &latency); err != nil {
			return nil, queryErr("scan export", err)
		}
		r.Date = fromMillis(createdAt).Format(time.RFC3339)
		if r.ModelName == "" {
			r.ModelName = "Model #" + r.ModelID
		}
		r.AmountUSDC = x402.FormatFixed(big.NewInt(amount), x402.USDCDecimals)
		if txHash.Valid {
			tx := txHash.String
			r.TxHash = &tx
			r.ExplorerURL = s.explorerURL(&tx, chainID)
		}
		if latency.Valid {
			l := latency.Int64
			r.LatencyMs = &l
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("export", err)
	}
	return out, nil
}

var csvHeader = []string{
	"Date", "Model ID", "Model Name", "Agent ID", "Input", "Output", "Amount (USDC)", "TX Hash", "Latency (ms)",
}

// WriteCSV writes records with every field quoted and embedded quotes doubled.
func WriteCSV(w io.Writer, recs []ExportRecord) error {
	bw := bufio.NewWriter(w)
	writeCSVRow(bw, csvHeader)
	for _, r := range recs {
		agent := ""
		if r.AgentID != 0 {
			agent = strconv.FormatInt(r.AgentID, 10)
		}
		tx := ""
		if r.TxHash != nil {
			tx = *r.TxHash
		}
		latency := ""
		if r.LatencyMs != nil {
			latency = strconv.FormatInt(*r.LatencyMs, 10)
		}
		writeCSVRow(bw, []string{r.Date, r.ModelID, r.ModelName, agent, r.Input, r.Output, r.AmountUSDC, tx, latency})
	}
	return bw.Flush()
}

func writeCSVRow(w *bufio.Writer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteByte('"')
		w.WriteString(strings.ReplaceAll(f, `"`, `""`))
		w.WriteByte('"')
	}
	w.WriteByte('\n')
}
