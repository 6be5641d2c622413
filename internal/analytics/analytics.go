// Package analytics builds creator and payer dashboards from inference
// history, applying each model's revenue split to its gross revenue.
package analytics

import (
	"context"
	"errors"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-inference-billing/internal/history"
	"github.com/0gfoundation/0g-inference-billing/internal/revenue"
	"github.com/0gfoundation/0g-inference-billing/internal/x402"
)

const DefaultDays = 30

// Service answers dashboard queries.
type Service struct {
	store *history.Store
	calc  revenue.Calculator
	log   *zap.Logger
}

func New(store *history.Store, marketplaceBps int, log *zap.Logger) *Service {
	return &Service{store: store, calc: revenue.NewCalculator(marketplaceBps), log: log}
}

// ModelStats is one model's activity. Revenue is the viewing wallet's share
// when a wallet is given, gross otherwise.
type ModelStats struct {
	ModelID         string     `json:"modelId"`
	ModelName       string     `json:"modelName"`
	AgentID         int64      `json:"agentId"`
	TotalRevenue    string     `json:"totalRevenue"`
	RevenueUnits    *big.Int   `json:"revenueUnits"`
	TotalRevenueRaw string     `json:"totalRevenueRaw"`
	InferenceCount  int64      `json:"inferenceCount"`
	UniqueUsers     int64      `json:"uniqueUsers"`
	AvgLatencyMs    int64      `json:"avgLatencyMs"`
	LastUsedAt      *time.Time `json:"lastUsedAt"`
}

type CreatorStats struct {
	TotalRevenue    string       `json:"totalRevenue"`
	RevenueUnits    *big.Int     `json:"revenueUnits"`
	TotalRevenueRaw string       `json:"totalRevenueRaw"`
	TotalInferences int64        `json:"totalInferences"`
	UniqueUsers     int64        `json:"uniqueUsers"`
	AvgLatencyMs    int64        `json:"avgLatencyMs"`
	Models          []ModelStats `json:"models"`
}

type UserModelUsage struct {
	ModelID        string     `json:"modelId"`
	ModelName      string     `json:"modelName"`
	AgentID        int64      `json:"agentId"`
	TotalSpent     string     `json:"totalSpent"`
	SpentUnits     *big.Int   `json:"spentUnits"`
	InferenceCount int64      `json:"inferenceCount"`
	AvgLatencyMs   int64      `json:"avgLatencyMs"`
	LastUsedAt     *time.Time `json:"lastUsedAt"`
}

type UserSpendingStats struct {
	TotalSpent      string           `json:"totalSpent"`
	SpentUnits      *big.Int         `json:"spentUnits"`
	TotalInferences int64            `json:"totalInferences"`
	ModelsUsed      int              `json:"modelsUsed"`
	AvgLatencyMs    int64            `json:"avgLatencyMs"`
	Models          []UserModelUsage `json:"models"`
}

// UsagePoint is one day of a time series.
type UsagePoint struct {
	Date         string   `json:"date"`
	Inferences   int64    `json:"inferences"`
	Revenue      string   `json:"revenue"`
	RevenueUnits *big.Int `json:"revenueUnits"`
	UniqueUsers  int64    `json:"uniqueUsers"`
}

func usdc(units *big.Int) string {
	return x402.FormatFixed(units, x402.USDCDecimals)
}

// weightedLatency accumulates per-model mean latencies weighted by call
// count. Models without latency samples are skipped.
type weightedLatency struct {
	sum   float64
	count int64
}

func (w *weightedLatency) add(avg float64, n int64) {
	if avg <= 0 || n <= 0 {
		return
	}
	w.sum += avg * float64(n)
	w.count += n
}

func (w weightedLatency) mean() int64 {
	if w.count == 0 {
		return 0
	}
	return int64(math.Round(w.sum / float64(w.count)))
}

// ── Creator ─────────────────────────────────────────────────────────────────

// CreatorStats sums the wallet's share over every model it owns or created.
// Shares are computed per model with that model's own split.
func (s *Service) CreatorStats(ctx context.Context, wallet string) (*CreatorStats, error) {
	out := &CreatorStats{
		TotalRevenue:    usdc(nil),
		RevenueUnits:    new(big.Int),
		TotalRevenueRaw: "0",
		Models:          []ModelStats{},
	}

	models, err := s.store.ModelsFor(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return out, nil
	}
	splits := make(map[string]history.Model, len(models))
	ids := make([]string, len(models))
	for i, m := range models {
		splits[m.ID] = m
		ids[i] = m.ID
	}

	totals, err := s.store.ModelTotals(ctx, ids)
	if err != nil {
		return nil, err
	}

	gross := new(big.Int)
	var lat weightedLatency
	for _, t := range totals {
		var share *big.Int
		m, ok := splits[t.ModelID]
		if ok {
			share = s.calc.ShareOf(wallet, t.Gross, m.Split())
		} else {
			share = s.calc.DefaultShare(t.Gross)
		}
		name := t.ModelName
		if ok && m.Name != "" && name == "Model #"+t.ModelID {
			name = m.Name
		}

		out.RevenueUnits.Add(out.RevenueUnits, share)
		gross.Add(gross, t.Gross)
		out.TotalInferences += t.Count
		lat.add(t.AvgLatencyMs, t.Count)

		out.Models = append(out.Models, ModelStats{
			ModelID:         t.ModelID,
			ModelName:       name,
			AgentID:         t.AgentID,
			TotalRevenue:    usdc(share),
			RevenueUnits:    share,
			TotalRevenueRaw: t.Gross.String(),
			InferenceCount:  t.Count,
			UniqueUsers:     t.UniqueUsers,
			AvgLatencyMs:    int64(math.Round(t.AvgLatencyMs)),
			LastUsedAt:      t.LastUsedAt,
		})
	}

	users, err := s.store.DistinctPayers(ctx, ids)
	if err != nil {
		return nil, err
	}

	out.TotalRevenue = usdc(out.RevenueUnits)
	out.TotalRevenueRaw = gross.String()
	out.UniqueUsers = users
	out.AvgLatencyMs = lat.mean()
	return out, nil
}

// ModelStats returns nil when the model has no live history. With a wallet,
// revenue is that wallet's share; without one it is gross.
func (s *Service) ModelStats(ctx context.Context, modelID, wallet string) (*ModelStats, error) {
	totals, err := s.store.ModelTotals(ctx, []string{modelID})
	if err != nil {
		return nil, err
	}
	if len(totals) == 0 {
		return nil, nil
	}
	t := totals[0]

	m, err := s.store.GetModel(ctx, modelID)
	if err != nil && !errors.Is(err, history.ErrModelNotFound) {
		return nil, err
	}

	rev := t.Gross
	if wallet != "" && m != nil {
		rev = s.calc.ShareOf(wallet, t.Gross, m.Split())
	}
	name := t.ModelName
	if m != nil && m.Name != "" && name == "Model #"+t.ModelID {
		name = m.Name
	}
	return &ModelStats{
		ModelID:         t.ModelID,
		ModelName:       name,
		AgentID:         t.AgentID,
		TotalRevenue:    usdc(rev),
		RevenueUnits:    rev,
		TotalRevenueRaw: t.Gross.String(),
		InferenceCount:  t.Count,
		UniqueUsers:     t.UniqueUsers,
		AvgLatencyMs:    int64(math.Round(t.AvgLatencyMs)),
		LastUsedAt:      t.LastUsedAt,
	}, nil
}

// ── Payer ───────────────────────────────────────────────────────────────────

// UserSpendingStats sums what the wallet has paid, per model.
func (s *Service) UserSpendingStats(ctx context.Context, wallet string) (*UserSpendingStats, error) {
	totals, err := s.store.PayerTotals(ctx, wallet)
	if err != nil {
		return nil, err
	}
	out := &UserSpendingStats{SpentUnits: new(big.Int), Models: []UserModelUsage{}}
	var lat weightedLatency
	for _, t := range totals {
		out.SpentUnits.Add(out.SpentUnits, t.Gross)
		out.TotalInferences += t.Count
		lat.add(t.AvgLatencyMs, t.Count)
		out.Models = append(out.Models, UserModelUsage{
			ModelID:        t.ModelID,
			ModelName:      t.ModelName,
			AgentID:        t.AgentID,
			TotalSpent:     usdc(t.Gross),
			SpentUnits:     t.Gross,
			InferenceCount: t.Count,
			AvgLatencyMs:   int64(math.Round(t.AvgLatencyMs)),
			LastUsedAt:     t.LastUsedAt,
		})
	}
	out.TotalSpent = usdc(out.SpentUnits)
	out.ModelsUsed = len(out.Models)
	out.AvgLatencyMs = lat.mean()
	return out, nil
}
