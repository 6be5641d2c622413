package analytics

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/0gfoundation/0g-inference-billing/internal/history"
)

// SeriesFilter scopes a time series. CreatorWallet wins over ModelID.
type SeriesFilter struct {
	ModelID       string
	CreatorWallet string
	Days          int
}

func (s *Service) since(days int) time.Time {
	if days <= 0 {
		days = DefaultDays
	}
	return s.store.Now().Add(-time.Duration(days) * 24 * time.Hour)
}

func point(b history.DailyBucket) UsagePoint {
	return UsagePoint{
		Date:         b.Date,
		Inferences:   b.Count,
		Revenue:      usdc(b.Gross),
		RevenueUnits: b.Gross,
		UniqueUsers:  b.UniqueUsers,
	}
}

// TimeSeries returns daily usage. For a creator wallet each day's revenue
// is the sum of per-model shares, since models carry different splits.
// Otherwise revenue is gross.
func (s *Service) TimeSeries(ctx context.Context, f SeriesFilter) ([]UsagePoint, error) {
	since := s.since(f.Days)
	if f.CreatorWallet != "" {
		return s.creatorSeries(ctx, f.CreatorWallet, since)
	}

	var ids []string
	if f.ModelID != "" {
		ids = []string{f.ModelID}
	}
	buckets, err := s.store.Daily(ctx, ids, since)
	if err != nil {
		return nil, err
	}
	out := make([]UsagePoint, len(buckets))
	for i, b := range buckets {
		out[i] = point(b)
	}
	return out, nil
}

func (s *Service) creatorSeries(ctx context.Context, wallet string, since time.Time) ([]UsagePoint, error) {
	models, err := s.store.ModelsFor(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return []UsagePoint{}, nil
	}
	splits := make(map[string]history.Model, len(models))
	ids := make([]string, len(models))
	for i, m := range models {
		splits[m.ID] = m
		ids[i] = m.ID
	}

	perModel, err := s.store.DailyPerModel(ctx, ids, since)
	if err != nil {
		return nil, err
	}
	daily, err := s.store.Daily(ctx, ids, since)
	if err != nil {
		return nil, err
	}
	users := make(map[string]int64, len(daily))
	for _, d := range daily {
		users[d.Date] = d.UniqueUsers
	}

	byDate := make(map[string]*UsagePoint)
	for _, b := range perModel {
		var share *big.Int
		if m, ok := splits[b.ModelID]; ok {
			share = s.calc.ShareOf(wallet, b.Gross, m.Split())
		} else {
			share = s.calc.DefaultShare(b.Gross)
		}
		p, ok := byDate[b.Date]
		if !ok {
			p = &UsagePoint{Date: b.Date, RevenueUnits: new(big.Int), UniqueUsers: users[b.Date]}
			byDate[b.Date] = p
		}
		p.Inferences += b.Count
		p.RevenueUnits.Add(p.RevenueUnits, share)
	}

	out := make([]UsagePoint, 0, len(byDate))
	for _, p := range byDate {
		p.Revenue = usdc(p.RevenueUnits)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// UserTimeSeries is a payer's daily spend. Unique users is always 1.
func (s *Service) UserTimeSeries(ctx context.Context, wallet string, days int) ([]UsagePoint, error) {
	buckets, err := s.store.DailyForPayer(ctx, wallet, s.since(days))
	if err != nil {
		return nil, err
	}
	out := make([]UsagePoint, len(buckets))
	for i, b := range buckets {
		out[i] = point(b)
		out[i].UniqueUsers = 1
	}
	return out, nil
}

// HistoricalFilter scopes compacted history. ModelID wins over CreatorWallet.
// Dates are YYYY-MM-DD, inclusive.
type HistoricalFilter struct {
	ModelID       string
	CreatorWallet string
	StartDate     string
	EndDate       string
}

// HistoricalAggregates reads daily totals from compacted history. Revenue is
// gross.
func (s *Service) HistoricalAggregates(ctx context.Context, f HistoricalFilter) ([]UsagePoint, error) {
	af := history.AggregateFilter{StartDate: f.StartDate, EndDate: f.EndDate}
	switch {
	case f.ModelID != "":
		af.ModelIDs = []string{f.ModelID}
	case f.CreatorWallet != "":
		models, err := s.store.ModelsFor(ctx, f.CreatorWallet)
		if err != nil {
			return nil, err
		}
		if len(models) == 0 {
			return []UsagePoint{}, nil
		}
		for _, m := range models {
			af.ModelIDs = append(af.ModelIDs, m.ID)
		}
	}
	buckets, err := s.store.Aggregates(ctx, af)
	if err != nil {
		return nil, err
	}
	out := make([]UsagePoint, len(buckets))
	for i, b := range buckets {
		out[i] = point(b)
	}
	return out, nil
}
