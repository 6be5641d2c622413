package analytics

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-inference-billing/internal/history"
	"github.com/0gfoundation/0g-inference-billing/internal/revenue"
)

const (
	walletA = "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa"
	walletB = "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"
	payer1  = "0x1111111111111111111111111111111111111111"
	payer2  = "0x2222222222222222222222222222222222222222"
)

func newService(t *testing.T) (*Service, *history.Store) {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "analytics.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, revenue.DefaultMarketplaceBps, zap.NewNop()), store
}

func seedModel(t *testing.T, store *history.Store, id, owner, creator string, royalty int) {
	t.Helper()
	require.NoError(t, store.UpsertModel(context.Background(), history.Model{
		ID: id, Name: "Model " + id, Owner: owner, Creator: creator, RoyaltyBps: royalty,
	}))
}

func record(t *testing.T, store *history.Store, model, payer string, amount, latency int64, at time.Time) {
	t.Helper()
	_, err := store.Record(context.Background(), history.Event{
		ModelID: model, Payer: payer, Amount: big.NewInt(amount), LatencyMs: latency, CreatedAt: at,
	})
	require.NoError(t, err)
}

// ── creatorStats ────────────────────────────────────────────────────────────

func TestCreatorStats_OwnerAndCreatorShares(t *testing.T) {
	svc, store := newService(t)
	seedModel(t, store, "7", walletA, walletB, 1000)
	record(t, store, "7", payer1, 1_000_000, 100, time.Now().Add(-time.Hour))

	a, err := svc.CreatorStats(context.Background(), walletA)
	require.NoError(t, err)
	require.Len(t, a.Models, 1)
	require.Equal(t, int64(800_000), a.Models[0].RevenueUnits.Int64())
	require.Equal(t, int64(800_000), a.RevenueUnits.Int64())
	require.Equal(t, "0.800000", a.TotalRevenue)
	require.Equal(t, "1000000", a.TotalRevenueRaw)

	b, err := svc.CreatorStats(context.Background(), walletB)
	require.NoError(t, err)
	require.Equal(t, int64(100_000), b.RevenueUnits.Int64())
	require.Equal(t, "Model 7", b.Models[0].ModelName)
}

func TestCreatorStats_NoModels(t *testing.T) {
	svc, _ := newService(t)
	st, err := svc.CreatorStats(context.Background(), walletA)
	require.NoError(t, err)
	require.Empty(t, st.Models)
	require.Equal(t, int64(0), st.RevenueUnits.Int64())
	require.Equal(t, "0.000000", st.TotalRevenue)
}

func TestCreatorStats_WeightsLatencyByCount(t *testing.T) {
	svc, store := newService(t)
	seedModel(t, store, "1", walletA, walletA, 0)
	seedModel(t, store, "2", walletA, walletA, 0)
	now := time.Now()
	// model 1: three calls at 100ms; model 2: one call at 500ms
	for i := 0; i < 3; i++ {
		record(t, store, "1", payer1, 10, 100, now.Add(-time.Duration(i+1)*time.Minute))
	}
	record(t, store, "2", payer2, 10, 500, now.Add(-time.Minute))

	st, err := svc.CreatorStats(context.Background(), walletA)
	require.NoError(t, err)
	require.Equal(t, int64(4), st.TotalInferences)
	require.Equal(t, int64(2), st.UniqueUsers)
	// (3*100 + 1*500) / 4, not (100 + 500) / 2
	require.Equal(t, int64(200), st.AvgLatencyMs)
}

// ── modelStats ──────────────────────────────────────────────────────────────

func TestModelStats(t *testing.T) {
	svc, store := newService(t)
	seedModel(t, store, "7", walletA, walletB, 1000)
	record(t, store, "7", payer1, 1_000_000, 0, time.Now().Add(-time.Hour))

	gross, err := svc.ModelStats(context.Background(), "7", "")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), gross.RevenueUnits.Int64())

	share, err := svc.ModelStats(context.Background(), "7", walletB)
	require.NoError(t, err)
	require.Equal(t, int64(100_000), share.RevenueUnits.Int64())

	none, err := svc.ModelStats(context.Background(), "404", "")
	require.NoError(t, err)
	require.Nil(t, none)
}

// ── userSpendingStats ───────────────────────────────────────────────────────

func TestUserSpendingStats(t *testing.T) {
	svc, store := newService(t)
	now := time.Now()
	record(t, store, "1", payer1, 10_000, 100, now.Add(-3*time.Minute))
	record(t, store, "1", payer1, 10_000, 300, now.Add(-2*time.Minute))
	record(t, store, "2", payer1, 50_000, 0, now.Add(-1*time.Minute))
	record(t, store, "2", payer2, 99_999, 0, now.Add(-1*time.Minute))

	st, err := svc.UserSpendingStats(context.Background(), payer1)
	require.NoError(t, err)
	require.Equal(t, int64(70_000), st.SpentUnits.Int64())
	require.Equal(t, "0.070000", st.TotalSpent)
	require.Equal(t, int64(3), st.TotalInferences)
	require.Equal(t, 2, st.ModelsUsed)
	require.Equal(t, "2", st.Models[0].ModelID, "highest spend first")
	require.Equal(t, int64(200), st.AvgLatencyMs)
}

// ── time series ─────────────────────────────────────────────────────────────

func TestTimeSeries_CreatorRevenueIsPerModelThenSummed(t *testing.T) {
	svc, store := newService(t)
	seedModel(t, store, "1", walletA, walletA, 0)    // A keeps 90%
	seedModel(t, store, "2", walletA, walletB, 2000) // A keeps 70%
	seedModel(t, store, "3", walletB, walletB, 0)    // not A's
	at := time.Now().Add(-time.Minute)
	record(t, store, "1", payer1, 1_000_000, 0, at)
	record(t, store, "2", payer2, 1_000_000, 0, at)
	record(t, store, "3", payer2, 1_000_000, 0, at)

	series, err := svc.TimeSeries(context.Background(), SeriesFilter{CreatorWallet: walletA, Days: 7})
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Equal(t, int64(1_600_000), series[0].RevenueUnits.Int64())
	require.Equal(t, int64(2), series[0].Inferences)
	require.Equal(t, int64(2), series[0].UniqueUsers)
	require.Equal(t, "1.600000", series[0].Revenue)
}

func TestTimeSeries_GrossAndWindow(t *testing.T) {
	svc, store := newService(t)
	now := time.Now()
	record(t, store, "1", payer1, 100, 0, now.Add(-time.Minute))
	record(t, store, "2", payer1, 200, 0, now.Add(-time.Minute))
	record(t, store, "1", payer1, 400, 0, now.Add(-10*24*time.Hour))

	all, err := svc.TimeSeries(context.Background(), SeriesFilter{Days: 30})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.True(t, all[0].Date < all[1].Date, "ascending dates")

	recent, err := svc.TimeSeries(context.Background(), SeriesFilter{ModelID: "1", Days: 7})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, int64(100), recent[0].RevenueUnits.Int64())
}

func TestUserTimeSeries(t *testing.T) {
	svc, store := newService(t)
	now := time.Now()
	record(t, store, "1", payer1, 100, 0, now.Add(-time.Minute))
	record(t, store, "2", payer1, 200, 0, now.Add(-time.Minute))
	record(t, store, "2", payer2, 999, 0, now.Add(-time.Minute))

	series, err := svc.UserTimeSeries(context.Background(), payer1, 0)
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Equal(t, int64(300), series[0].RevenueUnits.Int64())
	require.Equal(t, int64(1), series[0].UniqueUsers)
}

func TestHistoricalAggregates_ByCreator(t *testing.T) {
	svc, store := newService(t)
	seedModel(t, store, "1", walletA, walletA, 0)
	seedModel(t, store, "2", walletB, walletB, 0)
	old := time.Now().Add(-200 * 24 * time.Hour)
	record(t, store, "1", payer1, 100, 0, old)
	record(t, store, "2", payer1, 200, 0, old)
	_, err := store.Retain(context.Background(), 90)
	require.NoError(t, err)

	mine, err := svc.HistoricalAggregates(context.Background(), HistoricalFilter{CreatorWallet: walletA})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, int64(100), mine[0].RevenueUnits.Int64())

	nobody, err := svc.HistoricalAggregates(context.Background(), HistoricalFilter{CreatorWallet: payer2})
	require.NoError(t, err)
	require.Empty(t, nobody)

	all, err := svc.HistoricalAggregates(context.Background(), HistoricalFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, int64(300), all[0].RevenueUnits.Int64())
}
