package revenue

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	walletA = "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa"
	walletB = "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"
	walletC = "0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC"
)

// ── Scenario: owner 0xA, creator 0xB, 10% royalty, 10% fee ──────────────────

func TestShareOf_DistinctOwnerCreator(t *testing.T) {
	cfg := SplitConfig{Owner: walletA, Creator: walletB, RoyaltyBps: 1000}
	gross := big.NewInt(1_000_000)

	require.Equal(t, int64(800_000), ShareOf(walletA, gross, cfg, 1000).Int64())
	require.Equal(t, int64(100_000), ShareOf(walletB, gross, cfg, 1000).Int64())
	require.Equal(t, int64(0), ShareOf(walletC, gross, cfg, 1000).Int64())
}

func TestShareOf_CaseInsensitive(t *testing.T) {
	cfg := SplitConfig{Owner: walletA, Creator: walletB, RoyaltyBps: 500}
	gross := big.NewInt(1_000_000)
	lower := ShareOf("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", gross, cfg, 1000)
	require.Equal(t, int64(850_000), lower.Int64())
}

func TestShareOf_SameParty(t *testing.T) {
	cfg := SplitConfig{Owner: walletA, Creator: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", RoyaltyBps: 2000}
	gross := big.NewInt(1_000_000)

	// royalty is ignored when owner == creator
	require.Equal(t, int64(900_000), ShareOf(walletA, gross, cfg, 1000).Int64())
	require.Equal(t, int64(0), ShareOf(walletC, gross, cfg, 1000).Int64())
}

func TestShareOf_ZeroAndNil(t *testing.T) {
	cfg := SplitConfig{Owner: walletA, Creator: walletB, RoyaltyBps: 1000}
	require.Equal(t, int64(0), ShareOf(walletA, nil, cfg, 1000).Int64())
	require.Equal(t, int64(0), ShareOf(walletA, big.NewInt(0), cfg, 1000).Int64())
}

// ── Conservation: owner + creator + marketplace ≈ gross ─────────────────────

func TestShareOf_Conservation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		gross := big.NewInt(rng.Int63n(10_000_000_000))
		royalty := rng.Intn(MaxRoyaltyBps + 1)
		fee := rng.Intn(3001)
		cfg := SplitConfig{Owner: walletA, Creator: walletB, RoyaltyBps: royalty}

		sum := new(big.Int).Add(ShareOf(walletA, gross, cfg, fee), ShareOf(walletB, gross, cfg, fee))
		sum.Add(sum, MarketplaceCut(gross, fee))

		diff := new(big.Int).Sub(gross, sum)
		// Fee, royalty and owner share are floored separately. Each floor
		// loses under one unit, so the total can fall short by at most 2.
		require.True(t, diff.Sign() >= 0, "sum exceeds gross: gross=%s sum=%s", gross, sum)
		require.True(t, diff.Cmp(big.NewInt(2)) <= 0, "gross=%s sum=%s royalty=%d fee=%d", gross, sum, royalty, fee)
	}
}

func TestShareOf_ConservationExactOnRoundAmounts(t *testing.T) {
	for _, g := range []int64{10_000, 1_000_000, 123_450_000} {
		for _, royalty := range []int{0, 250, 1000, 2000} {
			gross := big.NewInt(g)
			cfg := SplitConfig{Owner: walletA, Creator: walletB, RoyaltyBps: royalty}
			sum := new(big.Int).Add(ShareOf(walletA, gross, cfg, 1000), ShareOf(walletB, gross, cfg, 1000))
			sum.Add(sum, MarketplaceCut(gross, 1000))
			require.Equal(t, gross.String(), sum.String())
		}
	}
}

func TestShareOf_SamePartyEqualsGrossMinusFee(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		gross := big.NewInt(rng.Int63n(1_000_000_000))
		fee := rng.Intn(3001)
		cfg := SplitConfig{Owner: walletA, Creator: walletA}
		want := new(big.Int).Mul(gross, big.NewInt(int64(MaxBps-fee)))
		want.Quo(want, big.NewInt(MaxBps))
		require.Equal(t, want.String(), ShareOf(walletA, gross, cfg, fee).String())
		require.Equal(t, "0", ShareOf(walletC, gross, cfg, fee).String())
	}
}

// ── Config ─────────────────────────────────────────────────────────────────

func TestSplitConfig_Validate(t *testing.T) {
	require.NoError(t, SplitConfig{RoyaltyBps: 0}.Validate())
	require.NoError(t, SplitConfig{RoyaltyBps: 2000}.Validate())
	require.Error(t, SplitConfig{RoyaltyBps: 2001}.Validate())
	require.Error(t, SplitConfig{RoyaltyBps: -1}.Validate())
}

func TestCalculator_DefaultShare(t *testing.T) {
	c := NewCalculator(DefaultMarketplaceBps)
	require.Equal(t, int64(900_000), c.DefaultShare(big.NewInt(1_000_000)).Int64())
}
