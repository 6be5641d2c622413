// Package revenue splits gross inference revenue between the marketplace,
// an asset's owner and its original creator.
package revenue

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	MaxBps = 10_000

	// MaxRoyaltyBps caps the creator royalty at 20%.
	MaxRoyaltyBps = 2_000

	// DefaultMarketplaceBps is the marketplace fee (10%).
	DefaultMarketplaceBps = 1_000
)

// SplitConfig is the owner/creator/royalty configuration attached to a
// published model. It is written by the publishing workflow; this package
// only reads it.
type SplitConfig struct {
	Owner      string `json:"owner"`
	Creator    string `json:"creator"`
	RoyaltyBps int    `json:"royaltyBps"`
}

// Validate enforces 0 <= royaltyBps <= 2000.
func (c SplitConfig) Validate() error {
	if c.RoyaltyBps < 0 || c.RoyaltyBps > MaxRoyaltyBps {
		return fmt.Errorf("royaltyBps %d out of range [0,%d]", c.RoyaltyBps, MaxRoyaltyBps)
	}
	return nil
}

// SameParty reports whether owner and creator are the same wallet.
func (c SplitConfig) SameParty() bool {
	return strings.EqualFold(c.Owner, c.Creator)
}

// ShareOf returns wallet's share of gross in base units.
//
// When owner == creator the combined party gets gross minus the marketplace
// fee. Otherwise the owner gets gross minus royalty and fee, the creator gets
// the royalty, and a wallet that somehow matches both accumulates both.
// All arithmetic truncates toward zero on integer base units.
func ShareOf(wallet string, gross *big.Int, cfg SplitConfig, marketplaceBps int) *big.Int {
	share := new(big.Int)
	if gross == nil || gross.Sign() == 0 {
		return share
	}

	isOwner := strings.EqualFold(wallet, cfg.Owner)
	isCreator := strings.EqualFold(wallet, cfg.Creator)

	if cfg.SameParty() {
		if isOwner {
			share.Add(share, bps(gross, MaxBps-marketplaceBps))
		}
		return share
	}

	if isOwner {
		share.Add(share, bps(gross, MaxBps-cfg.RoyaltyBps-marketplaceBps))
	}
	if isCreator {
		share.Add(share, bps(gross, cfg.RoyaltyBps))
	}
	return share
}

// MarketplaceCut is the marketplace's fee on gross.
func MarketplaceCut(gross *big.Int, marketplaceBps int) *big.Int {
	if gross == nil {
		return new(big.Int)
	}
	return bps(gross, marketplaceBps)
}

// Calculator binds a marketplace fee so callers don't thread it everywhere.
type Calculator struct {
	MarketplaceBps int
}

func NewCalculator(marketplaceBps int) Calculator {
	return Calculator{MarketplaceBps: marketplaceBps}
}

func (c Calculator) ShareOf(wallet string, gross *big.Int, cfg SplitConfig) *big.Int {
	return ShareOf(wallet, gross, cfg, c.MarketplaceBps)
}

// DefaultShare is used when a model has no split config on record: the
// wallet is treated as sole owner and creator.
func (c Calculator) DefaultShare(gross *big.Int) *big.Int {
	if gross == nil {
		return new(big.Int)
	}
	return bps(gross, MaxBps-c.MarketplaceBps)
}

func bps(amount *big.Int, points int) *big.Int {
	if points <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(points)))
	return out.Quo(out, big.NewInt(MaxBps))
}
