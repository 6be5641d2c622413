package x402

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the precision of the supported stablecoin.
const USDCDecimals int32 = 6

var errNegativeAmount = errors.New("amount must not be negative")

// ToBaseUnits converts a decimal amount ("0.01") to the token's smallest unit.
// Digits beyond the token precision are truncated.
func ToBaseUnits(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, errNegativeAmount
	}
	return d.Shift(decimals).Truncate(0).BigInt(), nil
}

// FromBaseUnits converts base units back to an exact decimal amount.
func FromBaseUnits(units *big.Int, decimals int32) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -decimals)
}

// FormatFixed renders base units as a fixed-point string with exactly
// `decimals` fractional digits, e.g. 10000 -> "0.010000".
func FormatFixed(units *big.Int, decimals int32) string {
	return FromBaseUnits(units, decimals).StringFixed(decimals)
}

var displayCutoff = decimal.New(1, -2)

// FormatUSDC renders a display amount: two places from $0.01 up, four
// below that so sub-cent prices stay visible.
func FormatUSDC(units *big.Int) string {
	d := FromBaseUnits(units, USDCDecimals)
	if d.LessThan(displayCutoff) {
		return "$" + d.StringFixed(4)
	}
	return "$" + d.StringFixed(2)
}

func parseUint256(field, s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", field, s)
	}
	if n.Sign() < 0 || n.BitLen() > 256 {
		return nil, fmt.Errorf("%s out of range", field)
	}
	return n, nil
}
