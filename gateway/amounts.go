package gateway

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Units converts between the decimal display amounts accepted on the API and
// the integer base units kept in the ledger, using per-asset decimals.
type Units struct {
	decimals map[string]int32
}

// NewUnits builds the converter from the configured asset table.
func NewUnits(decimals map[string]int32) *Units {
	normalized := make(map[string]int32, len(decimals))
	for symbol, d := range decimals {
		normalized[strings.ToUpper(strings.TrimSpace(symbol))] = d
	}
	return &Units{decimals: normalized}
}

// Supported reports whether the asset has a configured conversion.
func (u *Units) Supported(asset string) bool {
	_, ok := u.decimals[strings.ToUpper(strings.TrimSpace(asset))]
	return ok
}

// ToBase parses a positive display amount like "1.5" into base units.
// Sub-base precision is rejected rather than silently truncated.
func (u *Units) ToBase(asset, amount string) (*big.Int, error) {
	scale, ok := u.decimals[strings.ToUpper(strings.TrimSpace(asset))]
	if !ok {
		return nil, fmt.Errorf("unsupported asset %q", asset)
	}
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	shifted := value.Shift(scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %q below minimum unit", amount)
	}
	return shifted.BigInt(), nil
}

// FromBase renders base units as a display decimal string.
func (u *Units) FromBase(asset string, amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	scale, ok := u.decimals[strings.ToUpper(strings.TrimSpace(asset))]
	if !ok {
		return amount.String()
	}
	return decimal.NewFromBigInt(amount, -scale).String()
}

// RatString renders a rate or ratio with fixed display precision.
func RatString(value *big.Rat) string {
	if value == nil {
		return "0"
	}
	return value.FloatString(6)
}
