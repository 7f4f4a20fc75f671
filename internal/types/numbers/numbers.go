// Package numbers holds the token-math helpers shared across the engine.
// Accounting is exact big.Int throughout; decimal appears only when a value
// crosses a presentation boundary.
package numbers

import (
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// TokenDecimals is the fixed-point precision of reserve and reward amounts.
const TokenDecimals = 18

// ParseAmount parses a base-unit decimal string into a big.Int.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.Errorf("invalid amount '%s'", s)
	}
	return v, nil
}

// MustParseAmount is ParseAmount for literals in tests and fixtures.
func MustParseAmount(s string) *big.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromTokens converts a human token amount ("1.24") into base units.
func FromTokens(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid token amount '%s'", s)
	}
	return d.Shift(TokenDecimals).BigInt(), nil
}

// MustFromTokens is FromTokens for literals in tests and fixtures.
func MustFromTokens(s string) *big.Int {
	v, err := FromTokens(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ToTokens renders a base-unit amount as a human decimal string.
func ToTokens(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -TokenDecimals).String()
}

// ProportionalShare computes amount * weight / totalWeight, rounded down.
// Callers cap and remainder-correct per their own policy.
func ProportionalShare(amount, weight, totalWeight *big.Int) *big.Int {
	if totalWeight.Sign() == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, weight)
	return share.Div(share, totalWeight)
}
