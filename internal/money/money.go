// Package money provides shared currency parsing and formatting utilities.
//
// Wallet balances are denominated in AED with 2 decimal places. All
// amounts are stored as big.Int in the smallest unit (1 AED = 100 fils).
package money

import (
	"math/big"
	"strings"
)

const Decimals = 2

// Parse converts a decimal string (e.g. "1.50") to its smallest-unit
// big.Int representation (150). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - A single leading "-" is allowed (ledger events carry signed amounts)
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 2 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	// Pad or trim to 2 decimals
	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, false
	}
	if neg {
		result.Neg(result)
	}
	return result, true
}

// Format converts a smallest-unit big.Int to a human-readable decimal
// string with exactly 2 decimal places (e.g. "1.50").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// FromUnits converts whole currency units (e.g. a top-up menu amount of 50)
// to the smallest-unit representation.
func FromUnits(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), big.NewInt(100))
}

// MinorUnits returns the smallest-unit value of a decimal string as an
// int64, for handing to payment providers that bill in minor units.
// Returns (0, false) on invalid input or overflow.
func MinorUnits(s string) (int64, bool) {
	v, ok := Parse(s)
	if !ok || !v.IsInt64() {
		return 0, false
	}
	return v.Int64(), true
}

// IsPositive reports whether s parses to a strictly positive amount.
func IsPositive(s string) bool {
	v, ok := Parse(s)
	return ok && v.Sign() > 0
}
