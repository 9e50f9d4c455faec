/*
This file contains the fixed-point helpers shared by the pricing, fuse and vault packages.
Every amount is an sdkmath.Int; USD values are WAD (18 decimals).
*/

package utils

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// WadDecimals is the precision of every USD value and of the price-per-share.
const WadDecimals = 18

// MaxDecimals bounds token and price decimals accepted anywhere in the engine.
const MaxDecimals = 36

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrDivisionByZero   = errors.New("division by zero")
)

// Wad returns 1e18.
func Wad() sdkmath.Int {
	return Pow10(WadDecimals)
}

// Pow10 returns 10^n.
func Pow10(n uint64) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(1, int(n))
}

// ValidateAmount rejects nil and negative amounts.
func ValidateAmount(amount sdkmath.Int) error {
	if amount.IsNil() {
		return ErrAmountNil
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrAmountNegative, amount)
	}
	return nil
}

// ValidateDecimals rejects precisions above MaxDecimals.
func ValidateDecimals(decimals uint64) error {
	if decimals > MaxDecimals {
		return fmt.Errorf("%w: %d (must be at most %d)", ErrInvalidPrecision, decimals, MaxDecimals)
	}
	return nil
}

// ConvertDecimals rescales amount from one precision to another, rounding down.
func ConvertDecimals(amount sdkmath.Int, from, to uint64) sdkmath.Int {
	switch {
	case from == to:
		return amount
	case from < to:
		return amount.Mul(Pow10(to - from))
	default:
		return amount.Quo(Pow10(from - to))
	}
}

// ToWad rescales an amount with the given decimals to 18 decimals.
func ToWad(amount sdkmath.Int, decimals uint64) sdkmath.Int {
	return ConvertDecimals(amount, decimals, WadDecimals)
}

// MulDiv computes a*b/c rounding down.
func MulDiv(a, b, c sdkmath.Int) (sdkmath.Int, error) {
	if c.IsZero() {
		return sdkmath.ZeroInt(), ErrDivisionByZero
	}
	return a.Mul(b).Quo(c), nil
}

// MulDivOrZero computes a*b/c rounding down and returns zero when c is zero.
func MulDivOrZero(a, b, c sdkmath.Int) sdkmath.Int {
	if c.IsZero() {
		return sdkmath.ZeroInt()
	}
	return a.Mul(b).Quo(c)
}

// MulDivUp computes a*b/c rounding up.
func MulDivUp(a, b, c sdkmath.Int) (sdkmath.Int, error) {
	if c.IsZero() {
		return sdkmath.ZeroInt(), ErrDivisionByZero
	}
	product := a.Mul(b)
	q := product.Quo(c)
	if !product.Mod(c).IsZero() {
		q = q.AddRaw(1)
	}
	return q, nil
}

// MulDivUpOrZero computes a*b/c rounding up and returns zero when c is zero.
func MulDivUpOrZero(a, b, c sdkmath.Int) sdkmath.Int {
	q, err := MulDivUp(a, b, c)
	if err != nil {
		return sdkmath.ZeroInt()
	}
	return q
}

// ValueInUSD converts a token amount into a WAD USD value given the token price.
// value = amount * price / 10^(amountDecimals + priceDecimals - 18)
func ValueInUSD(amount sdkmath.Int, amountDecimals uint64, price sdkmath.Int, priceDecimals uint64) sdkmath.Int {
	return ConvertDecimals(amount.Mul(price), amountDecimals+priceDecimals, WadDecimals)
}

// AmountFromUSD converts a WAD USD value into a token amount given the token price, rounding down.
// amount = usd * 10^(amountDecimals + priceDecimals) / (price * 10^18)
func AmountFromUSD(usd sdkmath.Int, amountDecimals uint64, price sdkmath.Int, priceDecimals uint64) (sdkmath.Int, error) {
	if price.IsZero() {
		return sdkmath.ZeroInt(), ErrDivisionByZero
	}
	scaled := ConvertDecimals(usd, WadDecimals, amountDecimals+priceDecimals)
	return scaled.Quo(price), nil
}

// BpsOf returns amount * bps / 10000 rounding down.
func BpsOf(amount sdkmath.Int, bps uint64) sdkmath.Int {
	return amount.Mul(sdkmath.NewIntFromUint64(bps)).QuoRaw(10_000)
}

// FormatUnits renders an integer amount as a human-readable decimal string.
func FormatUnits(amount sdkmath.Int, decimals uint64) string {
	if amount.IsNil() {
		return "0"
	}
	return decimal.NewFromBigInt(amount.BigInt(), -int32(decimals)).String()
}

// ParseUnits parses a human-readable decimal ("12.5") into an integer amount with the given decimals.
// Digits beyond the precision are truncated.
func ParseUnits(value string, decimals uint64) (sdkmath.Int, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("invalid amount %q: %w", value, err)
	}
	if d.IsNegative() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s", ErrAmountNegative, value)
	}
	scaled := d.Shift(int32(decimals)).Truncate(0)
	return sdkmath.NewIntFromBigInt(scaled.BigInt()), nil
}
