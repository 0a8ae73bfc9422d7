/*
This file contains common utility functions for converting between fixed-point
integer amounts and unbounded-precision decimals, with strict precision handling.
*/

package utils

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrConversionFailed = errors.New("conversion failed")
)

// IntToDec converts a fixed-point integer amount to its decimal value by
// dividing out 10^precision. The amount must be non-negative.
func IntToDec(amount sdkmath.Int, precision int) (sdkmath.LegacyDec, error) {
	if precision < 0 || precision > 18 {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount.IsNil() {
		return sdkmath.LegacyZeroDec(), ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.LegacyZeroDec(), ErrAmountNegative
	}

	decAmount := sdkmath.LegacyNewDecFromInt(amount)
	factor := sdkmath.LegacyNewDec(1)
	for i := 0; i < precision; i++ {
		factor = factor.Mul(sdkmath.LegacyNewDec(10))
	}

	return decAmount.Quo(factor), nil
}

// DecToIntFloor converts a decimal value to a fixed-point integer amount scaled
// by 10^precision, flooring any excess fractional precision. Never rounds up.
func DecToIntFloor(value sdkmath.LegacyDec, precision int) (sdkmath.Int, error) {
	if precision < 0 || precision > 18 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if value.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if value.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}

	factor := sdkmath.LegacyNewDec(1)
	for i := 0; i < precision; i++ {
		factor = factor.Mul(sdkmath.LegacyNewDec(10))
	}

	// TruncateInt floors because the scaled value is non-negative here.
	return value.Mul(factor).TruncateInt(), nil
}

// DecFromString parses a decimal string, wrapping parse failures.
func DecFromString(s string) (sdkmath.LegacyDec, error) {
	dec, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: invalid decimal %q: %w", ErrConversionFailed, s, err)
	}
	return dec, nil
}

// IntFromString parses an integer amount string, wrapping parse failures.
func IntFromString(s string) (sdkmath.Int, error) {
	amount, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: invalid integer amount %q", ErrConversionFailed, s)
	}
	return amount, nil
}
