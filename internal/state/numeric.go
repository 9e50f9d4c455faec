package state

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

var ErrInvalidNumeric = errors.New("invalid numeric column")

// numeric renders an amount for a NUMERIC(78,0) column; nil amounts are stored as zero.
func numeric(v sdkmath.Int) string {
	if v.IsNil() {
		return "0"
	}
	return v.String()
}

// parseNumeric reads a NUMERIC(78,0) column scanned as text.
func parseNumeric(column, raw string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(raw)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: %s=%q", ErrInvalidNumeric, column, raw)
	}
	return v, nil
}
