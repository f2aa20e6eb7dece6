package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrSubMinorUnit is returned for amounts finer than one minor unit.
var ErrSubMinorUnit = errors.New("amount has more than two decimal places")

// minorUnitExponent is the number of decimal places between major and minor units (rupees/paisa).
const minorUnitExponent = 2

// MajorUnits converts an amount in minor units to its major-unit decimal value.
func MajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -minorUnitExponent)
}

// FormatMinorUnits renders a minor-unit amount as a fixed two-place major-unit string.
func FormatMinorUnits(minor int64) string {
	return MajorUnits(minor).StringFixed(minorUnitExponent)
}

// ParseMajorUnits parses a major-unit string such as "499.50" into minor units.
// Amounts finer than one minor unit are rejected rather than rounded.
func ParseMajorUnits(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(minorUnitExponent)) {
		return 0, ErrSubMinorUnit
	}
	return d.Shift(minorUnitExponent).IntPart(), nil
}
