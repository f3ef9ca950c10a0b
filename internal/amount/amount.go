// Package amount converts between human readable token amounts and the
// integer base units the vault stores. Values never pass through floating
// point.
package amount

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/holiman/uint256"
)

// Decimals is the precision of the custodied token (USDC).
const Decimals = 6

// ErrInvalid reports a string that is not a non-negative decimal with at most
// Decimals fractional digits.
var ErrInvalid = errors.New("invalid amount")

var arith = apd.BaseContext.WithPrecision(100)

// Parse converts "12.5" into 12500000 base units.
func Parse(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalid)
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if d.Form != apd.Finite || d.Negative {
		return nil, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	var scaled apd.Decimal
	cond, err := arith.Quantize(&scaled, d, -Decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
	}
	if cond.Inexact() {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalid, s, Decimals)
	}
	scaled.Exponent += Decimals

	v, err := uint256.FromDecimal(scaled.Text('f'))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
	}
	return v, nil
}

// ParseUnits accepts an integer count of base units, as used on the wire.
func ParseUnits(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalid)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return v, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) *uint256.Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders base units with all Decimals fractional digits.
func Format(v *uint256.Int) string {
	d := toDecimal(v)
	return d.Text('f')
}

// FormatShort renders base units with two decimals, truncating the rest the
// way the web wallet displays balances.
func FormatShort(v *uint256.Int) string {
	d := toDecimal(v)
	ctx := apd.BaseContext.WithPrecision(100)
	ctx.Rounding = apd.RoundDown
	var out apd.Decimal
	if _, err := ctx.Quantize(&out, d, -2); err != nil {
		return d.Text('f')
	}
	return out.Text('f')
}

func toDecimal(v *uint256.Int) *apd.Decimal {
	if v == nil {
		v = new(uint256.Int)
	}
	d, _, err := apd.NewFromString(v.Dec())
	if err != nil {
		// Dec always yields a plain base-10 integer.
		panic(err)
	}
	d.Exponent -= Decimals
	return d
}
