package model

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// AmountDecimals is the number of fractional digits carried by an Amount.
const AmountDecimals = 9

const amountScale = 1_000_000_000

// Amount is a monetary value in minor units (10^-AmountDecimals of a unit).
type Amount uint64

// ParseAmount converts a decimal string such as "0.1" into minor units.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidArgument)
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%w: negative amount %q", ErrInvalidArgument, s)
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > AmountDecimals {
		return 0, fmt.Errorf("%w: amount %q has more than %d decimals", ErrInvalidArgument, s, AmountDecimals)
	}
	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q", ErrInvalidArgument, s)
	}
	var f uint64
	if frac != "" {
		f, err = strconv.ParseUint(frac+strings.Repeat("0", AmountDecimals-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: amount %q", ErrInvalidArgument, s)
		}
	}
	if w > (math.MaxUint64-f)/amountScale {
		return 0, fmt.Errorf("%w: amount %q out of range", ErrInvalidArgument, s)
	}
	return Amount(w*amountScale + f), nil
}

// MustParseAmount is ParseAmount for constants; it panics on bad input.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) String() string {
	whole := uint64(a) / amountScale
	frac := uint64(a) % amountScale
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	fs := fmt.Sprintf("%09d", frac)
	return strconv.FormatUint(whole, 10) + "." + strings.TrimRight(fs, "0")
}

// Total returns price*units and false if the product does not fit in an Amount.
func Total(price Amount, units uint64) (Amount, bool) {
	hi, lo := bits.Mul64(uint64(price), units)
	if hi != 0 {
		return 0, false
	}
	return Amount(lo), true
}
