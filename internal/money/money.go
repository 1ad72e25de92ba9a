// Package money holds the rounding and coercion rules shared by the pricing
// components. Amounts travel as float64 dollars at the edges and are computed
// with decimal arithmetic inside.
package money

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Tolerance is the delta tests allow between independently rounded amounts.
const Tolerance = 0.01

// Round rounds half away from zero to cents.
func Round(v float64) float64 {
	return decimal.NewFromFloat(Sanitize(v, true)).Round(2).InexactFloat64()
}

// Sanitize replaces NaN and infinities with zero. Negative values are zeroed
// unless allowNegative is set.
func Sanitize(v float64, allowNegative bool) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < 0 && !allowNegative {
		return 0
	}
	return v
}

// NonNegative is the coercion applied to every user-entered amount or cost.
func NonNegative(v float64) float64 {
	return Round(Sanitize(v, false))
}

// Coerce converts a loosely typed JSON value into a non-negative amount.
// Non-numeric input yields zero.
func Coerce(raw any) float64 {
	switch v := raw.(type) {
	case nil:
		return 0
	case float64:
		return NonNegative(v)
	case float32:
		return NonNegative(float64(v))
	case int:
		return NonNegative(float64(v))
	case int64:
		return NonNegative(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return NonNegative(f)
	case string:
		s := strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(v))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return NonNegative(f)
	default:
		return 0
	}
}

// Sum adds amounts exactly and rounds the result to cents.
func Sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(Sanitize(v, true)))
	}
	return total.Round(2).InexactFloat64()
}

// Sub returns a-b rounded to cents.
func Sub(a, b float64) float64 {
	return decimal.NewFromFloat(Sanitize(a, true)).
		Sub(decimal.NewFromFloat(Sanitize(b, true))).
		Round(2).InexactFloat64()
}

// Mul returns a*b rounded to cents.
func Mul(a, b float64) float64 {
	return decimal.NewFromFloat(Sanitize(a, true)).
		Mul(decimal.NewFromFloat(Sanitize(b, true))).
		Round(2).InexactFloat64()
}

// PercentOf returns pct percent of base, rounded to cents.
func PercentOf(base, pct float64) float64 {
	return decimal.NewFromFloat(Sanitize(base, true)).
		Mul(decimal.NewFromFloat(Sanitize(pct, true))).
		Div(decimal.NewFromInt(100)).
		Round(2).InexactFloat64()
}

// Percent expresses part as a percentage of whole. A positive part over a
// zero whole is reported as 100%.
func Percent(part, whole float64) float64 {
	part = Sanitize(part, false)
	whole = Sanitize(whole, false)
	if part == 0 {
		return 0
	}
	if whole == 0 {
		return 100
	}
	return decimal.NewFromFloat(part).
		Div(decimal.NewFromFloat(whole)).
		Mul(decimal.NewFromInt(100)).
		Round(4).InexactFloat64()
}

// Equal reports whether two amounts are the same number of cents.
func Equal(a, b float64) bool {
	return decimal.NewFromFloat(Sanitize(a, true)).Round(2).
		Equal(decimal.NewFromFloat(Sanitize(b, true)).Round(2))
}
