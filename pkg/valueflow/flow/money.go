package flow

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of decimal places money is quantized to.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// Quantize rounds d to two places, half away from zero (ROUND_HALF_UP).
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// QuantizeUp rounds d to two places away from zero (ROUND_UP).
func QuantizeUp(d decimal.Decimal) decimal.Decimal {
	return d.RoundUp(MoneyPlaces)
}

// SafeDiv divides n by d. It returns zero and false when d is zero, so
// zero-quantity events contribute nothing instead of failing.
func SafeDiv(n, d decimal.Decimal) (decimal.Decimal, bool) {
	if d.IsZero() {
		return decimal.Zero, false
	}
	return n.Div(d), true
}

// Percent returns pct percent of d.
func Percent(d, pct decimal.Decimal) decimal.Decimal {
	return d.Mul(pct).Div(hundred)
}

// NonNegative clamps d at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
