package tradingutils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// TruncateToStep rounds value toward zero onto a multiple of step.
// A non-positive step leaves the value untouched.
func TruncateToStep(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	q, _ := value.QuoRem(step, 0)
	return q.Mul(step)
}

// StepDecimals returns the number of fractional digits implied by a step such as 0.001
func StepDecimals(step decimal.Decimal) int32 {
	s := step.Abs().String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}

// FormatToStep truncates value onto step and renders it with the step's precision
func FormatToStep(value, step decimal.Decimal) string {
	return TruncateToStep(value, step).StringFixed(StepDecimals(step))
}

// PercentUp returns value * (1 + percent/100)
func PercentUp(value, percent decimal.Decimal) decimal.Decimal {
	return value.Mul(decimal.NewFromInt(1).Add(percent.Div(decimal.NewFromInt(100))))
}

// PercentDownFactor returns 1 - percent/100
func PercentDownFactor(percent decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(percent.Div(decimal.NewFromInt(100)))
}
