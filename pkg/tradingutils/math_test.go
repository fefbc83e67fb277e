package tradingutils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTruncateToStep(t *testing.T) {
	tests := []struct {
		name  string
		value string
		step  string
		want  string
	}{
		{"tick truncates down", "97.0299", "0.01", "97.02"},
		{"never rounds up", "1.9999", "0.001", "1.999"},
		{"lot of one", "8.7", "1", "8"},
		{"half step", "10.74", "0.5", "10.5"},
		{"already aligned", "98.01", "0.01", "98.01"},
		{"negative toward zero", "-1.239", "0.01", "-1.23"},
		{"zero step untouched", "3.14159", "0", "3.14159"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateToStep(d(tt.value), d(tt.step))
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestTruncateToStep_IdempotentAndNeverIncreases(t *testing.T) {
	steps := []string{"0.01", "0.001", "1", "0.5", "0.0001"}
	values := []string{"0", "0.0001", "97.0299", "12345.6789", "1.5", "0.333333333"}

	for _, s := range steps {
		for _, v := range values {
			once := TruncateToStep(d(v), d(s))
			twice := TruncateToStep(once, d(s))
			assert.True(t, once.Equal(twice), "step %s value %s: %s != %s", s, v, once, twice)
			assert.True(t, once.LessThanOrEqual(d(v)), "step %s value %s grew to %s", s, v, once)
		}
	}
}

func TestFormatToStep(t *testing.T) {
	assert.Equal(t, "102.00", FormatToStep(d("102"), d("0.01")))
	assert.Equal(t, "97.02", FormatToStep(d("97.0299"), d("0.01")))
	assert.Equal(t, "8", FormatToStep(d("8.9"), d("1")))
	assert.Equal(t, "0.123", FormatToStep(d("0.12345"), d("0.001")))
}

func TestStepDecimals(t *testing.T) {
	assert.Equal(t, int32(2), StepDecimals(d("0.01")))
	assert.Equal(t, int32(2), StepDecimals(d("0.010")))
	assert.Equal(t, int32(0), StepDecimals(d("1")))
	assert.Equal(t, int32(1), StepDecimals(d("0.5")))
}

func TestPercentHelpers(t *testing.T) {
	assert.True(t, PercentUp(d("100"), d("2")).Equal(d("102")))
	assert.True(t, PercentDownFactor(d("1")).Equal(d("0.99")))
}
