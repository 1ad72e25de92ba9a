package money

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoerce(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want float64
	}{
		{"nil", nil, 0},
		{"float", 125.456, 125.46},
		{"negative", -40.0, 0},
		{"numeric string", "1,250.50", 1250.5},
		{"dollar string", "$99", 99},
		{"garbage string", "ten", 0},
		{"json number", json.Number("12.5"), 12.5},
		{"bool", true, 0},
		{"nan", math.NaN(), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Coerce(tc.in))
		})
	}
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 20.0, Percent(2000, 10000))
	assert.Equal(t, 0.0, Percent(0, 0))
	assert.Equal(t, 100.0, Percent(50, 0))
}

func TestArithmeticRoundsToCents(t *testing.T) {
	assert.Equal(t, 0.3, Sum(0.1, 0.2))
	assert.Equal(t, 1400.0, PercentOf(28000, 5))
	assert.Equal(t, 8600.0, Sub(10000, 1400))
	assert.True(t, Equal(10.004, 10.0))
	assert.False(t, Equal(10.02, 10.0))
	assert.False(t, Equal(500.01, 500.0))
	assert.True(t, Equal(0.1+0.2, 0.3))
}
