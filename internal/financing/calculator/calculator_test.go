package calculator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculate_PaymentFactorMode(t *testing.T) {
	q := Calculate(10000, &PlanTerms{PaymentFactor: 3.5, MerchantFee: 8}, Terms{TermMonths: 120, InterestRate: 9.99})

	assert.Equal(t, ModePaymentFactor, q.Mode)
	assert.Equal(t, 350.0, q.MonthlyPayment)
	assert.Equal(t, 800.0, q.MerchantFeeAmount)
	assert.Equal(t, 9200.0, q.NetSettlement)
}

func TestCalculate_AmortizationMode(t *testing.T) {
	q := Calculate(10000, nil, Terms{TermMonths: 60, InterestRate: 6})

	assert.Equal(t, ModeAmortization, q.Mode)
	assert.Equal(t, 193.33, q.MonthlyPayment)
	assert.Equal(t, 10000.0, q.NetSettlement)
	assert.Zero(t, q.MerchantFeeAmount)
}

func TestAmortized_EdgeCases(t *testing.T) {
	assert.Equal(t, 100.0, Amortized(1200, 12, 0))
	assert.Zero(t, Amortized(1200, 0, 5))
	assert.Zero(t, Amortized(0, 12, 5))
}
