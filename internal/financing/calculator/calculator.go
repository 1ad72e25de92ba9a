// Package calculator derives the monthly payment shown on a proposal.
//
// A selected financing plan is authoritative: the payment is the total times
// the plan's payment factor. Without a plan the payment falls back to fixed
// rate amortization over the session's financing terms. The merchant fee is
// a contractor-side cost and only affects the reported net settlement.
package calculator

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/proposalpricing/internal/money"
)

type Mode string

const (
	ModePaymentFactor Mode = "payment_factor"
	ModeAmortization  Mode = "amortization"
)

// PlanTerms are the plan constants the calculator needs.
type PlanTerms struct {
	PaymentFactor float64
	MerchantFee   float64
}

// Terms drive amortization mode. InterestRate is an annual percentage.
type Terms struct {
	TermMonths   int     `json:"termMonths"`
	InterestRate float64 `json:"interestRate"`
}

type Quote struct {
	Mode              Mode    `json:"mode"`
	MonthlyPayment    float64 `json:"monthlyPayment"`
	MerchantFeeAmount float64 `json:"merchantFeeAmount"`
	NetSettlement     float64 `json:"netSettlement"`
}

// PaymentFactor returns total × factor / 100.
func PaymentFactor(total, factor float64) float64 {
	return money.PercentOf(total, factor)
}

// Amortized returns the fixed monthly payment repaying total over termMonths
// at the annual rate. A zero rate divides evenly; a non-positive term yields 0.
func Amortized(total float64, termMonths int, annualRate float64) float64 {
	total = money.Sanitize(total, true)
	if termMonths <= 0 {
		return 0
	}
	n := float64(termMonths)
	r := money.Sanitize(annualRate, false) / 12 / 100
	if r == 0 {
		return decimal.NewFromFloat(total).
			Div(decimal.NewFromInt(int64(termMonths))).
			Round(2).InexactFloat64()
	}
	payment := total * r / (1 - math.Pow(1+r, -n))
	return money.Round(payment)
}

// Calculate picks the mode from whether a plan is present.
func Calculate(total float64, plan *PlanTerms, terms Terms) Quote {
	if plan != nil {
		fee := money.PercentOf(total, plan.MerchantFee)
		return Quote{
			Mode:              ModePaymentFactor,
			MonthlyPayment:    PaymentFactor(total, plan.PaymentFactor),
			MerchantFeeAmount: fee,
			NetSettlement:     money.Sub(total, fee),
		}
	}
	return Quote{
		Mode:           ModeAmortization,
		MonthlyPayment: Amortized(total, terms.TermMonths, terms.InterestRate),
		NetSettlement:  money.Round(total),
	}
}
