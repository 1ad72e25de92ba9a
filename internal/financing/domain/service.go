package domain

import (
	"context"
	"errors"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*FinancingPlan, error)
	GetActiveFinancingPlans(ctx context.Context) ([]FinancingPlan, error)
}

type CreateRequest struct {
	Provider      string  `json:"provider"`
	PlanNumber    string  `json:"planNumber"`
	PlanName      string  `json:"planName"`
	InterestRate  float64 `json:"interestRate"`
	TermMonths    int32   `json:"termMonths"`
	PaymentFactor float64 `json:"paymentFactor"`
	MerchantFee   float64 `json:"merchantFee"`
	Notes         string  `json:"notes"`
}

var (
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrInvalidPlanNumber    = errors.New("invalid_plan_number")
	ErrInvalidPaymentFactor = errors.New("invalid_payment_factor")
	ErrInvalidTerm          = errors.New("invalid_term")
	ErrInvalidRate          = errors.New("invalid_rate")
	ErrNotFound             = errors.New("not_found")
)
