package engine

import (
	"github.com/smallbiznis/proposalpricing/internal/discount/bundle"
	discountdomain "github.com/smallbiznis/proposalpricing/internal/discount/domain"
	"github.com/smallbiznis/proposalpricing/internal/discount/resolver"
	"github.com/smallbiznis/proposalpricing/internal/financing/calculator"
	"github.com/smallbiznis/proposalpricing/internal/money"
	"github.com/smallbiznis/proposalpricing/internal/pricing/domain"
	"go.uber.org/zap"
)

// derive runs recompute steps 1 to 5 on a copy of s. It never touches the
// engine's committed state.
func (e *Engine) derive(s domain.State) domain.State {
	s = s.Clone()

	// 1. subtotal
	priced := make([]bundle.PricedService, 0, len(s.Services))
	parts := make([]float64, 0, len(s.Services)+len(s.CustomAdders))
	for _, line := range s.Services {
		sub := line.Subtotal()
		priced = append(priced, bundle.PricedService{ID: line.ServiceID, Subtotal: sub})
		parts = append(parts, sub)
	}
	for _, adder := range s.CustomAdders {
		parts = append(parts, money.NonNegative(adder.Cost))
	}
	s.Subtotal = money.Sum(parts...)

	// 2. discount composition
	for i := range s.DiscountTypes {
		t := &s.DiscountTypes[i]
		if t.IsEnabled && t.PercentageOfSubtotal > 0 {
			t.Amount = money.PercentOf(s.Subtotal, t.PercentageOfSubtotal)
		}
	}
	if idx := discountdomain.Find(s.DiscountTypes, discountdomain.AutoBundleID); idx >= 0 {
		auto := &s.DiscountTypes[idx]
		switch {
		case s.AutoBundleSuppressed:
			auto.Disable()
			s.BundleRules = nil
		case s.ManualOverride.Active:
			// frozen while the manual override is active
		default:
			res, err := e.detector.Detect(priced)
			if err != nil {
				e.log.Warn("bundle rule evaluation failed", zap.Error(err))
			}
			if res.Amount > 0 {
				auto.Enable(res.Amount)
			} else {
				auto.Disable()
			}
			s.BundleRules = res.Applied
		}
	}
	s.DiscountTypes = resolver.Normalize(s.DiscountTypes)

	// 3. discount
	manual := 0.0
	if s.ManualOverride.Active {
		manual = s.ManualOverride.Amount
	}
	s.Discount = money.Sum(s.EnabledDiscountSum(), manual)

	// 4. total
	if !s.PricingOverrideEnabled {
		s.Total = money.Sub(s.Subtotal, s.Discount)
	}

	// 5. financing
	quote := calculator.Calculate(s.Total, planTerms(s), s.FinancingTerms)
	s.PaymentMode = quote.Mode
	s.MonthlyPayment = quote.MonthlyPayment
	s.MerchantFeeAmount = quote.MerchantFeeAmount
	s.NetSettlement = quote.NetSettlement

	return s
}

// commit runs steps 6 and 7: it logs every changed discount value against
// the committed state, then publishes next as the new committed state.
func (e *Engine) commit(next domain.State, actor string) domain.State {
	prev := e.state
	now := e.clock.Now()

	next.DiscountLog = append(next.DiscountLog, diffLog(prev, next, actor, now)...)
	next.Version = prev.Version + 1
	next.UpdatedAt = now
	next.Status = restingStatus(next)

	e.state = next
	e.publish(next)
	return next
}

func planTerms(s domain.State) *calculator.PlanTerms {
	if s.FinancingPlanID == nil {
		return nil
	}
	for _, p := range s.FinancingPlans {
		if p.ID.String() == *s.FinancingPlanID {
			return &calculator.PlanTerms{PaymentFactor: p.PaymentFactor, MerchantFee: p.MerchantFee}
		}
	}
	return nil
}

func findPlan(s domain.State, id string) bool {
	for _, p := range s.FinancingPlans {
		if p.ID.String() == id {
			return true
		}
	}
	return false
}
