package engine

import (
	"time"

	discountdomain "github.com/smallbiznis/proposalpricing/internal/discount/domain"
	"github.com/smallbiznis/proposalpricing/internal/money"
	"github.com/smallbiznis/proposalpricing/internal/pricing/domain"
)

func diffLog(prev, next domain.State, userID string, at time.Time) []domain.DiscountLogEntry {
	var entries []domain.DiscountLogEntry
	add := func(kind string, before, after float64) {
		if money.Equal(before, after) {
			return
		}
		entries = append(entries, domain.DiscountLogEntry{
			Timestamp:     at,
			UserID:        userID,
			DiscountType:  kind,
			PreviousValue: before,
			NewValue:      after,
		})
	}

	for _, t := range next.DiscountTypes {
		before := 0.0
		if idx := discountdomain.Find(prev.DiscountTypes, t.ID); idx >= 0 {
			before = prev.DiscountTypes[idx].Amount
		}
		add(t.ID, before, t.Amount)
	}
	add(domain.LogTypeManualOverride, manualAmount(prev), manualAmount(next))
	add(domain.LogTypeTotalOverride, overrideTotal(prev), overrideTotal(next))

	return entries
}

func manualAmount(s domain.State) float64 {
	if !s.ManualOverride.Active {
		return 0
	}
	return s.ManualOverride.Amount
}

func overrideTotal(s domain.State) float64 {
	if !s.PricingOverrideEnabled {
		return 0
	}
	return s.Total
}
