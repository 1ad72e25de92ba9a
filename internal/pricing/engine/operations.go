package engine

import (
	"context"
	"crypto/rand"
	"strings"

	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	discountdomain "github.com/smallbiznis/proposalpricing/internal/discount/domain"
	"github.com/smallbiznis/proposalpricing/internal/discount/resolver"
	financingdomain "github.com/smallbiznis/proposalpricing/internal/financing/domain"
	"github.com/smallbiznis/proposalpricing/internal/money"
	permissiondomain "github.com/smallbiznis/proposalpricing/internal/permission/domain"
	"github.com/smallbiznis/proposalpricing/internal/pricing/domain"
	"go.uber.org/zap"
)

// Bootstrap carries the collaborator data loaded when a session opens.
type Bootstrap struct {
	Plans          []financingdomain.FinancingPlan
	Permissions    *permissiondomain.Permissions
	PermissionsErr error
}

// Install replaces the financing plans and permissions. Missing permissions
// keep the engine in degraded mode.
func (e *Engine) Install(ctx context.Context, b Bootstrap) (domain.Outcome, error) {
	return e.do(ctx, "install", func(ctx context.Context) (domain.Outcome, error) {
		next := e.state.Clone()
		next.FinancingPlans = append([]financingdomain.FinancingPlan(nil), b.Plans...)
		if next.FinancingPlanID != nil && !findPlan(next, *next.FinancingPlanID) {
			next.FinancingPlanID = nil
		}

		if b.PermissionsErr != nil || b.Permissions == nil {
			next.Permissions = e.degradedPermissions()
			if b.PermissionsErr != nil {
				e.log.Warn("permissions unavailable, using default limit",
					zap.Error(b.PermissionsErr),
					zap.Float64("max_discount_percent", next.Permissions.MaxDiscountPercent),
				)
			}
		} else {
			next.Permissions = domain.Permissions{
				UserID:              b.Permissions.UserID,
				Role:                b.Permissions.Role,
				MaxDiscountPercent:  b.Permissions.MaxDiscountPercent,
				CanApproveDiscounts: b.Permissions.CanApproveDiscounts,
			}
		}

		committed := e.commit(e.derive(next), e.actor(ctx))
		return domain.Outcome{Kind: domain.OutcomeApplied, State: committed.Clone()}, nil
	})
}

// ToggleDiscount enables a discount at its default amount or disables it.
// Toggles are never gated.
func (e *Engine) ToggleDiscount(ctx context.Context, id string, enabled bool) (domain.Outcome, error) {
	id = strings.TrimSpace(id)
	return e.do(ctx, "toggle_discount", func(ctx context.Context) (domain.Outcome, error) {
		return e.apply(ctx, func(s *domain.State) error {
			idx := discountdomain.Find(s.DiscountTypes, id)
			if idx < 0 {
				return discountdomain.ErrUnknownDiscount
			}
			t := &s.DiscountTypes[idx]
			if t.IsSystemGenerated {
				s.AutoBundleSuppressed = !enabled
				return nil
			}

			endManualOverride(s)
			if enabled {
				t.PercentageOfSubtotal = catalogPercentage(id)
				t.Enable(t.DefaultAmount)
			} else {
				t.Disable()
			}
			s.DiscountTypes = resolver.Resolve(s.DiscountTypes, id)
			return nil
		})
	})
}

// EditDiscountAmount sets a custom amount on a catalog discount. Bundle
// discounts go through the approval gate.
func (e *Engine) EditDiscountAmount(ctx context.Context, id string, amount float64) (domain.Outcome, error) {
	id = strings.TrimSpace(id)
	change := domain.PendingChange{
		Kind:       domain.ChangeEditDiscount,
		DiscountID: id,
		Amount:     money.NonNegative(amount),
	}
	return e.do(ctx, "edit_discount", func(ctx context.Context) (domain.Outcome, error) {
		idx := discountdomain.Find(e.state.DiscountTypes, id)
		if idx < 0 {
			return domain.Outcome{}, discountdomain.ErrUnknownDiscount
		}
		t := e.state.DiscountTypes[idx]
		if t.IsSystemGenerated {
			return domain.Outcome{}, discountdomain.ErrSystemDiscountEdit
		}
		if !gated(t) {
			return e.apply(ctx, func(s *domain.State) error {
				return applyChange(s, change)
			})
		}
		return e.applyGated(ctx, "edit_discount", change)
	})
}

// ApplyManualDiscount replaces every non-system discount with a typed amount
// added on top of the automatic bundle discount.
func (e *Engine) ApplyManualDiscount(ctx context.Context, amount float64) (domain.Outcome, error) {
	change := domain.PendingChange{
		Kind:   domain.ChangeManualDiscount,
		Amount: money.NonNegative(amount),
	}
	return e.do(ctx, "manual_discount", func(ctx context.Context) (domain.Outcome, error) {
		return e.applyGated(ctx, "manual_discount", change)
	})
}

func (e *Engine) ResetManualDiscount(ctx context.Context) (domain.Outcome, error) {
	return e.do(ctx, "reset_manual_discount", func(ctx context.Context) (domain.Outcome, error) {
		return e.apply(ctx, func(s *domain.State) error {
			endManualOverride(s)
			return nil
		})
	})
}

func (e *Engine) SetServices(ctx context.Context, lines []domain.ServiceLine) (domain.Outcome, error) {
	cleaned := make([]domain.ServiceLine, 0, len(lines))
	for _, line := range lines {
		line.ServiceID = strings.TrimSpace(line.ServiceID)
		if line.ServiceID == "" {
			continue
		}
		line.Components = append([]domain.ComponentLine(nil), line.Components...)
		cleaned = append(cleaned, line)
	}
	return e.do(ctx, "set_services", func(ctx context.Context) (domain.Outcome, error) {
		return e.apply(ctx, func(s *domain.State) error {
			s.Services = cleaned
			return nil
		})
	})
}

// AddCustomAdder appends a line item. A missing id is generated.
func (e *Engine) AddCustomAdder(ctx context.Context, adder domain.CustomAdder) (domain.Outcome, error) {
	adder.ID = strings.TrimSpace(adder.ID)
	if adder.ID == "" {
		adder.ID = ulid.MustNew(ulid.Timestamp(e.clock.Now()), rand.Reader).String()
	}
	adder.Category = slug.Make(adder.Category)
	adder.Description = strings.TrimSpace(adder.Description)
	adder.Cost = money.NonNegative(adder.Cost)

	return e.do(ctx, "add_custom_adder", func(ctx context.Context) (domain.Outcome, error) {
		return e.apply(ctx, func(s *domain.State) error {
			for _, existing := range s.CustomAdders {
				if existing.ID == adder.ID {
					return domain.ErrDuplicateAdder
				}
			}
			s.CustomAdders = append(s.CustomAdders, adder)
			return nil
		})
	})
}

func (e *Engine) RemoveCustomAdder(ctx context.Context, id string) (domain.Outcome, error) {
	id = strings.TrimSpace(id)
	return e.do(ctx, "remove_custom_adder", func(ctx context.Context) (domain.Outcome, error) {
		return e.apply(ctx, func(s *domain.State) error {
			for i, existing := range s.CustomAdders {
				if existing.ID == id {
					s.CustomAdders = append(s.CustomAdders[:i], s.CustomAdders[i+1:]...)
					return nil
				}
			}
			return domain.ErrUnknownAdder
		})
	})
}

func (e *Engine) SelectFinancingPlan(ctx context.Context, planID string) (domain.Outcome, error) {
	planID = strings.TrimSpace(planID)
	return e.do(ctx, "select_financing_plan", func(ctx context.Context) (domain.Outcome, error) {
		return e.apply(ctx, func(s *domain.State) error {
			if !findPlan(*s, planID) {
				return domain.ErrUnknownPlan
			}
			s.FinancingPlanID = &planID
			return nil
		})
	})
}

func (e *Engine) ClearFinancingPlan(ctx context.Context) (domain.Outcome, error) {
	return e.do(ctx, "clear_financing_plan", func(ctx context.Context) (domain.Outcome, error) {
		return e.apply(ctx, func(s *domain.State) error {
			s.FinancingPlanID = nil
			return nil
		})
	})
}

// SetFinancingTerms drives amortization mode when no plan is selected.
func (e *Engine) SetFinancingTerms(ctx context.Context, termMonths int, interestRate float64) (domain.Outcome, error) {
	if termMonths < 0 {
		termMonths = 0
	}
	interestRate = money.Sanitize(interestRate, false)
	return e.do(ctx, "set_financing_terms", func(ctx context.Context) (domain.Outcome, error) {
		return e.apply(ctx, func(s *domain.State) error {
			s.FinancingTerms.TermMonths = termMonths
			s.FinancingTerms.InterestRate = interestRate
			return nil
		})
	})
}

// SetTotalOverride pins the total. The implied discount goes through the
// approval gate.
func (e *Engine) SetTotalOverride(ctx context.Context, total float64) (domain.Outcome, error) {
	change := domain.PendingChange{
		Kind:   domain.ChangeTotalOverride,
		Amount: money.NonNegative(total),
	}
	return e.do(ctx, "total_override", func(ctx context.Context) (domain.Outcome, error) {
		return e.applyGated(ctx, "total_override", change)
	})
}

func (e *Engine) ClearTotalOverride(ctx context.Context) (domain.Outcome, error) {
	return e.do(ctx, "clear_total_override", func(ctx context.Context) (domain.Outcome, error) {
		return e.apply(ctx, func(s *domain.State) error {
			s.PricingOverrideEnabled = false
			return nil
		})
	})
}

func catalogPercentage(id string) float64 {
	catalog := discountdomain.Catalog()
	if idx := discountdomain.Find(catalog, id); idx >= 0 {
		return catalog[idx].PercentageOfSubtotal
	}
	return 0
}
