package engine

import (
	"context"
	"fmt"

	discountdomain "github.com/smallbiznis/proposalpricing/internal/discount/domain"
	"github.com/smallbiznis/proposalpricing/internal/discount/resolver"
	"github.com/smallbiznis/proposalpricing/internal/money"
	"github.com/smallbiznis/proposalpricing/internal/pricing/domain"
	"go.uber.org/zap"
)

const (
	decisionWithinLimit = "within_limit"
	decisionRequired    = "approval_required"
	decisionBlocked     = "blocked"
)

// percentEpsilon absorbs float noise when comparing against the limit.
const percentEpsilon = 1e-9

type mutation func(s *domain.State) error

// apply runs a change that never needs approval.
func (e *Engine) apply(ctx context.Context, m mutation) (domain.Outcome, error) {
	if e.state.Finalized {
		return domain.Outcome{}, domain.ErrFinalized
	}
	next := e.state.Clone()
	if err := m(&next); err != nil {
		return domain.Outcome{}, err
	}
	committed := e.commit(e.derive(next), e.actor(ctx))
	return domain.Outcome{Kind: domain.OutcomeApplied, State: committed.Clone()}, nil
}

// applyGated computes the result of change and either commits it or holds it
// as the pending change when it exceeds the acting user's authority.
func (e *Engine) applyGated(ctx context.Context, op string, change domain.PendingChange) (domain.Outcome, error) {
	if e.state.Finalized {
		return domain.Outcome{}, domain.ErrFinalized
	}
	next := e.state.Clone()
	if err := applyChange(&next, change); err != nil {
		return domain.Outcome{}, err
	}
	next = e.derive(next)

	actor := e.actor(ctx)
	limit := e.state.Permissions.MaxDiscountPercent
	percent := money.Percent(gatedDiscount(next), next.Subtotal)
	if percent <= limit+percentEpsilon {
		e.metrics.RecordGateDecision(ctx, op, decisionWithinLimit)
		committed := e.commit(next, actor)
		return domain.Outcome{Kind: domain.OutcomeApplied, State: committed.Clone()}, nil
	}

	if e.state.Approval.Phase == domain.GatePending {
		e.metrics.RecordGateDecision(ctx, op, decisionBlocked)
		return domain.Outcome{}, domain.ErrApprovalPending
	}

	change.OriginalValue = impliedDiscount(e.state)
	change.RequestedValue = impliedDiscount(next)
	change.DiscountPercent = percent
	change.RequestedBy = actor
	change.RequestedAt = e.clock.Now()

	held := e.state.Clone()
	held.Approval = domain.ApprovalState{
		Phase:   domain.GatePending,
		Pending: &change,
	}
	committed := e.commit(held, actor)

	e.metrics.RecordGateDecision(ctx, op, decisionRequired)
	e.log.Info("discount held for approval",
		zap.String("operation", op),
		zap.Float64("discount_percent", percent),
		zap.Float64("max_discount_percent", limit),
	)

	return domain.Outcome{
		Kind:    domain.OutcomeApprovalRequired,
		State:   committed.Clone(),
		Message: fmt.Sprintf("discount of %.2f%% exceeds your limit of %.2f%%", percent, limit),
	}, nil
}

// applyChange mutates s with a gated change. Approved changes replay through
// it against whatever state is current at resolution time.
func applyChange(s *domain.State, change domain.PendingChange) error {
	switch change.Kind {
	case domain.ChangeEditDiscount:
		idx := discountdomain.Find(s.DiscountTypes, change.DiscountID)
		if idx < 0 {
			return discountdomain.ErrUnknownDiscount
		}
		if s.DiscountTypes[idx].IsSystemGenerated {
			return discountdomain.ErrSystemDiscountEdit
		}
		endManualOverride(s)
		t := &s.DiscountTypes[idx]
		t.Enable(money.NonNegative(change.Amount))
		t.PercentageOfSubtotal = 0
		s.DiscountTypes = resolver.Resolve(s.DiscountTypes, change.DiscountID)
	case domain.ChangeManualDiscount:
		for i := range s.DiscountTypes {
			if !s.DiscountTypes[i].IsSystemGenerated {
				s.DiscountTypes[i].Disable()
			}
		}
		s.ManualOverride = domain.ManualOverride{Active: true, Amount: money.NonNegative(change.Amount)}
	case domain.ChangeTotalOverride:
		s.PricingOverrideEnabled = true
		s.Total = money.NonNegative(change.Amount)
	default:
		return fmt.Errorf("unsupported change kind %q", change.Kind)
	}
	return nil
}

// gated reports whether an amount edit of t needs the authority check.
func gated(t discountdomain.DiscountType) bool {
	return !t.PreApproved()
}

func endManualOverride(s *domain.State) {
	s.ManualOverride = domain.ManualOverride{}
}

// impliedDiscount is the discount a reviewer sees: the computed discount, or
// subtotal minus the typed total under the pricing override.
func impliedDiscount(s domain.State) float64 {
	if s.PricingOverrideEnabled {
		return money.Sub(s.Subtotal, s.Total)
	}
	return s.Discount
}

// gatedDiscount is the share of the implied discount that counts against the
// acting user's authority. Enabled pre-approved catalog amounts are excluded.
func gatedDiscount(s domain.State) float64 {
	preApproved := make([]float64, 0, len(s.DiscountTypes))
	for _, t := range s.DiscountTypes {
		if t.IsEnabled && t.PreApproved() {
			preApproved = append(preApproved, t.Amount)
		}
	}
	return money.NonNegative(money.Sub(impliedDiscount(s), money.Sum(preApproved...)))
}
