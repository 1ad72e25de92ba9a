package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/proposalpricing/internal/actorcontext"
	approvaldomain "github.com/smallbiznis/proposalpricing/internal/approval/domain"
	"github.com/smallbiznis/proposalpricing/internal/config"
	discountdomain "github.com/smallbiznis/proposalpricing/internal/discount/domain"
	"github.com/smallbiznis/proposalpricing/internal/discount/resolver"
	"github.com/smallbiznis/proposalpricing/internal/financing/calculator"
	financingdomain "github.com/smallbiznis/proposalpricing/internal/financing/domain"
	"github.com/smallbiznis/proposalpricing/internal/money"
	"github.com/smallbiznis/proposalpricing/internal/pricing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discountByID(t *testing.T, s domain.State, id string) discountdomain.DiscountType {
	t.Helper()
	idx := discountdomain.Find(s.DiscountTypes, id)
	require.GreaterOrEqual(t, idx, 0, "discount %s", id)
	return s.DiscountTypes[idx]
}

func TestNew_StartsDegradedWithDefaults(t *testing.T) {
	h := newHarness(t)

	s := h.engine.Snapshot()
	assert.Equal(t, domain.StatusIdle, s.Status)
	assert.True(t, s.Permissions.Degraded)
	assert.Equal(t, 10.0, s.Permissions.MaxDiscountPercent)
	assert.Equal(t, 120, s.FinancingTerms.TermMonths)
	assert.Equal(t, 9.99, s.FinancingTerms.InterestRate)
	assert.Equal(t, calculator.ModeAmortization, s.PaymentMode)
	assert.Len(t, s.DiscountTypes, len(discountdomain.Catalog()))
	assert.EqualValues(t, 1, s.Version)
}

func TestInstall_PermissionsErrorKeepsDegradedMode(t *testing.T) {
	h := newHarness(t)

	out, err := h.engine.Install(context.Background(), Bootstrap{PermissionsErr: errors.New("timeout")})
	require.NoError(t, err)
	assert.True(t, out.State.Permissions.Degraded)
	assert.Equal(t, 10.0, out.State.Permissions.MaxDiscountPercent)

	h.install(t, 25)
	s := h.engine.Snapshot()
	assert.False(t, s.Permissions.Degraded)
	assert.Equal(t, 25.0, s.Permissions.MaxDiscountPercent)
}

func TestSelectFinancingPlan_PaymentFactor(t *testing.T) {
	h := newHarness(t)
	plan := financingdomain.FinancingPlan{ID: snowflake.ID(77), Provider: "GreenSky", PlanNumber: "1519", PaymentFactor: 3.5, MerchantFee: 8}
	h.install(t, 10, plan)
	h.setServices(t, service("siding", 10000))

	out, err := h.engine.SelectFinancingPlan(context.Background(), "77")
	require.NoError(t, err)
	assert.Equal(t, calculator.ModePaymentFactor, out.State.PaymentMode)
	assert.Equal(t, 350.0, out.State.MonthlyPayment)
	assert.Equal(t, 800.0, out.State.MerchantFeeAmount)
	assert.Equal(t, 9200.0, out.State.NetSettlement)
	assert.Equal(t, 10000.0, out.State.Total)

	out, err = h.engine.ClearFinancingPlan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, calculator.ModeAmortization, out.State.PaymentMode)
	assert.Equal(t, 10000.0, out.State.NetSettlement)

	_, err = h.engine.SelectFinancingPlan(context.Background(), "404")
	assert.ErrorIs(t, err, domain.ErrUnknownPlan)
}

func TestSetFinancingTerms_ZeroRateSplitsEvenly(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("siding", 12000))

	out, err := h.engine.SetFinancingTerms(context.Background(), 60, 0)
	require.NoError(t, err)
	assert.Equal(t, 200.0, out.State.MonthlyPayment)
}

func TestSetServices_DetectsBundle(t *testing.T) {
	h := newHarness(t)

	s := h.setServices(t, service("roofing", 20000), service("windows-doors", 8000))

	auto := discountByID(t, s, discountdomain.AutoBundleID)
	assert.True(t, auto.IsEnabled)
	assert.Equal(t, 1400.0, auto.Amount)
	assert.Equal(t, 28000.0, s.Subtotal)
	assert.Equal(t, 1400.0, s.Discount)
	assert.Equal(t, 26600.0, s.Total)
	require.Len(t, s.BundleRules, 1)
	assert.Equal(t, "roofing-windows", s.BundleRules[0].RuleID)

	s = h.setServices(t, service("roofing", 20000))
	assert.False(t, discountByID(t, s, discountdomain.AutoBundleID).IsEnabled)
	assert.Equal(t, 0.0, s.Discount)
}

func TestApplyManualDiscount_IsAdditiveToAutoBundle(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("roofing", 20000), service("windows-doors", 8000))
	_, err := h.engine.ToggleDiscount(context.Background(), "senior-citizen", true)
	require.NoError(t, err)

	out, err := h.engine.ApplyManualDiscount(context.Background(), 500)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApplied, out.Kind)

	s := out.State
	auto := discountByID(t, s, discountdomain.AutoBundleID)
	assert.True(t, auto.IsEnabled)
	assert.Equal(t, 1400.0, auto.Amount)
	senior := discountByID(t, s, "senior-citizen")
	assert.False(t, senior.IsEnabled)
	assert.Equal(t, 0.0, senior.Amount)
	assert.True(t, s.ManualOverride.Active)
	assert.Equal(t, 1900.0, s.Discount)
	assert.Equal(t, 26100.0, s.Total)

	out, err = h.engine.ResetManualDiscount(context.Background())
	require.NoError(t, err)
	assert.False(t, out.State.ManualOverride.Active)
	assert.Equal(t, 1400.0, out.State.Discount)
}

func TestToggleDiscount_EndsManualOverride(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("siding", 10000))
	_, err := h.engine.ApplyManualDiscount(context.Background(), 300)
	require.NoError(t, err)

	out, err := h.engine.ToggleDiscount(context.Background(), "repeat-customer", true)
	require.NoError(t, err)
	assert.False(t, out.State.ManualOverride.Active)
	assert.Equal(t, 250.0, out.State.Discount)
}

func TestToggleDiscount_CustomerTypesAreExclusive(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("siding", 10000))

	_, err := h.engine.ToggleDiscount(context.Background(), "senior-citizen", true)
	require.NoError(t, err)
	out, err := h.engine.ToggleDiscount(context.Background(), "educator", true)
	require.NoError(t, err)

	assert.False(t, discountByID(t, out.State, "senior-citizen").IsEnabled)
	assert.True(t, discountByID(t, out.State, "educator").IsEnabled)
	assert.Equal(t, 300.0, out.State.Discount)
	assert.Zero(t, resolver.Violations(out.State.DiscountTypes))

	_, err = h.engine.ToggleDiscount(context.Background(), "no-such", true)
	assert.ErrorIs(t, err, discountdomain.ErrUnknownDiscount)
}

func TestToggleDiscount_SuppressesAutoBundle(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("roofing", 20000), service("windows-doors", 8000))

	out, err := h.engine.ToggleDiscount(context.Background(), discountdomain.AutoBundleID, false)
	require.NoError(t, err)
	assert.True(t, out.State.AutoBundleSuppressed)
	assert.Equal(t, 0.0, out.State.Discount)

	s := h.setServices(t, service("roofing", 20000), service("windows-doors", 9000))
	assert.Equal(t, 0.0, s.Discount)

	out, err = h.engine.ToggleDiscount(context.Background(), discountdomain.AutoBundleID, true)
	require.NoError(t, err)
	assert.Equal(t, 1450.0, out.State.Discount)
}

func TestToggleDiscount_PercentageFollowsSubtotal(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("siding", 10000))

	out, err := h.engine.ToggleDiscount(context.Background(), "seasonal-promo", true)
	require.NoError(t, err)
	assert.Equal(t, 200.0, discountByID(t, out.State, "seasonal-promo").Amount)

	s := h.setServices(t, service("siding", 15000))
	assert.Equal(t, 300.0, discountByID(t, s, "seasonal-promo").Amount)
}

func TestEditDiscountAmount_CatalogDiscountsAreNeverGated(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("siding", 10000))

	out, err := h.engine.EditDiscountAmount(context.Background(), "senior-citizen", 5000)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, out.Kind)
	assert.Equal(t, 5000.0, out.State.Discount)

	_, err = h.engine.EditDiscountAmount(context.Background(), discountdomain.AutoBundleID, 10)
	assert.ErrorIs(t, err, discountdomain.ErrSystemDiscountEdit)
}

func TestEditDiscountAmount_BundleOverLimitIsHeld(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("siding", 10000))

	out, err := h.engine.EditDiscountAmount(context.Background(), "multi-service", 1500)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApprovalRequired, out.Kind)
	assert.Equal(t, domain.StatusAwaitingApproval, out.State.Status)
	assert.Equal(t, 0.0, out.State.Discount)
	require.NotNil(t, out.State.Approval.Pending)
	assert.Equal(t, domain.ChangeEditDiscount, out.State.Approval.Pending.Kind)
	assert.Equal(t, 15.0, out.State.Approval.Pending.DiscountPercent)

	out, err = h.engine.EditDiscountAmount(context.Background(), "multi-service", 900)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, out.Kind)
	assert.Equal(t, 900.0, out.State.Discount)
}

func TestGate_PreApprovedDiscountsDoNotUseAuthority(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("siding", 4000))
	_, err := h.engine.ToggleDiscount(context.Background(), "senior-citizen", true)
	require.NoError(t, err)

	out, err := h.engine.EditDiscountAmount(context.Background(), "multi-service", 10)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, out.Kind)
	assert.Equal(t, 510.0, out.State.Discount)
}

func TestGate_ManualOverrideMeasuredWithoutAutoBundle(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("roofing", 20000), service("windows-doors", 8000))

	out, err := h.engine.ApplyManualDiscount(context.Background(), 1500)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, out.Kind)
	assert.Equal(t, 2900.0, out.State.Discount)

	out, err = h.engine.ApplyManualDiscount(context.Background(), 3000)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApprovalRequired, out.Kind)
	require.NotNil(t, out.State.Approval.Pending)
	assert.InDelta(t, 10.71, out.State.Approval.Pending.DiscountPercent, 0.01)
}

func TestGate_TotalOverrideExcludesPreApprovedSum(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("roofing", 20000), service("windows-doors", 8000))
	_, err := h.engine.ToggleDiscount(context.Background(), "senior-citizen", true)
	require.NoError(t, err)

	// 28,000 less 1,900 pre-approved less 2,000 typed
	out, err := h.engine.SetTotalOverride(context.Background(), 24100)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, out.Kind)
	assert.Equal(t, 24100.0, out.State.Total)

	out, err = h.engine.SetTotalOverride(context.Background(), 23000)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApprovalRequired, out.Kind)
	assert.Equal(t, 24100.0, out.State.Total)
}

func TestApplyManualDiscount_SecondGatedChangeWhilePending(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("siding", 10000))

	out, err := h.engine.ApplyManualDiscount(context.Background(), 2000)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApprovalRequired, out.Kind)

	_, err = h.engine.SetTotalOverride(context.Background(), 7000)
	assert.ErrorIs(t, err, domain.ErrApprovalPending)

	out, err = h.engine.CancelPendingApproval(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApprovalCancelled, out.Kind)
	assert.Equal(t, domain.GateIdle, out.State.Approval.Phase)
	assert.Equal(t, domain.GateCancelled, out.State.Approval.LastOutcome)
	assert.Equal(t, domain.StatusIdle, out.State.Status)

	_, err = h.engine.CancelPendingApproval(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoPendingChange)
}

func TestApproval_RejectedKeepsLastGoodState(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("siding", 10000))
	_, err := h.engine.ToggleDiscount(context.Background(), "referral", true)
	require.NoError(t, err)
	before := h.engine.Snapshot()
	require.Equal(t, 200.0, before.Discount)

	out, err := h.engine.ApplyManualDiscount(context.Background(), 2000)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApprovalRequired, out.Kind)

	out, err = h.engine.SubmitApproval(context.Background(), "customer is price shopping")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApprovalSubmitted, out.Kind)
	assert.NotEmpty(t, out.State.ProposalID)

	requests := h.approvals.requests()
	require.Len(t, requests, 1)
	assert.Equal(t, out.State.ProposalID, requests[0].ProposalID)
	assert.Equal(t, 200.0, requests[0].OriginalValue)
	assert.Equal(t, 2000.0, requests[0].RequestedValue)
	assert.Equal(t, 20.0, requests[0].DiscountPercent)
	assert.Equal(t, "customer is price shopping", requests[0].RequestNotes)

	_, err = h.engine.SubmitApproval(context.Background(), "again")
	assert.ErrorIs(t, err, domain.ErrAlreadySubmitted)

	h.approvals.decide(out.State.Approval.RequestID, approvaldomain.StatusRejected, "Morgan", "margin too thin")
	out, err = h.engine.RefreshApproval(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApprovalRejected, out.Kind)
	assert.Equal(t, "margin too thin", out.Message)

	s := out.State
	assert.Equal(t, before.Discount, s.Discount)
	assert.Equal(t, before.Total, s.Total)
	assert.False(t, s.ManualOverride.Active)
	assert.Equal(t, domain.GateRejected, s.Approval.LastOutcome)
	assert.Equal(t, "Morgan", s.Approval.ApproverName)
	assert.Equal(t, domain.StatusIdle, s.Status)
}

func TestApproval_ApprovedChangeIsApplied(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("siding", 10000))

	_, err := h.engine.ApplyManualDiscount(context.Background(), 2000)
	require.NoError(t, err)
	out, err := h.engine.SubmitApproval(context.Background(), "")
	require.NoError(t, err)

	h.approvals.decide(out.State.Approval.RequestID, approvaldomain.StatusApproved, "Morgan", "")
	out, err = h.engine.RefreshApproval(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApprovalApproved, out.Kind)
	assert.Equal(t, 2000.0, out.State.Discount)
	assert.Equal(t, 8000.0, out.State.Total)
	assert.Equal(t, domain.GateApproved, out.State.Approval.LastOutcome)

	last := out.State.DiscountLog[len(out.State.DiscountLog)-1]
	assert.Equal(t, domain.LogTypeManualOverride, last.DiscountType)
	assert.Equal(t, 0.0, last.PreviousValue)
	assert.Equal(t, 2000.0, last.NewValue)
	assert.Equal(t, "42", last.UserID)
}

func TestApproval_PollerAppliesDecision(t *testing.T) {
	h := newHarness(t, func(cfg *config.PricingConfig) {
		cfg.ApprovalPollInterval = 5 * time.Millisecond
	})
	h.setServices(t, service("siding", 10000))

	_, err := h.engine.SetTotalOverride(context.Background(), 7500)
	require.NoError(t, err)
	out, err := h.engine.SubmitApproval(context.Background(), "")
	require.NoError(t, err)

	h.approvals.decide(out.State.Approval.RequestID, approvaldomain.StatusApproved, "Morgan", "ok")
	assert.Eventually(t, func() bool {
		return h.engine.Snapshot().Approval.LastOutcome == domain.GateApproved
	}, 2*time.Second, 5*time.Millisecond)

	s := h.engine.Snapshot()
	assert.True(t, s.PricingOverrideEnabled)
	assert.Equal(t, 7500.0, s.Total)
	assert.Equal(t, 0.0, s.Discount)
}

func TestSubmitApproval_PersistenceFailureKeepsPendingChange(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("siding", 10000))
	h.approvals.createErr = errStoreDown

	_, err := h.engine.ApplyManualDiscount(context.Background(), 2000)
	require.NoError(t, err)

	_, err = h.engine.SubmitApproval(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, errStoreDown)

	s := h.engine.Snapshot()
	assert.Equal(t, domain.GatePending, s.Approval.Phase)
	assert.False(t, s.Approval.Submitted)
	assert.NotEmpty(t, s.ProposalID)

	h.approvals.mu.Lock()
	h.approvals.createErr = nil
	h.approvals.mu.Unlock()
	_, err = h.engine.SubmitApproval(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, h.proposals.saved)
}

func TestSubmitApproval_WithoutPendingChange(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.SubmitApproval(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrNoPendingChange)
}

func TestSetTotalOverride_WithinLimit(t *testing.T) {
	h := newHarness(t)
	h.install(t, 30)
	h.setServices(t, service("siding", 10000))

	out, err := h.engine.SetTotalOverride(context.Background(), 8000)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, out.Kind)
	assert.Equal(t, 8000.0, out.State.Total)
	assert.Equal(t, 0.0, out.State.Discount)

	s := h.setServices(t, service("siding", 12000))
	assert.Equal(t, 8000.0, s.Total)

	out, err = h.engine.ClearTotalOverride(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12000.0, out.State.Total)
}

func TestCustomAdders(t *testing.T) {
	h := newHarness(t)

	out, err := h.engine.AddCustomAdder(context.Background(), domain.CustomAdder{
		Category:    "Permit Fees",
		Description: " city permit ",
		Cost:        -50,
	})
	require.NoError(t, err)
	require.Len(t, out.State.CustomAdders, 1)
	adder := out.State.CustomAdders[0]
	assert.NotEmpty(t, adder.ID)
	assert.Equal(t, "permit-fees", adder.Category)
	assert.Equal(t, "city permit", adder.Description)
	assert.Equal(t, 0.0, adder.Cost)

	out, err = h.engine.AddCustomAdder(context.Background(), domain.CustomAdder{ID: "dumpster", Category: "disposal", Cost: 450})
	require.NoError(t, err)
	assert.Equal(t, 450.0, out.State.Subtotal)

	_, err = h.engine.AddCustomAdder(context.Background(), domain.CustomAdder{ID: "dumpster"})
	assert.ErrorIs(t, err, domain.ErrDuplicateAdder)

	out, err = h.engine.RemoveCustomAdder(context.Background(), "dumpster")
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.State.Subtotal)

	_, err = h.engine.RemoveCustomAdder(context.Background(), "dumpster")
	assert.ErrorIs(t, err, domain.ErrUnknownAdder)
}

func TestDiscountLog_RecordsChangesWithActor(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("siding", 10000))

	ctx := actorcontext.WithUserID(context.Background(), snowflake.ID(7))
	out, err := h.engine.ToggleDiscount(ctx, "military", true)
	require.NoError(t, err)
	require.NotEmpty(t, out.State.DiscountLog)

	last := out.State.DiscountLog[len(out.State.DiscountLog)-1]
	assert.Equal(t, "military", last.DiscountType)
	assert.Equal(t, 0.0, last.PreviousValue)
	assert.Equal(t, 500.0, last.NewValue)
	assert.Equal(t, "7", last.UserID)
	assert.Equal(t, h.clock.Now(), last.Timestamp)

	count := len(out.State.DiscountLog)
	out, err = h.engine.SetFinancingTerms(ctx, 60, 5)
	require.NoError(t, err)
	assert.Len(t, out.State.DiscountLog, count)
}

func TestDiscountLog_RecordsOneCentChange(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("siding", 10000))
	_, err := h.engine.EditDiscountAmount(context.Background(), "repeat-customer", 500)
	require.NoError(t, err)
	count := len(h.engine.Snapshot().DiscountLog)

	out, err := h.engine.EditDiscountAmount(context.Background(), "repeat-customer", 500.01)
	require.NoError(t, err)
	require.Len(t, out.State.DiscountLog, count+1)
	last := out.State.DiscountLog[count]
	assert.Equal(t, "repeat-customer", last.DiscountType)
	assert.Equal(t, 500.0, last.PreviousValue)
	assert.Equal(t, 500.01, last.NewValue)
}

func TestApproval_ApprovedChangeThatNoLongerAppliesIsClosed(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("siding", 10000))
	before := h.engine.Snapshot()

	_, err := h.engine.ApplyManualDiscount(context.Background(), 2000)
	require.NoError(t, err)
	out, err := h.engine.SubmitApproval(context.Background(), "")
	require.NoError(t, err)
	requestID := out.State.Approval.RequestID

	_, err = h.engine.do(context.Background(), "corrupt", func(context.Context) (domain.Outcome, error) {
		pending := *h.engine.state.Approval.Pending
		pending.Kind = "unsupported"
		h.engine.state.Approval.Pending = &pending
		return domain.Outcome{}, nil
	})
	require.NoError(t, err)

	h.approvals.decide(requestID, approvaldomain.StatusApproved, "Morgan", "ok")
	out, err = h.engine.RefreshApproval(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApprovalRejected, out.Kind)
	assert.Contains(t, out.Message, "could not be applied")

	s := h.engine.Snapshot()
	assert.Equal(t, domain.GateIdle, s.Approval.Phase)
	assert.Equal(t, domain.GateRejected, s.Approval.LastOutcome)
	assert.Equal(t, domain.StatusIdle, s.Status)
	assert.Equal(t, before.Discount, s.Discount)
	assert.False(t, s.ManualOverride.Active)

	_, err = h.engine.Finalize(context.Background())
	assert.NoError(t, err)
}

func TestFinalize(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("siding", 10000))

	out, err := h.engine.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFinalized, out.Kind)
	assert.True(t, out.State.Finalized)
	require.Len(t, h.proposals.finalized, 1)
	assert.Equal(t, out.State.ProposalID, h.proposals.finalized[0].ID)

	require.Len(t, h.audit.entries, 1)
	entry := h.audit.entries[0]
	assert.Equal(t, "pricing.finalize", entry.action)
	assert.Equal(t, out.State.ProposalID, *entry.targetID)
	assert.Equal(t, 10000.0, entry.metadata["total"])

	_, err = h.engine.ToggleDiscount(context.Background(), "referral", true)
	assert.ErrorIs(t, err, domain.ErrFinalized)
	_, err = h.engine.Finalize(context.Background())
	assert.ErrorIs(t, err, domain.ErrFinalized)
}

func TestFinalize_BlockedWhilePending(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("siding", 10000))
	_, err := h.engine.ApplyManualDiscount(context.Background(), 5000)
	require.NoError(t, err)

	_, err = h.engine.Finalize(context.Background())
	assert.ErrorIs(t, err, domain.ErrApprovalPending)
}

func TestFinalize_PersistenceFailure(t *testing.T) {
	h := newHarness(t)
	h.proposals.finalizeErr = errStoreDown

	_, err := h.engine.Finalize(context.Background())
	require.ErrorIs(t, err, domain.ErrPersistence)
	s := h.engine.Snapshot()
	assert.False(t, s.Finalized)
	assert.NotEmpty(t, s.ProposalID)
}

func TestExecute_PanicRestoresState(t *testing.T) {
	h := newHarness(t)
	h.setServices(t, service("siding", 10000))
	before := h.engine.Snapshot()

	_, err := h.engine.do(context.Background(), "boom", func(context.Context) (domain.Outcome, error) {
		h.engine.state.Subtotal = -1
		panic("boom")
	})
	require.ErrorIs(t, err, domain.ErrRecomputeFailed)

	s := h.engine.Snapshot()
	assert.Equal(t, before.Version, s.Version)

	out, err := h.engine.ToggleDiscount(context.Background(), "referral", true)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, out.State.Subtotal)
	assert.Equal(t, before.Version+1, out.State.Version)
}

func TestTotalInvariantHoldsForRandomOperations(t *testing.T) {
	h := newHarness(t)
	h.install(t, 100)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(11))
	ids := []string{"roofing", "windows-doors", "hvac", "siding", "gutters"}
	discounts := discountdomain.Catalog()

	for i := 0; i < 200; i++ {
		switch rng.Intn(5) {
		case 0:
			var lines []domain.ServiceLine
			for _, id := range ids {
				if rng.Intn(2) == 0 {
					lines = append(lines, service(id, float64(rng.Intn(2000000))/100))
				}
			}
			_, _ = h.engine.SetServices(ctx, lines)
		case 1:
			d := discounts[rng.Intn(len(discounts))]
			_, _ = h.engine.ToggleDiscount(ctx, d.ID, rng.Intn(2) == 0)
		case 2:
			d := discounts[rng.Intn(len(discounts))]
			_, _ = h.engine.EditDiscountAmount(ctx, d.ID, float64(rng.Intn(300000))/100)
		case 3:
			_, _ = h.engine.ApplyManualDiscount(ctx, float64(rng.Intn(100000))/100)
		case 4:
			_, _ = h.engine.ResetManualDiscount(ctx)
		}

		s := h.engine.Snapshot()
		require.False(t, s.PricingOverrideEnabled)
		manual := 0.0
		if s.ManualOverride.Active {
			manual = s.ManualOverride.Amount
		}
		assert.InDelta(t, money.Sum(s.EnabledDiscountSum(), manual), s.Discount, money.Tolerance)
		assert.InDelta(t, s.Subtotal-s.Discount, s.Total, money.Tolerance)
		assert.Zero(t, resolver.Violations(s.DiscountTypes))
		for _, d := range s.DiscountTypes {
			if !d.IsEnabled {
				assert.Zero(t, d.Amount, d.ID)
			}
		}
	}
}

func TestCommands_RunInOrderAndVersionsIncrease(t *testing.T) {
	h := newHarness(t)
	updates, cancel := h.engine.Subscribe()
	defer cancel()
	<-updates

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.engine.AddCustomAdder(context.Background(), domain.CustomAdder{
				ID:   "adder-" + string(rune('a'+i%26)) + string(rune('a'+i/26)),
				Cost: 10,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	s := h.engine.Snapshot()
	assert.Len(t, s.CustomAdders, n)
	assert.Equal(t, float64(n*10), s.Subtotal)
	assert.EqualValues(t, 1+n, s.Version)

	latest := <-updates
	assert.Equal(t, s.Version, latest.Version)
}

func TestClose_DrainsQueueThenRejects(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.SetFinancingTerms(context.Background(), 60, 4)
			if err == nil {
				mu.Lock()
				applied++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrSessionClosed)
		}()
	}
	h.engine.Close()
	wg.Wait()

	assert.EqualValues(t, 1+applied, h.engine.Snapshot().Version)
	_, err := h.engine.ResetManualDiscount(context.Background())
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}
