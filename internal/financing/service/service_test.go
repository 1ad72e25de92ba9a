package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	financingdomain "github.com/smallbiznis/proposalpricing/internal/financing/domain"
	"github.com/smallbiznis/proposalpricing/internal/financing/repository"
	"github.com/smallbiznis/proposalpricing/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (financingdomain.Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewSQLiteDB(t, &financingdomain.FinancingPlan{})

	return New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.NewNode(t),
		Repo:  repository.Provide(),
	}), db
}

func TestGetActiveFinancingPlans_Dedupes(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, financingdomain.CreateRequest{Provider: "GreenSky", PlanNumber: "1519", PaymentFactor: 1.5, TermMonths: 84, MerchantFee: 6})
	require.NoError(t, err)
	_, err = svc.Create(ctx, financingdomain.CreateRequest{Provider: "greensky", PlanNumber: "1519", PaymentFactor: 1.5, TermMonths: 84, MerchantFee: 7})
	require.NoError(t, err)
	_, err = svc.Create(ctx, financingdomain.CreateRequest{Provider: "GreenSky", PlanNumber: "1519", PaymentFactor: 1.75, TermMonths: 60})
	require.NoError(t, err)
	inactive, err := svc.Create(ctx, financingdomain.CreateRequest{Provider: "Mosaic", PlanNumber: "A1", PaymentFactor: 2})
	require.NoError(t, err)
	require.NoError(t, db.Model(&financingdomain.FinancingPlan{}).Where("id = ?", inactive.ID).Update("active", false).Error)

	plans, err := svc.GetActiveFinancingPlans(ctx)
	require.NoError(t, err)

	require.Len(t, plans, 2)
	ids := []snowflake.ID{plans[0].ID, plans[1].ID}
	assert.Contains(t, ids, first.ID)
	for _, p := range plans {
		assert.NotEqual(t, inactive.ID, p.ID)
	}
}

func TestCreate_Validates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, financingdomain.CreateRequest{PlanNumber: "1", PaymentFactor: 1})
	assert.ErrorIs(t, err, financingdomain.ErrInvalidProvider)

	_, err = svc.Create(ctx, financingdomain.CreateRequest{Provider: "X", PaymentFactor: 1})
	assert.ErrorIs(t, err, financingdomain.ErrInvalidPlanNumber)

	_, err = svc.Create(ctx, financingdomain.CreateRequest{Provider: "X", PlanNumber: "1"})
	assert.ErrorIs(t, err, financingdomain.ErrInvalidPaymentFactor)

	plan, err := svc.Create(ctx, financingdomain.CreateRequest{Provider: "X", PlanNumber: "1", PaymentFactor: 2.1})
	require.NoError(t, err)
	assert.Equal(t, "X 1", plan.PlanName)
	assert.True(t, plan.Active)
}
