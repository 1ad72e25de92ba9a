package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	financingdomain "github.com/smallbiznis/proposalpricing/internal/financing/domain"
	permissiondomain "github.com/smallbiznis/proposalpricing/internal/permission/domain"
	pkgdb "github.com/smallbiznis/proposalpricing/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Demo users addressable through the X-User-ID header.
const (
	DefaultSalesUserID   snowflake.ID = 1001
	DefaultManagerUserID snowflake.ID = 1002
)

var defaultPlans = []financingdomain.FinancingPlan{
	{Provider: "GreenSky", PlanNumber: "1519", PlanName: "12 Months Same As Cash", InterestRate: 26.99, TermMonths: 144, PaymentFactor: 2.0, MerchantFee: 7.5},
	{Provider: "GreenSky", PlanNumber: "4158", PlanName: "9.99% for 120 Months", InterestRate: 9.99, TermMonths: 120, PaymentFactor: 1.32, MerchantFee: 12},
	{Provider: "Service Finance", PlanNumber: "SF-845", PlanName: "6.99% for 180 Months", InterestRate: 6.99, TermMonths: 180, PaymentFactor: 0.9, MerchantFee: 14},
	{Provider: "Synchrony", PlanNumber: "SY-24", PlanName: "24 Months No Interest", InterestRate: 0, TermMonths: 24, PaymentFactor: 3.5, MerchantFee: 9},
}

var defaultUsers = []permissiondomain.UserPermission{
	{UserID: DefaultSalesUserID, Name: "Sales Rep", Role: permissiondomain.RoleSales, MaxDiscountPercent: 10},
	{UserID: DefaultManagerUserID, Name: "Sales Manager", Role: permissiondomain.RoleManager, MaxDiscountPercent: 30},
}

// EnsureDefaults seeds financing plans and demo permissions. Existing rows
// are left untouched.
func EnsureDefaults(db *gorm.DB, node *snowflake.Node, log *zap.Logger) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if node == nil {
		var err error
		if node, err = snowflake.NewNode(1); err != nil {
			return err
		}
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx := context.Background()
	created := 0
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, plan := range defaultPlans {
			ok, err := ensurePlanTx(ctx, tx, node, plan, now)
			if err != nil {
				return err
			}
			if ok {
				created++
			}
		}
		for _, user := range defaultUsers {
			ok, err := ensureUserTx(ctx, tx, user, now)
			if err != nil {
				return err
			}
			if ok {
				created++
			}
		}
		return nil
	})
	if pkgdb.IsDuplicateKeyErr(err) {
		// another instance seeded the same rows first
		log.Named("seed").Info("defaults already seeded")
		return nil
	}
	if err != nil {
		return err
	}
	if created > 0 {
		log.Named("seed").Info("seeded defaults", zap.Int("rows", created))
	}
	return nil
}

func ensurePlanTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, plan financingdomain.FinancingPlan, now time.Time) (bool, error) {
	var existing financingdomain.FinancingPlan
	err := tx.WithContext(ctx).
		Where("provider = ? AND plan_number = ?", plan.Provider, plan.PlanNumber).
		First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	plan.ID = node.Generate()
	plan.Active = true
	plan.CreatedAt = now
	plan.UpdatedAt = now
	return true, tx.WithContext(ctx).Create(&plan).Error
}

func ensureUserTx(ctx context.Context, tx *gorm.DB, user permissiondomain.UserPermission, now time.Time) (bool, error) {
	var existing permissiondomain.UserPermission
	err := tx.WithContext(ctx).Where("user_id = ?", user.UserID).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return true, tx.WithContext(ctx).Create(&user).Error
}
