package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *FinancingPlan) error
	ListActive(ctx context.Context, db *gorm.DB) ([]FinancingPlan, error)
}
