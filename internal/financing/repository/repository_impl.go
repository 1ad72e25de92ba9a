package repository

import (
	"context"

	financingdomain "github.com/smallbiznis/proposalpricing/internal/financing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() financingdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *financingdomain.FinancingPlan) error {
	return db.WithContext(ctx).Create(plan).Error
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB) ([]financingdomain.FinancingPlan, error) {
	var items []financingdomain.FinancingPlan
	err := db.WithContext(ctx).
		Where("active = ?", true).
		Order("provider ASC").
		Order("plan_number ASC").
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
