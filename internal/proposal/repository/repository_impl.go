package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	proposaldomain "github.com/smallbiznis/proposalpricing/internal/proposal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() proposaldomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, item *proposaldomain.Proposal) error {
	return db.WithContext(ctx).Create(item).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*proposaldomain.Proposal, error) {
	return r.find(db.WithContext(ctx), id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*proposaldomain.Proposal, error) {
	stmt := db.WithContext(ctx)
	if stmt.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.find(stmt, id)
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, item *proposaldomain.Proposal) error {
	return db.WithContext(ctx).
		Model(&proposaldomain.Proposal{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"customer_name": item.CustomerName,
			"status":        item.Status,
			"pricing":       item.Pricing,
			"discount_log":  item.DiscountLog,
			"finalized_at":  item.FinalizedAt,
			"updated_at":    item.UpdatedAt,
		}).Error
}

func (r *repo) find(stmt *gorm.DB, id snowflake.ID) (*proposaldomain.Proposal, error) {
	var item proposaldomain.Proposal
	if err := stmt.Where("id = ?", id).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}
