package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	permissiondomain "github.com/smallbiznis/proposalpricing/internal/permission/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() permissiondomain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, item *permissiondomain.UserPermission) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "role", "max_discount_percent", "updated_at"}),
	}).Create(item).Error
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*permissiondomain.UserPermission, error) {
	var item permissiondomain.UserPermission
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) ListByRoles(ctx context.Context, db *gorm.DB, roles []permissiondomain.Role) ([]permissiondomain.UserPermission, error) {
	var items []permissiondomain.UserPermission
	err := db.WithContext(ctx).
		Where("role IN ?", roles).
		Order("name ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
