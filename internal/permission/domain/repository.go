package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, item *UserPermission) error
	FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*UserPermission, error)
	ListByRoles(ctx context.Context, db *gorm.DB, roles []Role) ([]UserPermission, error)
}
