package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, item *Proposal) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Proposal, error)
	// FindByIDForUpdate locks the row on dialects that support it.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Proposal, error)
	Update(ctx context.Context, db *gorm.DB, item *Proposal) error
}
