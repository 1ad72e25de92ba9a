package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ResolveUpdate struct {
	Status       Status
	ApproverID   string
	ApproverName string
	Notes        *string
	ResolvedAt   time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, item *ApprovalRequest) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ApprovalRequest, error)
	// ResolvePending transitions a pending request; it reports false when the
	// request was no longer pending.
	ResolvePending(ctx context.Context, db *gorm.DB, id snowflake.ID, update ResolveUpdate) (bool, error)
}
