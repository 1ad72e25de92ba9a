package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	approvaldomain "github.com/smallbiznis/proposalpricing/internal/approval/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() approvaldomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, item *approvaldomain.ApprovalRequest) error {
	return db.WithContext(ctx).Create(item).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*approvaldomain.ApprovalRequest, error) {
	var item approvaldomain.ApprovalRequest
	err := db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) ResolvePending(ctx context.Context, db *gorm.DB, id snowflake.ID, update approvaldomain.ResolveUpdate) (bool, error) {
	res := db.WithContext(ctx).
		Model(&approvaldomain.ApprovalRequest{}).
		Where("id = ? AND status = ?", id, approvaldomain.StatusPending).
		Updates(map[string]any{
			"status":        update.Status,
			"approver_id":   update.ApproverID,
			"approver_name": update.ApproverName,
			"notes":         update.Notes,
			"resolved_at":   update.ResolvedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
