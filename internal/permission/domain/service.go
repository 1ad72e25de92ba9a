package domain

import (
	"context"
	"errors"
)

type Service interface {
	Upsert(ctx context.Context, req UpsertRequest) (*Permissions, error)
	GetUserPermissions(ctx context.Context, userID string) (*Permissions, error)
	CanApproveDiscounts(ctx context.Context, userID string) (bool, error)
	// FindApprover returns a user allowed to approve discounts, if any.
	FindApprover(ctx context.Context) (*Permissions, error)
}

type UpsertRequest struct {
	UserID             string  `json:"userId"`
	Name               string  `json:"name"`
	Role               Role    `json:"role"`
	MaxDiscountPercent float64 `json:"maxDiscountPercent"`
}

var (
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidRole    = errors.New("invalid_role")
	ErrInvalidPercent = errors.New("invalid_max_discount_percent")
	ErrNotFound       = errors.New("not_found")
)
