package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleSales   Role = "sales"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// UserPermission is the discount authority of one user.
type UserPermission struct {
	UserID             snowflake.ID `json:"userId" gorm:"column:user_id;primaryKey"`
	Name               string       `json:"name" gorm:"type:text;not null"`
	Role               Role         `json:"role" gorm:"type:text;not null;default:sales"`
	MaxDiscountPercent float64      `json:"maxDiscountPercent" gorm:"column:max_discount_percent;type:numeric;not null;default:0"`
	CreatedAt          time.Time    `json:"createdAt" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time    `json:"updatedAt" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (UserPermission) TableName() string { return "user_permissions" }

// Permissions is the view consumed by the pricing engine.
type Permissions struct {
	UserID              string  `json:"userId"`
	Name                string  `json:"name"`
	Role                Role    `json:"role"`
	MaxDiscountPercent  float64 `json:"maxDiscountPercent"`
	CanApproveDiscounts bool    `json:"canApproveDiscounts"`
}
