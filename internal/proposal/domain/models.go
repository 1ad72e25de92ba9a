package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusFinalized Status = "finalized"
)

// Proposal is the persisted sales proposal. Pricing and DiscountLog hold the
// JSON snapshot of the last saved pricing session.
type Proposal struct {
	ID           snowflake.ID   `json:"id" gorm:"primaryKey"`
	CustomerName string         `json:"customerName" gorm:"column:customer_name;type:text;not null"`
	CreatedBy    *string        `json:"createdBy,omitempty" gorm:"column:created_by;type:varchar(64)"`
	Status       Status         `json:"status" gorm:"type:varchar(16);not null;default:draft"`
	Pricing      datatypes.JSON `json:"pricing,omitempty" gorm:"column:pricing"`
	DiscountLog  datatypes.JSON `json:"discountLog,omitempty" gorm:"column:discount_log"`
	FinalizedAt  *time.Time     `json:"finalizedAt,omitempty" gorm:"column:finalized_at"`
	CreatedAt    time.Time      `json:"createdAt" gorm:"not null"`
	UpdatedAt    time.Time      `json:"updatedAt" gorm:"not null"`
}

func (Proposal) TableName() string { return "proposals" }
