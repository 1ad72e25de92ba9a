package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// FinancingPlan is a lender plan offered to customers. The pricing engine
// treats plans as read-only.
type FinancingPlan struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	Provider      string       `json:"provider" gorm:"type:text;not null;index"`
	PlanNumber    string       `json:"planNumber" gorm:"column:plan_number;type:text;not null"`
	PlanName      string       `json:"planName" gorm:"column:plan_name;type:text;not null"`
	InterestRate  float64      `json:"interestRate" gorm:"column:interest_rate;type:numeric;not null;default:0"`
	TermMonths    int32        `json:"termMonths" gorm:"column:term_months;not null;default:0"`
	PaymentFactor float64      `json:"paymentFactor" gorm:"column:payment_factor;type:numeric;not null;default:0"`
	MerchantFee   float64      `json:"merchantFee" gorm:"column:merchant_fee;type:numeric;not null;default:0"`
	Notes         string       `json:"notes,omitempty" gorm:"type:text"`
	Active        bool         `json:"active" gorm:"not null;default:true"`
	CreatedAt     time.Time    `json:"createdAt" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time    `json:"updatedAt" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (FinancingPlan) TableName() string { return "financing_plans" }
