package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ApprovalRequest asks a manager to allow a discount above the requestor's authority.
type ApprovalRequest struct {
	ID                 snowflake.ID   `json:"id" gorm:"primaryKey"`
	ProposalID         snowflake.ID   `json:"proposalId" gorm:"column:proposal_id;not null;index"`
	RequestorID        string         `json:"requestorId" gorm:"column:requestor_id;type:varchar(64)"`
	OriginalValue      float64        `json:"originalValue" gorm:"column:original_value;type:numeric;not null"`
	RequestedValue     float64        `json:"requestedValue" gorm:"column:requested_value;type:numeric;not null"`
	DiscountPercent    float64        `json:"discountPercent" gorm:"column:discount_percent;type:numeric;not null"`
	Status             Status         `json:"status" gorm:"type:varchar(16);not null;default:pending;index"`
	AssignedApproverID *string        `json:"assignedApproverId,omitempty" gorm:"column:assigned_approver_id;type:varchar(64)"`
	ApproverID         *string        `json:"approverId,omitempty" gorm:"column:approver_id;type:varchar(64)"`
	ApproverName       *string        `json:"approverName,omitempty" gorm:"column:approver_name;type:text"`
	Notes              *string        `json:"notes,omitempty" gorm:"type:text"`
	RequestNotes       string         `json:"requestNotes" gorm:"column:request_notes;type:text"`
	DiscountSnapshot   datatypes.JSON `json:"discountSnapshot" gorm:"column:discount_snapshot"`
	CreatedAt          time.Time      `json:"createdAt" gorm:"not null"`
	ResolvedAt         *time.Time     `json:"resolvedAt,omitempty" gorm:"column:resolved_at"`
}

func (ApprovalRequest) TableName() string { return "approval_requests" }

// DiscountSnapshotEntry records one enabled discount at submission time.
type DiscountSnapshotEntry struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}
