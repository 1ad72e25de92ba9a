package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	CreateApprovalRequest(ctx context.Context, req CreateRequest) (*ApprovalRequest, error)
	GetApprovalRequestStatus(ctx context.Context, id string) (*StatusResult, error)
	Get(ctx context.Context, id string) (*ApprovalRequest, error)
	Resolve(ctx context.Context, req ResolveRequest) (*ApprovalRequest, error)
}

type CreateRequest struct {
	ProposalID       string
	RequestorID      string
	OriginalValue    float64
	RequestedValue   float64
	DiscountPercent  float64
	RequestNotes     string
	DiscountSnapshot []DiscountSnapshotEntry
}

type StatusResult struct {
	ID           string     `json:"id"`
	Status       Status     `json:"status"`
	ApproverName string     `json:"approverName,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
}

type ResolveRequest struct {
	ID         string `json:"-"`
	ApproverID string `json:"-"`
	Decision   Status `json:"decision"`
	Notes      string `json:"notes"`
}

var (
	ErrInvalidID        = errors.New("invalid_approval_id")
	ErrInvalidProposal  = errors.New("invalid_proposal_id")
	ErrInvalidDecision  = errors.New("invalid_decision")
	ErrNotFound         = errors.New("approval_not_found")
	ErrAlreadyResolved  = errors.New("approval_already_resolved")
	ErrForbidden        = errors.New("approval_forbidden")
	ErrInvalidRequested = errors.New("invalid_requested_value")
)
