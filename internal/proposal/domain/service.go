package domain

import (
	"context"
	"errors"
)

type Service interface {
	SaveOrUpdateProposal(ctx context.Context, req SaveRequest) (*Proposal, error)
	FinalizeProposal(ctx context.Context, req FinalizeRequest) (*Proposal, error)
	Get(ctx context.Context, id string) (*Proposal, error)
}

// SaveRequest creates a draft when ID is empty, otherwise updates the draft.
type SaveRequest struct {
	ID           string
	CustomerName string
	CreatedBy    string
	Pricing      any
}

type FinalizeRequest struct {
	ID          string
	ActorID     string
	Pricing     any
	DiscountLog any
}

var (
	ErrInvalidID        = errors.New("invalid_proposal_id")
	ErrNotFound         = errors.New("proposal_not_found")
	ErrAlreadyFinalized = errors.New("proposal_already_finalized")
)
