package domain

import (
	"context"

	approvaldomain "github.com/smallbiznis/proposalpricing/internal/approval/domain"
	financingdomain "github.com/smallbiznis/proposalpricing/internal/financing/domain"
	permissiondomain "github.com/smallbiznis/proposalpricing/internal/permission/domain"
	proposaldomain "github.com/smallbiznis/proposalpricing/internal/proposal/domain"
)

type FinancingCatalog interface {
	GetActiveFinancingPlans(ctx context.Context) ([]financingdomain.FinancingPlan, error)
}

type PermissionSource interface {
	GetUserPermissions(ctx context.Context, userID string) (*permissiondomain.Permissions, error)
}

type ApprovalSource interface {
	CreateApprovalRequest(ctx context.Context, req approvaldomain.CreateRequest) (*approvaldomain.ApprovalRequest, error)
	GetApprovalRequestStatus(ctx context.Context, id string) (*approvaldomain.StatusResult, error)
}

type ProposalStore interface {
	SaveOrUpdateProposal(ctx context.Context, req proposaldomain.SaveRequest) (*proposaldomain.Proposal, error)
	FinalizeProposal(ctx context.Context, req proposaldomain.FinalizeRequest) (*proposaldomain.Proposal, error)
}

type AuditSink interface {
	AuditLog(ctx context.Context, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
}
