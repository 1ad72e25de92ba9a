package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	approvaldomain "github.com/smallbiznis/proposalpricing/internal/approval/domain"
	auditdomain "github.com/smallbiznis/proposalpricing/internal/audit/domain"
	"github.com/smallbiznis/proposalpricing/internal/clock"
	permissiondomain "github.com/smallbiznis/proposalpricing/internal/permission/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        approvaldomain.Repository
	Permissions permissiondomain.Service
	Audit       auditdomain.Service `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        approvaldomain.Repository
	permissions permissiondomain.Service
	audit       auditdomain.Service
}

func New(p Params) approvaldomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("approval.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		permissions: p.Permissions,
		audit:       p.Audit,
	}
}

func (s *Service) CreateApprovalRequest(ctx context.Context, req approvaldomain.CreateRequest) (*approvaldomain.ApprovalRequest, error) {
	proposalID, err := snowflake.ParseString(strings.TrimSpace(req.ProposalID))
	if err != nil || proposalID == 0 {
		return nil, approvaldomain.ErrInvalidProposal
	}
	if invalidAmount(req.OriginalValue) || invalidAmount(req.RequestedValue) || invalidAmount(req.DiscountPercent) {
		return nil, approvaldomain.ErrInvalidRequested
	}

	snapshot := req.DiscountSnapshot
	if snapshot == nil {
		snapshot = []approvaldomain.DiscountSnapshotEntry{}
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode discount snapshot: %w", err)
	}

	item := &approvaldomain.ApprovalRequest{
		ID:               s.genID.Generate(),
		ProposalID:       proposalID,
		RequestorID:      strings.TrimSpace(req.RequestorID),
		OriginalValue:    req.OriginalValue,
		RequestedValue:   req.RequestedValue,
		DiscountPercent:  req.DiscountPercent,
		Status:           approvaldomain.StatusPending,
		RequestNotes:     strings.TrimSpace(req.RequestNotes),
		DiscountSnapshot: datatypes.JSON(raw),
		CreatedAt:        s.clock.Now(),
	}

	if approver, err := s.permissions.FindApprover(ctx); err == nil {
		item.AssignedApproverID = &approver.UserID
	} else if !errors.Is(err, permissiondomain.ErrNotFound) {
		s.log.Warn("approver lookup failed", zap.Error(err))
	}

	if err := s.repo.Insert(ctx, s.db, item); err != nil {
		return nil, err
	}

	s.log.Info("approval requested",
		zap.String("approval_id", item.ID.String()),
		zap.String("proposal_id", item.ProposalID.String()),
		zap.Float64("discount_percent", item.DiscountPercent),
	)
	s.auditLog(ctx, item.RequestorID, "approval.request", item, map[string]any{
		"requested_value":  item.RequestedValue,
		"discount_percent": item.DiscountPercent,
	})
	return item, nil
}

func (s *Service) GetApprovalRequestStatus(ctx context.Context, id string) (*approvaldomain.StatusResult, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &approvaldomain.StatusResult{
		ID:         item.ID.String(),
		Status:     item.Status,
		ResolvedAt: item.ResolvedAt,
	}
	if item.ApproverName != nil {
		result.ApproverName = *item.ApproverName
	}
	if item.Notes != nil {
		result.Notes = *item.Notes
	}
	return result, nil
}

func (s *Service) Get(ctx context.Context, id string) (*approvaldomain.ApprovalRequest, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed == 0 {
		return nil, approvaldomain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, s.db, parsed)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, approvaldomain.ErrNotFound
	}
	return item, nil
}

func (s *Service) Resolve(ctx context.Context, req approvaldomain.ResolveRequest) (*approvaldomain.ApprovalRequest, error) {
	decision := approvaldomain.Status(strings.ToLower(strings.TrimSpace(string(req.Decision))))
	if !decision.Terminal() {
		return nil, approvaldomain.ErrInvalidDecision
	}

	item, err := s.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if item.Status.Terminal() {
		return nil, approvaldomain.ErrAlreadyResolved
	}

	approver, err := s.permissions.GetUserPermissions(ctx, req.ApproverID)
	if err != nil {
		if errors.Is(err, permissiondomain.ErrNotFound) || errors.Is(err, permissiondomain.ErrInvalidUser) {
			return nil, approvaldomain.ErrForbidden
		}
		return nil, err
	}
	if !approver.CanApproveDiscounts {
		return nil, approvaldomain.ErrForbidden
	}

	var notes *string
	if trimmed := strings.TrimSpace(req.Notes); trimmed != "" {
		notes = &trimmed
	}
	update := approvaldomain.ResolveUpdate{
		Status:       decision,
		ApproverID:   approver.UserID,
		ApproverName: approver.Name,
		Notes:        notes,
		ResolvedAt:   s.clock.Now(),
	}

	ok, err := s.repo.ResolvePending(ctx, s.db, item.ID, update)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, approvaldomain.ErrAlreadyResolved
	}

	item.Status = update.Status
	item.ApproverID = &update.ApproverID
	item.ApproverName = &update.ApproverName
	item.Notes = notes
	item.ResolvedAt = &update.ResolvedAt

	s.log.Info("approval resolved",
		zap.String("approval_id", item.ID.String()),
		zap.String("decision", string(decision)),
		zap.String("approver_id", approver.UserID),
	)
	s.auditLog(ctx, approver.UserID, "approval.resolve", item, map[string]any{
		"decision": string(decision),
	})
	return item, nil
}

func (s *Service) auditLog(ctx context.Context, actorID, action string, item *approvaldomain.ApprovalRequest, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	targetID := item.ID.String()
	var actor *string
	if actorID != "" {
		actor = &actorID
	}
	metadata["proposal_id"] = item.ProposalID.String()
	if err := s.audit.AuditLog(ctx, actor, action, "approval_request", &targetID, metadata); err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func invalidAmount(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0) || v < 0
}
