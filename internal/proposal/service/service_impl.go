package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/proposalpricing/internal/audit/domain"
	"github.com/smallbiznis/proposalpricing/internal/clock"
	proposaldomain "github.com/smallbiznis/proposalpricing/internal/proposal/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  proposaldomain.Repository
	Audit auditdomain.Service `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  proposaldomain.Repository
	audit auditdomain.Service
}

func New(p Params) proposaldomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("proposal.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		audit: p.Audit,
	}
}

func (s *Service) SaveOrUpdateProposal(ctx context.Context, req proposaldomain.SaveRequest) (*proposaldomain.Proposal, error) {
	pricing, err := encodeJSON(req.Pricing)
	if err != nil {
		return nil, fmt.Errorf("encode pricing: %w", err)
	}
	now := s.clock.Now()

	if strings.TrimSpace(req.ID) == "" {
		item := &proposaldomain.Proposal{
			ID:           s.genID.Generate(),
			CustomerName: strings.TrimSpace(req.CustomerName),
			Status:       proposaldomain.StatusDraft,
			Pricing:      pricing,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if createdBy := strings.TrimSpace(req.CreatedBy); createdBy != "" {
			item.CreatedBy = &createdBy
		}
		if err := s.repo.Insert(ctx, s.db, item); err != nil {
			return nil, err
		}
		s.log.Info("proposal draft created", zap.String("proposal_id", item.ID.String()))
		return item, nil
	}

	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}

	var saved *proposaldomain.Proposal
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if item == nil {
			return proposaldomain.ErrNotFound
		}
		if item.Status == proposaldomain.StatusFinalized {
			return proposaldomain.ErrAlreadyFinalized
		}

		if name := strings.TrimSpace(req.CustomerName); name != "" {
			item.CustomerName = name
		}
		if pricing != nil {
			item.Pricing = pricing
		}
		item.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, item); err != nil {
			return err
		}
		saved = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Service) FinalizeProposal(ctx context.Context, req proposaldomain.FinalizeRequest) (*proposaldomain.Proposal, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	pricing, err := encodeJSON(req.Pricing)
	if err != nil {
		return nil, fmt.Errorf("encode pricing: %w", err)
	}
	discountLog, err := encodeJSON(req.DiscountLog)
	if err != nil {
		return nil, fmt.Errorf("encode discount log: %w", err)
	}

	var finalized *proposaldomain.Proposal
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if item == nil {
			return proposaldomain.ErrNotFound
		}
		if item.Status == proposaldomain.StatusFinalized {
			return proposaldomain.ErrAlreadyFinalized
		}

		now := s.clock.Now()
		item.Status = proposaldomain.StatusFinalized
		item.Pricing = pricing
		item.DiscountLog = discountLog
		item.FinalizedAt = &now
		item.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, item); err != nil {
			return err
		}
		finalized = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("proposal finalized", zap.String("proposal_id", finalized.ID.String()))
	if s.audit != nil {
		targetID := finalized.ID.String()
		var actor *string
		if actorID := strings.TrimSpace(req.ActorID); actorID != "" {
			actor = &actorID
		}
		if err := s.audit.AuditLog(ctx, actor, "proposal.finalize", "proposal", &targetID, nil); err != nil {
			s.log.Warn("audit log failed", zap.Error(err))
		}
	}
	return finalized, nil
}

func (s *Service) Get(ctx context.Context, id string) (*proposaldomain.Proposal, error) {
	parsed, err := parseID(id)
	if err != nil {
		return nil, err
	}
	item, err := s.repo.FindByID(ctx, s.db, parsed)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, proposaldomain.ErrNotFound
	}
	return item, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, proposaldomain.ErrInvalidID
	}
	return id, nil
}

func encodeJSON(value any) (datatypes.JSON, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
