package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	financingdomain "github.com/smallbiznis/proposalpricing/internal/financing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  financingdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  financingdomain.Repository
}

func New(p Params) financingdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("financing.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req financingdomain.CreateRequest) (*financingdomain.FinancingPlan, error) {
	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		return nil, financingdomain.ErrInvalidProvider
	}
	planNumber := strings.TrimSpace(req.PlanNumber)
	if planNumber == "" {
		return nil, financingdomain.ErrInvalidPlanNumber
	}
	if req.PaymentFactor <= 0 {
		return nil, financingdomain.ErrInvalidPaymentFactor
	}
	if req.TermMonths < 0 {
		return nil, financingdomain.ErrInvalidTerm
	}
	if req.InterestRate < 0 || req.MerchantFee < 0 {
		return nil, financingdomain.ErrInvalidRate
	}

	planName := strings.TrimSpace(req.PlanName)
	if planName == "" {
		planName = provider + " " + planNumber
	}

	now := time.Now().UTC()
	entity := &financingdomain.FinancingPlan{
		ID:            s.genID.Generate(),
		Provider:      provider,
		PlanNumber:    planNumber,
		PlanName:      planName,
		InterestRate:  req.InterestRate,
		TermMonths:    req.TermMonths,
		PaymentFactor: req.PaymentFactor,
		MerchantFee:   req.MerchantFee,
		Notes:         strings.TrimSpace(req.Notes),
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, s.db, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// GetActiveFinancingPlans lists active plans, dropping duplicates that share
// provider, plan number and payment factor. The first plan of each key wins.
func (s *Service) GetActiveFinancingPlans(ctx context.Context) ([]financingdomain.FinancingPlan, error) {
	items, err := s.repo.ListActive(ctx, s.db)
	if err != nil {
		return nil, err
	}

	plans := Dedupe(items)
	if dropped := len(items) - len(plans); dropped > 0 {
		s.log.Debug("dropped duplicate financing plans", zap.Int("count", dropped))
	}
	return plans, nil
}

// Dedupe keeps the first plan of every (provider, plan number, payment factor) key.
func Dedupe(items []financingdomain.FinancingPlan) []financingdomain.FinancingPlan {
	seen := make(map[string]struct{}, len(items))
	out := make([]financingdomain.FinancingPlan, 0, len(items))
	for _, item := range items {
		key := dedupeKey(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

func dedupeKey(p financingdomain.FinancingPlan) string {
	return strings.ToLower(strings.TrimSpace(p.Provider)) + "|" +
		strings.ToLower(strings.TrimSpace(p.PlanNumber)) + "|" +
		strconv.FormatFloat(p.PaymentFactor, 'f', 6, 64)
}
