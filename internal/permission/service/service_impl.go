package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	permissiondomain "github.com/smallbiznis/proposalpricing/internal/permission/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     permissiondomain.Repository
	Enforcer *casbin.SyncedEnforcer
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     permissiondomain.Repository
	enforcer *casbin.SyncedEnforcer
}

func New(p Params) permissiondomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("permission.service"),
		repo:     p.Repo,
		enforcer: p.Enforcer,
	}
}

func (s *Service) Upsert(ctx context.Context, req permissiondomain.UpsertRequest) (*permissiondomain.Permissions, error) {
	userID, err := parseID(req.UserID)
	if err != nil {
		return nil, permissiondomain.ErrInvalidUser
	}
	role, err := parseRole(req.Role)
	if err != nil {
		return nil, err
	}
	if req.MaxDiscountPercent < 0 || req.MaxDiscountPercent > 100 {
		return nil, permissiondomain.ErrInvalidPercent
	}

	now := time.Now().UTC()
	entity := &permissiondomain.UserPermission{
		UserID:             userID,
		Name:               strings.TrimSpace(req.Name),
		Role:               role,
		MaxDiscountPercent: req.MaxDiscountPercent,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Upsert(ctx, s.db, entity); err != nil {
		return nil, err
	}
	return s.toPermissions(entity), nil
}

func (s *Service) GetUserPermissions(ctx context.Context, userID string) (*permissiondomain.Permissions, error) {
	id, err := parseID(userID)
	if err != nil {
		return nil, permissiondomain.ErrInvalidUser
	}

	entity, err := s.repo.FindByUserID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, permissiondomain.ErrNotFound
	}
	return s.toPermissions(entity), nil
}

func (s *Service) CanApproveDiscounts(ctx context.Context, userID string) (bool, error) {
	perms, err := s.GetUserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return perms.CanApproveDiscounts, nil
}

func (s *Service) FindApprover(ctx context.Context) (*permissiondomain.Permissions, error) {
	items, err := s.repo.ListByRoles(ctx, s.db, []permissiondomain.Role{
		permissiondomain.RoleManager,
		permissiondomain.RoleAdmin,
	})
	if err != nil {
		return nil, err
	}
	for i := range items {
		perms := s.toPermissions(&items[i])
		if perms.CanApproveDiscounts {
			return perms, nil
		}
	}
	return nil, permissiondomain.ErrNotFound
}

func (s *Service) toPermissions(p *permissiondomain.UserPermission) *permissiondomain.Permissions {
	return &permissiondomain.Permissions{
		UserID:              p.UserID.String(),
		Name:                p.Name,
		Role:                p.Role,
		MaxDiscountPercent:  p.MaxDiscountPercent,
		CanApproveDiscounts: s.allowed(p.Role, ActionDiscountApprove),
	}
}

func (s *Service) allowed(role permissiondomain.Role, action string) bool {
	if s.enforcer == nil {
		return false
	}
	ok, err := s.enforcer.Enforce(roleSubject(role), ObjectDiscount, action)
	if err != nil {
		s.log.Warn("permission enforce failed", zap.String("role", string(role)), zap.Error(err))
		return false
	}
	return ok
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, permissiondomain.ErrInvalidUser
	}
	return id, nil
}

func parseRole(value permissiondomain.Role) (permissiondomain.Role, error) {
	switch strings.ToLower(strings.TrimSpace(string(value))) {
	case string(permissiondomain.RoleSales), "":
		return permissiondomain.RoleSales, nil
	case string(permissiondomain.RoleManager):
		return permissiondomain.RoleManager, nil
	case string(permissiondomain.RoleAdmin):
		return permissiondomain.RoleAdmin, nil
	default:
		return "", permissiondomain.ErrInvalidRole
	}
}
