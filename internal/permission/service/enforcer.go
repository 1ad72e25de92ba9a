package service

import (
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	permissiondomain "github.com/smallbiznis/proposalpricing/internal/permission/domain"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectDiscount = "discount"

	ActionDiscountApprove = "approve"
	ActionDiscountApply   = "apply"
)

// NewEnforcer builds the role enforcer with policies persisted through gorm.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	return buildEnforcer(adapter)
}

// NewMemoryEnforcer builds an enforcer without persistence.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	return buildEnforcer(nil)
}

func buildEnforcer(adapter *gormadapter.Adapter) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}

	var enforcer *casbin.SyncedEnforcer
	if adapter != nil {
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
	}
	if err != nil {
		return nil, err
	}

	if adapter != nil {
		enforcer.EnableAutoSave(true)
		if err := enforcer.LoadPolicy(); err != nil {
			return nil, err
		}
	}
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func roleSubject(role permissiondomain.Role) string {
	return "role:" + strings.ToLower(strings.TrimSpace(string(role)))
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{roleSubject(permissiondomain.RoleSales), ObjectDiscount, ActionDiscountApply},
		{roleSubject(permissiondomain.RoleManager), ObjectDiscount, ActionDiscountApply},
		{roleSubject(permissiondomain.RoleManager), ObjectDiscount, ActionDiscountApprove},
	}
	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy[0], policy[1], policy[2])
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy[0], policy[1], policy[2]); err != nil {
			return err
		}
	}

	// admins inherit every manager capability
	admin := roleSubject(permissiondomain.RoleAdmin)
	manager := roleSubject(permissiondomain.RoleManager)
	has, err := enforcer.HasGroupingPolicy(admin, manager)
	if err != nil {
		return err
	}
	if !has {
		if _, err := enforcer.AddGroupingPolicy(admin, manager); err != nil {
			return err
		}
	}
	return nil
}
