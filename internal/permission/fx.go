package permission

import (
	"github.com/smallbiznis/proposalpricing/internal/permission/repository"
	"github.com/smallbiznis/proposalpricing/internal/permission/service"
	"go.uber.org/fx"
)

var Module = fx.Module("permission.service",
	fx.Provide(service.NewEnforcer),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
