package approval

import (
	"github.com/smallbiznis/proposalpricing/internal/approval/repository"
	"github.com/smallbiznis/proposalpricing/internal/approval/service"
	"go.uber.org/fx"
)

var Module = fx.Module("approval.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
