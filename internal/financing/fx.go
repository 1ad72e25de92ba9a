package financing

import (
	"github.com/smallbiznis/proposalpricing/internal/financing/repository"
	"github.com/smallbiznis/proposalpricing/internal/financing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("financing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
