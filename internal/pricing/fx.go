package pricing

import (
	"github.com/smallbiznis/proposalpricing/internal/pricing/session"
	"go.uber.org/fx"
)

var Module = fx.Module("pricing.session",
	fx.Provide(session.New),
)
