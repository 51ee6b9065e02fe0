package reconciliation

import (
	"go.uber.org/fx"

	"github.com/fatflowers/entitler/internal/app/service/entitlement"
)

var Module = fx.Options(
	fx.Provide(
		func(p *entitlement.Projector) Projector { return p },
		NewEngine,
	),
)
