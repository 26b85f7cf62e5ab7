package subscription

import (
	"github.com/gosuraksha/entitlements/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription",
	fx.Provide(
		service.NewProcessor,
		service.NewResolver,
	),
)
