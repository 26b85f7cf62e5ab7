package plan

import "go.uber.org/fx"

var Module = fx.Module("plan.policy",
	fx.Provide(NewPolicy),
)
