package pricingservice

import "go.uber.org/fx"

var Module = fx.Module("pricingservice",
	fx.Provide(NewService),
)
