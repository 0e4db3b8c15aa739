package teambilling

import "go.uber.org/fx"

var Module = fx.Module("teambilling",
	fx.Provide(NewEngine),
)
