package price

import (
	"github.com/costlane/costlane/internal/price/repository"
	"github.com/costlane/costlane/internal/price/service"
	"go.uber.org/fx"
)

var Module = fx.Module("price",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
