package usage

import (
	"github.com/costlane/costlane/internal/usage/repository"
	"github.com/costlane/costlane/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
