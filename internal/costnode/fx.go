package costnode

import (
	"github.com/costlane/costlane/internal/costnode/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("costnode",
	fx.Provide(repository.NewRepository),
)
