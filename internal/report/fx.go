package report

import (
	"github.com/costlane/costlane/internal/collector"
	"go.uber.org/fx"
)

var Module = fx.Module("report",
	fx.Provide(NewCache),
	fx.Provide(func(c *Cache) collector.CacheInvalidator { return c }),
	fx.Provide(NewService),
)
