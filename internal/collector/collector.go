// Package collector drives one day's cost computation end to end: it runs
// every billing-dimension plugin in a fixed order, merges their proposed
// cost trees per consumer, and persists the day atomically.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/costlane/costlane/internal/catalog/domain"
	costnodedomain "github.com/costlane/costlane/internal/costnode/domain"
	costnoderepo "github.com/costlane/costlane/internal/costnode/repository"
	"github.com/costlane/costlane/internal/distribute"
	"github.com/costlane/costlane/internal/observability"
	"github.com/costlane/costlane/internal/partition"
	pricedomain "github.com/costlane/costlane/internal/price/domain"
	"github.com/costlane/costlane/internal/pricingservice"
	"github.com/costlane/costlane/internal/teambilling"
	usagedomain "github.com/costlane/costlane/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CacheInvalidator drops cached report results for a recomputed day.
type CacheInvalidator interface {
	InvalidateDay(ctx context.Context, date time.Time, forecast bool) error
}

type Collector struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	catalog     catalogdomain.Repository
	prices      pricedomain.Service
	usage       usagedomain.Repository
	nodes       costnodedomain.Repository
	distributor *distribute.Distributor
	services    *pricingservice.Service
	teams       *teambilling.Engine
	metrics     *observability.Metrics
	cache       CacheInvalidator
}

type Param struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Catalog  catalogdomain.Repository
	Prices   pricedomain.Service
	Usage    usagedomain.Repository
	Nodes    costnodedomain.Repository
	Services *pricingservice.Service
	Teams    *teambilling.Engine
	Metrics  *observability.Metrics
	Cache    CacheInvalidator `optional:"true"`
}

func New(p Param) *Collector {
	return &Collector{
		db:          p.DB,
		log:         p.Log.Named("collector.service"),
		genID:       p.GenID,
		catalog:     p.Catalog,
		prices:      p.Prices,
		usage:       p.Usage,
		nodes:       p.Nodes,
		distributor: distribute.New(p.Usage),
		services:    p.Services,
		teams:       p.Teams,
		metrics:     p.Metrics,
		cache:       p.Cache,
	}
}

type plugin struct {
	name string
	run  func(ctx context.Context, date time.Time, forecast bool) (map[snowflake.ID][]*costnodedomain.Node, error)
}

func (c *Collector) plugins() []plugin {
	return []plugin{
		{name: "base_usage_types", run: c.baseUsageCosts},
		{name: "regular_usage_types", run: c.regularUsageCosts},
		{name: "pricing_services", run: c.pricingServiceCosts},
		{name: "teams", run: c.teamCosts},
		{name: "extra_costs", run: c.extraCosts},
	}
}

// Process computes and persists one day. A day holding accepted nodes is
// refused with ErrVerifiedCostsExist unless deleteVerified forces it; an
// unverified day is deleted and fully recreated, making the call idempotent.
func (c *Collector) Process(ctx context.Context, date time.Time, forecast, deleteVerified bool) ([]costnodedomain.CostNode, error) {
	day := partition.Day(date)
	started := time.Now()

	accepted, err := c.nodes.AnyAccepted(ctx, day, forecast)
	if err != nil {
		return nil, err
	}
	if accepted && !deleteVerified {
		c.metrics.DaysProcessed.WithLabelValues("skipped").Inc()
		return nil, fmt.Errorf("%w: %s", costnodedomain.ErrVerifiedCostsExist, day.Format("2006-01-02"))
	}

	merged := make(map[snowflake.ID][]*costnodedomain.Node)
	for _, p := range c.plugins() {
		result, err := p.run(ctx, day, forecast)
		if err != nil {
			if pricingservice.IsDataQuality(err) {
				c.log.Warn("plugin skipped on data-quality condition",
					zap.String("plugin", p.name),
					zap.Time("date", day),
					zap.Error(err),
				)
				c.metrics.PluginFailures.WithLabelValues(p.name).Inc()
				continue
			}
			c.metrics.DaysProcessed.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("plugin %s: %w", p.name, err)
		}
		for envID, roots := range result {
			merged[envID] = append(merged[envID], roots...)
		}
	}

	var flat []costnodedomain.CostNode
	for envID, roots := range merged {
		for _, root := range roots {
			flat = append(flat, root.Flatten(day, envID, forecast, "", 0)...)
		}
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repoTx := costnoderepo.WithTx(tx, c.genID)
		if err := repoTx.DeleteDay(ctx, day, forecast); err != nil {
			return err
		}
		return repoTx.InsertAll(ctx, flat)
	})
	if err != nil {
		c.metrics.DaysProcessed.WithLabelValues("failed").Inc()
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.InvalidateDay(ctx, day, forecast); err != nil {
			c.log.Warn("report cache invalidation failed", zap.Error(err))
		}
	}

	c.metrics.DaysProcessed.WithLabelValues("ok").Inc()
	c.metrics.DayDuration.Observe(time.Since(started).Seconds())
	c.log.Info("day collected",
		zap.Time("date", day),
		zap.Bool("forecast", forecast),
		zap.Int("nodes", len(flat)),
	)

	return c.nodes.ListDay(ctx, day, forecast)
}

// DayResult is one day's outcome of a period run.
type DayResult struct {
	Date  time.Time
	Nodes int
	Err   error
}

// ProcessPeriod runs Process once per calendar day in [start, end], in date
// order. Verified-day conflicts and later failures are recorded per day;
// only context cancellation stops the sweep.
func (c *Collector) ProcessPeriod(ctx context.Context, start, end time.Time, forecast bool) ([]DayResult, error) {
	var results []DayResult
	for _, day := range partition.EachDay(start, end) {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		nodes, err := c.Process(ctx, day, forecast, false)
		results = append(results, DayResult{Date: day, Nodes: len(nodes), Err: err})
	}
	return results, nil
}

func isNoCoverage(err error) bool {
	return errors.Is(err, pricedomain.ErrNoPrice) || errors.Is(err, pricedomain.ErrIncompletePrice)
}
