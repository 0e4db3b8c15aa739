package collector

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/costlane/costlane/internal/catalog/domain"
	costnodedomain "github.com/costlane/costlane/internal/costnode/domain"
	"github.com/costlane/costlane/internal/distribute"
	"github.com/costlane/costlane/internal/pricingservice"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// unboundUsageTypes are the metered dimensions billed directly at the root:
// usage types no pricing service absorbs through a division or regular link.
func (c *Collector) unboundUsageTypes(ctx context.Context) ([]catalogdomain.Dimension, error) {
	all, err := c.catalog.ListDimensions(ctx, catalogdomain.KindUsageType)
	if err != nil {
		return nil, err
	}
	boundIDs, err := c.catalog.ServiceBoundUsageTypeIDs(ctx)
	if err != nil {
		return nil, err
	}
	bound := make(map[snowflake.ID]bool, len(boundIDs))
	for _, id := range boundIDs {
		bound[id] = true
	}

	var out []catalogdomain.Dimension
	for _, dim := range all {
		if !bound[dim.ID] {
			out = append(out, dim)
		}
	}
	return out, nil
}

// baseUsageCosts bills unit-priced usage types: price times each consumer's
// measured quantity for the day.
func (c *Collector) baseUsageCosts(ctx context.Context, date time.Time, forecast bool) (map[snowflake.ID][]*costnodedomain.Node, error) {
	dims, err := c.unboundUsageTypes(ctx)
	if err != nil {
		return nil, err
	}

	result := make(map[snowflake.ID][]*costnodedomain.Node)
	for _, dim := range dims {
		windows, err := c.prices.Windows(ctx, dim.ID, date, date, "")
		if err != nil {
			if isNoCoverage(err) {
				c.logSkippedDimension(dim, date, err)
				continue
			}
			return nil, err
		}

		for _, w := range windows {
			if w.UnitPrice == nil {
				continue
			}
			rows, err := c.usage.ByEnvironment(ctx, dim.ID, w.Start, w.End, nil, nil)
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				result[row.ServiceEnvironmentID] = append(result[row.ServiceEnvironmentID], &costnodedomain.Node{
					DimensionID: dim.ID,
					Value:       row.Total,
					Cost:        w.UnitPrice.Mul(row.Total),
				})
			}
		}
	}
	return result, nil
}

// regularUsageCosts bills period-priced usage types: the day's pro-rated
// cost distributed across consumers proportional to measured usage.
func (c *Collector) regularUsageCosts(ctx context.Context, date time.Time, forecast bool) (map[snowflake.ID][]*costnodedomain.Node, error) {
	dims, err := c.unboundUsageTypes(ctx)
	if err != nil {
		return nil, err
	}

	result := make(map[snowflake.ID][]*costnodedomain.Node)
	for _, dim := range dims {
		windows, err := c.prices.Windows(ctx, dim.ID, date, date, "")
		if err != nil {
			if isNoCoverage(err) {
				continue
			}
			return nil, err
		}

		for _, w := range windows {
			if w.DailyCost == nil {
				continue
			}
			shares, err := c.distributor.ByConsumer(ctx, *w.DailyCost,
				[]distribute.Weighted{{UsageTypeID: dim.ID, Percent: hundred}},
				w.Start, w.End, nil, nil)
			if err != nil {
				return nil, err
			}
			for envID, byType := range shares {
				share := byType[dim.ID]
				result[envID] = append(result[envID], &costnodedomain.Node{
					DimensionID: dim.ID,
					Value:       share.Value,
					Cost:        share.Cost,
				})
			}
		}
	}
	return result, nil
}

func (c *Collector) pricingServiceCosts(ctx context.Context, date time.Time, forecast bool) (map[snowflake.ID][]*costnodedomain.Node, error) {
	services, err := c.catalog.ListDimensions(ctx, catalogdomain.KindPricingService)
	if err != nil {
		return nil, err
	}

	result := make(map[snowflake.ID][]*costnodedomain.Node)
	for _, svc := range services {
		consumers, err := c.catalog.Consumers(ctx, svc.ID)
		if err != nil {
			return nil, err
		}
		envIDs := make([]snowflake.ID, len(consumers))
		for i, consumer := range consumers {
			envIDs[i] = consumer.ID
		}

		costs, err := c.services.Costs(ctx, svc, date, envIDs, forecast)
		if err != nil {
			if pricingservice.IsDataQuality(err) {
				c.logSkippedDimension(svc, date, err)
				c.metrics.PluginFailures.WithLabelValues("pricing_services").Inc()
				continue
			}
			return nil, err
		}
		for envID, roots := range costs {
			result[envID] = append(result[envID], roots...)
		}
	}
	return result, nil
}

func (c *Collector) teamCosts(ctx context.Context, date time.Time, forecast bool) (map[snowflake.ID][]*costnodedomain.Node, error) {
	teams, err := c.catalog.Teams(ctx)
	if err != nil {
		return nil, err
	}

	result := make(map[snowflake.ID][]*costnodedomain.Node)
	for _, team := range teams {
		allocations, err := c.teams.CostPerServiceEnvironment(ctx, team, date, forecast)
		if err != nil {
			if pricingservice.IsDataQuality(err) {
				c.logSkippedDimension(team, date, err)
				c.metrics.PluginFailures.WithLabelValues("teams").Inc()
				continue
			}
			return nil, err
		}
		for envID, allocs := range allocations {
			cost, percent := decimal.Zero, decimal.Zero
			for _, a := range allocs {
				cost = cost.Add(a.Cost)
				percent = percent.Add(a.Percent)
			}
			if cost.IsZero() {
				continue
			}
			result[envID] = append(result[envID], &costnodedomain.Node{
				DimensionID: team.ID,
				Value:       percent,
				Cost:        cost,
			})
		}
	}
	return result, nil
}

// extraCosts bills fixed extra-cost categories: the day's pro-rated period
// cost split evenly across the category's consumers.
func (c *Collector) extraCosts(ctx context.Context, date time.Time, forecast bool) (map[snowflake.ID][]*costnodedomain.Node, error) {
	extras, err := c.catalog.ListDimensions(ctx, catalogdomain.KindExtraCost)
	if err != nil {
		return nil, err
	}

	result := make(map[snowflake.ID][]*costnodedomain.Node)
	for _, extra := range extras {
		daily, err := c.prices.PeriodTotal(ctx, extra.ID, date, date, "")
		if err != nil {
			if isNoCoverage(err) {
				c.logSkippedDimension(extra, date, err)
				c.metrics.PluginFailures.WithLabelValues("extra_costs").Inc()
				continue
			}
			return nil, err
		}
		if daily.IsZero() {
			continue
		}

		consumers, err := c.catalog.Consumers(ctx, extra.ID)
		if err != nil {
			return nil, err
		}
		if len(consumers) == 0 {
			continue
		}

		share := daily.Div(decimal.NewFromInt(int64(len(consumers))))
		for _, consumer := range consumers {
			result[consumer.ID] = append(result[consumer.ID], &costnodedomain.Node{
				DimensionID: extra.ID,
				Cost:        share,
			})
		}
	}
	return result, nil
}

func (c *Collector) logSkippedDimension(dim catalogdomain.Dimension, date time.Time, err error) {
	c.log.Warn("dimension contributes nothing for this day",
		zap.Int64("dimension_id", int64(dim.ID)),
		zap.String("symbol", dim.Symbol),
		zap.Time("date", date),
		zap.Error(err),
	)
}
