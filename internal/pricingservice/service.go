// Package pricingservice computes the cost of composite dimensions: services
// whose total is assembled from metered usage, team allocations, fixed extra
// costs and, recursively, other pricing services.
package pricingservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/costlane/costlane/internal/catalog/domain"
	costnodedomain "github.com/costlane/costlane/internal/costnode/domain"
	"github.com/costlane/costlane/internal/distribute"
	"github.com/costlane/costlane/internal/partition"
	pricedomain "github.com/costlane/costlane/internal/price/domain"
	"github.com/costlane/costlane/internal/teambilling"
	usagedomain "github.com/costlane/costlane/internal/usage/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	// ErrPercentageSum: a partition segment's percentages do not sum to 100.
	ErrPercentageSum = errors.New("percentage_divisions_do_not_sum_to_100")
	// ErrDependencyCycle: recursion reached a service already on the path.
	ErrDependencyCycle = errors.New("dependency_cycle")
)

var hundred = decimal.NewFromInt(100)

type Service struct {
	log         *zap.Logger
	catalog     catalogdomain.Repository
	prices      pricedomain.Service
	usage       usagedomain.Repository
	distributor *distribute.Distributor
	teams       *teambilling.Engine
}

type ServiceParam struct {
	fx.In

	Log     *zap.Logger
	Catalog catalogdomain.Repository
	Prices  pricedomain.Service
	Usage   usagedomain.Repository
	Teams   *teambilling.Engine
}

func NewService(p ServiceParam) *Service {
	return &Service{
		log:         p.Log.Named("pricingservice.service"),
		catalog:     p.Catalog,
		prices:      p.Prices,
		usage:       p.Usage,
		distributor: distribute.New(p.Usage),
		teams:       p.Teams,
	}
}

// Dependents lists the services configured as dependencies of svc that have
// at least one active percentage division covering date.
func (s *Service) Dependents(ctx context.Context, svc catalogdomain.Dimension, date time.Time) ([]catalogdomain.Dimension, error) {
	deps, err := s.catalog.Dependencies(ctx, svc.ID)
	if err != nil {
		return nil, err
	}

	day := partition.Day(date)
	var active []catalogdomain.Dimension
	for _, dep := range deps {
		divisions, err := s.catalog.Divisions(ctx, dep.ID, day, day)
		if err != nil {
			return nil, err
		}
		if len(divisions) > 0 {
			active = append(active, dep)
		}
	}
	return active, nil
}

// TotalCost sums, over the inclusive window, every cost component owned by
// the service: non-excluded metered usage types, its regular usage types,
// its teams, its resolved dependencies, and extra costs scoped to its
// consumers.
func (s *Service) TotalCost(ctx context.Context, svc catalogdomain.Dimension, start, end time.Time, forecast bool, envIDs []snowflake.ID) (decimal.Decimal, error) {
	return s.totalCost(ctx, svc, start, end, forecast, envIDs, map[snowflake.ID]bool{svc.ID: true})
}

func (s *Service) totalCost(ctx context.Context, svc catalogdomain.Dimension, start, end time.Time, forecast bool, envIDs []snowflake.ID, visited map[snowflake.ID]bool) (decimal.Decimal, error) {
	total := decimal.Zero

	// (a) metered usage types, minus explicit exclusions and minus the
	// regular set handled below.
	usageTypes, err := s.catalog.ListDimensions(ctx, catalogdomain.KindUsageType)
	if err != nil {
		return decimal.Zero, err
	}
	excludedIDs, err := s.catalog.ExcludedUsageTypeIDs(ctx, svc.ID)
	if err != nil {
		return decimal.Zero, err
	}
	regular, err := s.catalog.RegularUsageTypes(ctx, svc.ID)
	if err != nil {
		return decimal.Zero, err
	}
	skip := make(map[snowflake.ID]bool, len(excludedIDs)+len(regular))
	for _, id := range excludedIDs {
		skip[id] = true
	}
	regularIDs := make(map[snowflake.ID]bool, len(regular))
	for _, dim := range regular {
		regularIDs[dim.ID] = true
	}

	for _, ut := range usageTypes {
		if skip[ut.ID] || regularIDs[ut.ID] {
			continue
		}
		cost, err := s.UsageTypeTotalCost(ctx, ut, start, end, envIDs)
		if err != nil {
			if IsDataQuality(err) {
				continue
			}
			return decimal.Zero, err
		}
		total = total.Add(cost)
	}

	// (b) the service's own regular usage types.
	for _, ut := range regular {
		cost, err := s.UsageTypeTotalCost(ctx, ut, start, end, envIDs)
		if err != nil {
			if IsDataQuality(err) {
				continue
			}
			return decimal.Zero, err
		}
		total = total.Add(cost)
	}

	// (c) associated teams, day by day.
	svcTeams, err := s.catalog.ServiceTeams(ctx, svc.ID)
	if err != nil {
		return decimal.Zero, err
	}
	envSet := make(map[snowflake.ID]bool, len(envIDs))
	for _, id := range envIDs {
		envSet[id] = true
	}
	for _, team := range svcTeams {
		for _, day := range partition.EachDay(start, end) {
			allocations, err := s.teams.CostPerServiceEnvironment(ctx, team, day, forecast)
			if err != nil {
				if IsDataQuality(err) {
					continue
				}
				return decimal.Zero, err
			}
			for envID, allocs := range allocations {
				if len(envSet) > 0 && !envSet[envID] {
					continue
				}
				for _, a := range allocs {
					total = total.Add(a.Cost)
				}
			}
		}
	}

	// (d) resolved dependencies, recursively.
	deps, err := s.Dependents(ctx, svc, start)
	if err != nil {
		return decimal.Zero, err
	}
	for _, dep := range deps {
		if visited[dep.ID] {
			return decimal.Zero, fmt.Errorf("%w: %s -> %s", ErrDependencyCycle, svc.ID, dep.ID)
		}
		visited[dep.ID] = true
		depConsumers, err := s.catalog.Consumers(ctx, dep.ID)
		if err != nil {
			return decimal.Zero, err
		}
		depEnvIDs := make([]snowflake.ID, len(depConsumers))
		for i, c := range depConsumers {
			depEnvIDs[i] = c.ID
		}
		cost, err := s.totalCost(ctx, dep, start, end, forecast, depEnvIDs, visited)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(cost)
		delete(visited, dep.ID)
	}

	// (e) extra costs scoped to the service's consumers, pro-rated by the
	// overlap of their consumer sets.
	extras, err := s.catalog.ListDimensions(ctx, catalogdomain.KindExtraCost)
	if err != nil {
		return decimal.Zero, err
	}
	for _, extra := range extras {
		cost, err := s.extraCostShare(ctx, extra, start, end, envSet)
		if err != nil {
			if IsDataQuality(err) {
				continue
			}
			return decimal.Zero, err
		}
		total = total.Add(cost)
	}

	return total, nil
}

// UsageTypeTotalCost prices a metered usage type over the window for the
// given consumer scope: unit-price windows multiply measured usage, period
// windows contribute their pro-rated daily cost.
func (s *Service) UsageTypeTotalCost(ctx context.Context, usageType catalogdomain.Dimension, start, end time.Time, envIDs []snowflake.ID) (decimal.Decimal, error) {
	windows, err := s.prices.Windows(ctx, usageType.ID, start, end, "")
	if err != nil && !errors.Is(err, pricedomain.ErrIncompletePrice) {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, w := range windows {
		if w.UnitPrice != nil {
			quantity, err := s.usage.TotalUsage(ctx, usageType.ID, w.Start, w.End, envIDs, nil)
			if err != nil {
				return decimal.Zero, err
			}
			total = total.Add(w.UnitPrice.Mul(quantity))
		}
		if w.DailyCost != nil {
			days := decimal.NewFromInt(int64(partition.DaysInclusive(w.Start, w.End)))
			total = total.Add(w.DailyCost.Mul(days))
		}
	}
	return total, nil
}

func (s *Service) extraCostShare(ctx context.Context, extra catalogdomain.Dimension, start, end time.Time, envSet map[snowflake.ID]bool) (decimal.Decimal, error) {
	consumers, err := s.catalog.Consumers(ctx, extra.ID)
	if err != nil {
		return decimal.Zero, err
	}
	if len(consumers) == 0 {
		return decimal.Zero, nil
	}
	overlap := 0
	for _, c := range consumers {
		if len(envSet) == 0 || envSet[c.ID] {
			overlap++
		}
	}
	if overlap == 0 {
		return decimal.Zero, nil
	}

	period, err := s.prices.PeriodTotal(ctx, extra.ID, start, end, "")
	if err != nil {
		return decimal.Zero, err
	}
	return period.
		Mul(decimal.NewFromInt(int64(overlap))).
		Div(decimal.NewFromInt(int64(len(consumers)))), nil
}

// Costs partitions the single-day window over the service's percentage
// divisions, computes the service total per segment, and distributes it
// across consumers per weighted usage type. When more than one usage type
// contributes for a consumer, the nodes nest under a synthetic service
// total node.
func (s *Service) Costs(ctx context.Context, svc catalogdomain.Dimension, date time.Time, envIDs []snowflake.ID, forecast bool) (map[snowflake.ID][]*costnodedomain.Node, error) {
	day := partition.Day(date)

	divisions, err := s.catalog.Divisions(ctx, svc.ID, day, day)
	if err != nil {
		return nil, err
	}
	if len(divisions) == 0 {
		return map[snowflake.ID][]*costnodedomain.Node{}, nil
	}

	assignments := make([]partition.Assignment, len(divisions))
	for i, div := range divisions {
		assignments[i] = partition.Assignment{
			UsageTypeID: div.UsageTypeID,
			Percent:     div.Percent,
			StartsAt:    div.StartsAt,
			EndsAt:      div.EndsAt,
		}
	}

	type accumulated struct {
		value decimal.Decimal
		cost  decimal.Decimal
	}
	perEnv := make(map[snowflake.ID]map[snowflake.ID]*accumulated)

	for _, segment := range partition.Partition(day, day, assignments) {
		if !segment.PercentSum().Equal(hundred) {
			return nil, fmt.Errorf("%w: service %s sums to %s on %s",
				ErrPercentageSum, svc.ID, segment.PercentSum(), day.Format("2006-01-02"))
		}

		total, err := s.totalCost(ctx, svc, segment.Start, segment.End, forecast, envIDs, map[snowflake.ID]bool{svc.ID: true})
		if err != nil {
			return nil, err
		}

		weighted := make([]distribute.Weighted, 0, len(segment.Percentages))
		for usageTypeID, percent := range segment.Percentages {
			weighted = append(weighted, distribute.Weighted{UsageTypeID: usageTypeID, Percent: percent})
		}

		shares, err := s.distributor.ByConsumer(ctx, total, weighted, segment.Start, segment.End, envIDs, nil)
		if err != nil {
			return nil, err
		}
		for envID, byType := range shares {
			if perEnv[envID] == nil {
				perEnv[envID] = make(map[snowflake.ID]*accumulated)
			}
			for usageTypeID, share := range byType {
				acc := perEnv[envID][usageTypeID]
				if acc == nil {
					acc = &accumulated{}
					perEnv[envID][usageTypeID] = acc
				}
				acc.value = acc.value.Add(share.Value)
				acc.cost = acc.cost.Add(share.Cost)
			}
		}
	}

	result := make(map[snowflake.ID][]*costnodedomain.Node, len(perEnv))
	for envID, byType := range perEnv {
		children := make([]*costnodedomain.Node, 0, len(byType))
		totalCost := decimal.Zero
		totalValue := decimal.Zero
		for usageTypeID, acc := range byType {
			children = append(children, &costnodedomain.Node{
				DimensionID: usageTypeID,
				Value:       acc.value,
				Cost:        acc.cost,
			})
			totalCost = totalCost.Add(acc.cost)
			totalValue = totalValue.Add(acc.value)
		}
		if len(children) > 1 {
			result[envID] = []*costnodedomain.Node{{
				DimensionID: svc.ID,
				Value:       totalValue,
				Cost:        totalCost,
				Children:    children,
			}}
		} else {
			result[envID] = children
		}
	}
	return result, nil
}

// IsDataQuality reports whether err is a recoverable data-quality
// condition: the affected dimension contributes nothing for the scope
// instead of aborting the day.
func IsDataQuality(err error) bool {
	if err == nil {
		return false
	}
	var cycle *CycleError
	return errors.Is(err, pricedomain.ErrNoPrice) ||
		errors.Is(err, pricedomain.ErrIncompletePrice) ||
		errors.Is(err, pricedomain.ErrConflictingPrices) ||
		errors.Is(err, teambilling.ErrNoTeamCost) ||
		errors.Is(err, teambilling.ErrConflictingTeamCosts) ||
		errors.Is(err, ErrPercentageSum) ||
		errors.Is(err, ErrDependencyCycle) ||
		errors.As(err, &cycle)
}
