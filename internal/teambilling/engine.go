// Package teambilling turns a staffing team's period cost into per-consumer
// daily allocations under one of five billing models.
package teambilling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/costlane/costlane/internal/catalog/domain"
	"github.com/costlane/costlane/internal/partition"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	// ErrNoTeamCost: no team cost record covers the requested date.
	ErrNoTeamCost = errors.New("no_team_cost_defined")
	// ErrConflictingTeamCosts: more than one record covers the date.
	ErrConflictingTeamCosts = errors.New("conflicting_team_costs")
	// ErrUnknownBillingType: the team carries no recognized billing model.
	ErrUnknownBillingType = errors.New("unknown_billing_type")
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Allocation is one consumer's slice of a team's daily cost.
type Allocation struct {
	DimensionID snowflake.ID
	Cost        decimal.Decimal
	Percent     decimal.Decimal
}

type Engine struct {
	log     *zap.Logger
	catalog catalogdomain.Repository
}

type EngineParam struct {
	fx.In

	Log     *zap.Logger
	Catalog catalogdomain.Repository
}

func NewEngine(p EngineParam) *Engine {
	return &Engine{
		log:     p.Log.Named("teambilling.engine"),
		catalog: p.Catalog,
	}
}

// CostPerServiceEnvironment computes the team's daily cost for date and
// distributes it across consumers according to the team's billing model.
func (e *Engine) CostPerServiceEnvironment(ctx context.Context, team catalogdomain.Dimension, date time.Time, forecast bool) (map[snowflake.ID][]Allocation, error) {
	return e.cost(ctx, team, date, forecast, nil)
}

func (e *Engine) cost(ctx context.Context, team catalogdomain.Dimension, date time.Time, forecast bool, override *decimal.Decimal) (map[snowflake.ID][]Allocation, error) {
	switch team.BillingType {
	case catalogdomain.BillingTime:
		return e.costByTime(ctx, team, date, forecast, override)
	case catalogdomain.BillingAssets:
		return e.costByAssets(ctx, team, date, forecast, override, false)
	case catalogdomain.BillingAssetsCores:
		return e.costByAssets(ctx, team, date, forecast, override, true)
	case catalogdomain.BillingDistribute:
		return e.costByDistribute(ctx, team, date, forecast)
	case catalogdomain.BillingAverage:
		return e.costByAverage(ctx, team, date, forecast)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBillingType, team.BillingType)
	}
}

// dailyCost resolves the team cost record covering date and pro-rates it to
// one day. An override (distribute model) replaces the natural daily cost
// but still requires a covering record for period metadata.
func (e *Engine) dailyCost(ctx context.Context, team catalogdomain.Dimension, date time.Time, forecast bool, override *decimal.Decimal) (decimal.Decimal, *catalogdomain.TeamCost, error) {
	records, err := e.catalog.TeamCostsCovering(ctx, team.ID, partition.Day(date))
	if err != nil {
		return decimal.Zero, nil, err
	}
	if len(records) == 0 {
		return decimal.Zero, nil, fmt.Errorf("%w: team %d on %s", ErrNoTeamCost, team.ID, partition.Day(date).Format("2006-01-02"))
	}
	if len(records) > 1 {
		return decimal.Zero, nil, fmt.Errorf("%w: team %d on %s", ErrConflictingTeamCosts, team.ID, partition.Day(date).Format("2006-01-02"))
	}

	record := records[0]
	if override != nil {
		return *override, &record, nil
	}

	period := record.Cost
	if forecast {
		period = record.ForecastCost
	}
	days := partition.DaysInclusive(record.StartsAt, record.EndsAt)
	return period.Div(decimal.NewFromInt(int64(days))), &record, nil
}

func (e *Engine) costByTime(ctx context.Context, team catalogdomain.Dimension, date time.Time, forecast bool, override *decimal.Decimal) (map[snowflake.ID][]Allocation, error) {
	daily, record, err := e.dailyCost(ctx, team, date, forecast, override)
	if err != nil {
		return nil, err
	}

	shares, err := e.catalog.TeamShares(ctx, record.ID)
	if err != nil {
		return nil, err
	}

	result := make(map[snowflake.ID][]Allocation, len(shares))
	for _, share := range shares {
		result[share.ServiceEnvironmentID] = append(result[share.ServiceEnvironmentID], Allocation{
			DimensionID: team.ID,
			Cost:        daily.Mul(share.Percent).Div(hundred),
			Percent:     share.Percent,
		})
	}
	return result, nil
}

func (e *Engine) costByAssets(ctx context.Context, team catalogdomain.Dimension, date time.Time, forecast bool, override *decimal.Decimal, withCores bool) (map[snowflake.ID][]Allocation, error) {
	daily, _, err := e.dailyCost(ctx, team, date, forecast, override)
	if err != nil {
		return nil, err
	}

	counts, err := e.catalog.AssetCounts(ctx)
	if err != nil {
		return nil, err
	}
	excluded, err := e.catalog.TeamExclusionIDs(ctx, team.ID)
	if err != nil {
		return nil, err
	}
	skip := make(map[snowflake.ID]bool, len(excluded))
	for _, id := range excluded {
		skip[id] = true
	}

	totalAssets, totalCores := decimal.Zero, decimal.Zero
	kept := counts[:0]
	for _, c := range counts {
		if skip[c.ServiceEnvironmentID] {
			continue
		}
		kept = append(kept, c)
		totalAssets = totalAssets.Add(decimal.NewFromInt(int64(c.Assets)))
		totalCores = totalCores.Add(decimal.NewFromInt(int64(c.Cores)))
	}

	result := make(map[snowflake.ID][]Allocation)
	for _, c := range kept {
		var cost decimal.Decimal
		if withCores {
			// Half the daily cost by asset count, half by core count.
			half := daily.Div(two)
			if !totalAssets.IsZero() {
				cost = half.Mul(decimal.NewFromInt(int64(c.Assets))).Div(totalAssets)
			}
			if !totalCores.IsZero() {
				cost = cost.Add(half.Mul(decimal.NewFromInt(int64(c.Cores))).Div(totalCores))
			}
		} else {
			if totalAssets.IsZero() {
				continue
			}
			cost = daily.Mul(decimal.NewFromInt(int64(c.Assets))).Div(totalAssets)
		}
		if cost.IsZero() {
			continue
		}
		percent := decimal.Zero
		if !daily.IsZero() {
			percent = cost.Div(daily).Mul(hundred)
		}
		result[c.ServiceEnvironmentID] = append(result[c.ServiceEnvironmentID], Allocation{
			DimensionID: team.ID,
			Cost:        cost,
			Percent:     percent,
		})
	}
	return result, nil
}

// costByDistribute splits the team's daily cost across the other teams in
// proportion to member count, then feeds each portion through that team's
// own billing model as a daily-cost override.
func (e *Engine) costByDistribute(ctx context.Context, team catalogdomain.Dimension, date time.Time, forecast bool) (map[snowflake.ID][]Allocation, error) {
	daily, _, err := e.dailyCost(ctx, team, date, forecast, nil)
	if err != nil {
		return nil, err
	}

	others, err := e.receivingTeams(ctx, team, date)
	if err != nil {
		return nil, err
	}
	if len(others) == 0 {
		return map[snowflake.ID][]Allocation{}, nil
	}

	totalMembers := 0
	for _, other := range others {
		totalMembers += other.record.MemberCount
	}
	if totalMembers == 0 {
		return map[snowflake.ID][]Allocation{}, nil
	}

	summed := make(map[snowflake.ID]decimal.Decimal)
	for _, other := range others {
		portion := daily.
			Mul(decimal.NewFromInt(int64(other.record.MemberCount))).
			Div(decimal.NewFromInt(int64(totalMembers)))

		allocations, err := e.cost(ctx, other.team, date, forecast, &portion)
		if err != nil {
			if errors.Is(err, ErrNoTeamCost) {
				continue
			}
			return nil, err
		}
		for envID, allocs := range allocations {
			for _, a := range allocs {
				summed[envID] = summed[envID].Add(a.Cost)
			}
		}
	}

	result := make(map[snowflake.ID][]Allocation, len(summed))
	for envID, cost := range summed {
		percent := decimal.Zero
		if !daily.IsZero() {
			percent = cost.Div(daily).Mul(hundred)
		}
		result[envID] = []Allocation{{DimensionID: team.ID, Cost: cost, Percent: percent}}
	}
	return result, nil
}

// costByAverage averages the other teams' percent distributions and applies
// the averaged share to this team's own daily cost.
func (e *Engine) costByAverage(ctx context.Context, team catalogdomain.Dimension, date time.Time, forecast bool) (map[snowflake.ID][]Allocation, error) {
	daily, _, err := e.dailyCost(ctx, team, date, forecast, nil)
	if err != nil {
		return nil, err
	}

	teams, err := e.catalog.Teams(ctx)
	if err != nil {
		return nil, err
	}

	percentSums := make(map[snowflake.ID]decimal.Decimal)
	contributing := 0
	for _, other := range teams {
		if other.ID == team.ID || other.BillingType == catalogdomain.BillingAverage {
			continue
		}
		allocations, err := e.cost(ctx, other, date, forecast, nil)
		if err != nil {
			if errors.Is(err, ErrNoTeamCost) {
				e.log.Debug("average billing skips team without cost record",
					zap.Int64("team_id", int64(other.ID)))
				continue
			}
			return nil, err
		}
		contributing++
		for envID, allocs := range allocations {
			for _, a := range allocs {
				percentSums[envID] = percentSums[envID].Add(a.Percent)
			}
		}
	}
	if contributing == 0 {
		return map[snowflake.ID][]Allocation{}, nil
	}

	count := decimal.NewFromInt(int64(contributing))
	result := make(map[snowflake.ID][]Allocation, len(percentSums))
	for envID, sum := range percentSums {
		avg := sum.Div(count)
		result[envID] = []Allocation{{
			DimensionID: team.ID,
			Cost:        daily.Mul(avg).Div(hundred),
			Percent:     avg,
		}}
	}
	return result, nil
}

type receivingTeam struct {
	team   catalogdomain.Dimension
	record catalogdomain.TeamCost
}

// receivingTeams lists the non-distribute, non-average teams with a cost
// record covering date, the targets of the distribute model.
func (e *Engine) receivingTeams(ctx context.Context, team catalogdomain.Dimension, date time.Time) ([]receivingTeam, error) {
	teams, err := e.catalog.Teams(ctx)
	if err != nil {
		return nil, err
	}

	var out []receivingTeam
	for _, other := range teams {
		if other.ID == team.ID ||
			other.BillingType == catalogdomain.BillingDistribute ||
			other.BillingType == catalogdomain.BillingAverage {
			continue
		}
		records, err := e.catalog.TeamCostsCovering(ctx, other.ID, partition.Day(date))
		if err != nil {
			return nil, err
		}
		if len(records) != 1 {
			continue
		}
		out = append(out, receivingTeam{team: other, record: records[0]})
	}
	return out, nil
}
