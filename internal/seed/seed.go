// Package seed loads a small demo dataset: three consumers, metered and
// period-priced usage types, a composite pricing service, three teams and a
// fixed extra cost, with a month of usage behind them.
package seed

import (
	"context"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/costlane/costlane/internal/catalog/domain"
	"github.com/costlane/costlane/internal/clock"
	"github.com/costlane/costlane/internal/partition"
	pricedomain "github.com/costlane/costlane/internal/price/domain"
	usagedomain "github.com/costlane/costlane/internal/usage/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Seeder struct {
	log     *zap.Logger
	clock   clock.Clock
	catalog catalogdomain.Repository
	usage   usagedomain.Service
	prices  pricedomain.Repository
}

type Param struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Catalog catalogdomain.Repository
	Usage   usagedomain.Service
	Prices  pricedomain.Repository
}

func New(p Param) *Seeder {
	return &Seeder{
		log:     p.Log.Named("seed"),
		clock:   p.Clock,
		catalog: p.Catalog,
		usage:   p.Usage,
		prices:  p.Prices,
	}
}

// Run seeds the last 30 days up to yesterday. It is meant for empty
// databases; rerunning it on seeded data fails on unique constraints.
func (s *Seeder) Run(ctx context.Context) error {
	end := partition.PrevDay(partition.Day(s.clock.Now(ctx)))
	start := end.AddDate(0, 0, -29)

	shopProd, err := s.environment(ctx, "shop", "prod")
	if err != nil {
		return err
	}
	shopStaging, err := s.environment(ctx, "shop", "staging")
	if err != nil {
		return err
	}
	searchProd, err := s.environment(ctx, "search", "prod")
	if err != nil {
		return err
	}
	envs := []snowflake.ID{shopProd, shopStaging, searchProd}

	for _, envID := range envs {
		for i := 0; i < 3; i++ {
			cores := 4
			if i == 0 {
				cores = 8
			}
			if err := s.catalog.AddBillableResource(ctx, &catalogdomain.BillableResource{
				ServiceEnvironmentID: envID,
				Name:                 "host",
				Cores:                cores,
			}); err != nil {
				return err
			}
		}
	}

	compute, err := s.dimension(ctx, catalogdomain.KindUsageType, "Compute Hours", "")
	if err != nil {
		return err
	}
	storage, err := s.dimension(ctx, catalogdomain.KindUsageType, "Storage GB", "")
	if err != nil {
		return err
	}
	queries, err := s.dimension(ctx, catalogdomain.KindUsageType, "Warehouse Queries", "")
	if err != nil {
		return err
	}

	if err := s.unitPrice(ctx, compute, "0.12", start, end); err != nil {
		return err
	}
	if err := s.periodPrice(ctx, storage, "900", start, end); err != nil {
		return err
	}
	if err := s.unitPrice(ctx, queries, "0.002", start, end); err != nil {
		return err
	}

	// The data platform absorbs warehouse queries through a 60/40 division
	// and owns storage outright.
	platform, err := s.dimension(ctx, catalogdomain.KindPricingService, "Data Platform", "")
	if err != nil {
		return err
	}
	if err := s.catalog.AddDivision(ctx, &catalogdomain.ServiceUsageType{
		PricingServiceID: platform, UsageTypeID: queries,
		Percent: decimal.NewFromInt(60), StartsAt: start, EndsAt: end,
	}); err != nil {
		return err
	}
	if err := s.catalog.AddDivision(ctx, &catalogdomain.ServiceUsageType{
		PricingServiceID: platform, UsageTypeID: compute,
		Percent: decimal.NewFromInt(40), StartsAt: start, EndsAt: end,
	}); err != nil {
		return err
	}
	if err := s.catalog.AddRegularUsageType(ctx, &catalogdomain.RegularUsageType{
		PricingServiceID: platform, UsageTypeID: storage,
	}); err != nil {
		return err
	}

	if err := s.teams(ctx, envs, start, end); err != nil {
		return err
	}

	rent, err := s.dimension(ctx, catalogdomain.KindExtraCost, "Office Rent", "")
	if err != nil {
		return err
	}
	if err := s.periodPrice(ctx, rent, "3000", start, end); err != nil {
		return err
	}
	for _, envID := range []snowflake.ID{shopProd, searchProd} {
		if err := s.catalog.AddConsumer(ctx, &catalogdomain.DimensionConsumer{
			DimensionID: rent, ServiceEnvironmentID: envID,
		}); err != nil {
			return err
		}
	}

	if err := s.dailyUsage(ctx, envs, compute, storage, queries, start, end); err != nil {
		return err
	}

	s.log.Info("demo dataset seeded",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("environments", len(envs)),
	)
	return nil
}

func (s *Seeder) environment(ctx context.Context, service, environment string) (snowflake.ID, error) {
	env := &catalogdomain.ServiceEnvironment{Service: service, Environment: environment}
	if err := s.catalog.CreateServiceEnvironment(ctx, env); err != nil {
		return 0, err
	}
	return env.ID, nil
}

func (s *Seeder) dimension(ctx context.Context, kind catalogdomain.DimensionKind, name string, billing catalogdomain.BillingType) (snowflake.ID, error) {
	dim := &catalogdomain.Dimension{Kind: kind, Name: name, BillingType: billing}
	if err := s.catalog.CreateDimension(ctx, dim); err != nil {
		return 0, err
	}
	return dim.ID, nil
}

func (s *Seeder) unitPrice(ctx context.Context, dimID snowflake.ID, unit string, start, end time.Time) error {
	u := decimal.RequireFromString(unit)
	return s.prices.Add(ctx, &pricedomain.UsagePrice{
		DimensionID: dimID, UnitPrice: &u, StartsAt: start, EndsAt: end,
	})
}

func (s *Seeder) periodPrice(ctx context.Context, dimID snowflake.ID, period string, start, end time.Time) error {
	p := decimal.RequireFromString(period)
	return s.prices.Add(ctx, &pricedomain.UsagePrice{
		DimensionID: dimID, PeriodCost: &p, StartsAt: start, EndsAt: end,
	})
}

func (s *Seeder) teams(ctx context.Context, envs []snowflake.ID, start, end time.Time) error {
	platformTeam, err := s.dimension(ctx, catalogdomain.KindTeam, "Platform", catalogdomain.BillingAssets)
	if err != nil {
		return err
	}
	if err := s.catalog.AddTeamCost(ctx, &catalogdomain.TeamCost{
		TeamID: platformTeam,
		Cost:   decimal.NewFromInt(12000), ForecastCost: decimal.NewFromInt(13000),
		MemberCount: 4, StartsAt: start, EndsAt: end,
	}); err != nil {
		return err
	}

	sre, err := s.dimension(ctx, catalogdomain.KindTeam, "SRE", catalogdomain.BillingTime)
	if err != nil {
		return err
	}
	sreCost := &catalogdomain.TeamCost{
		TeamID: sre,
		Cost:   decimal.NewFromInt(9000), ForecastCost: decimal.NewFromInt(9000),
		MemberCount: 3, StartsAt: start, EndsAt: end,
	}
	if err := s.catalog.AddTeamCost(ctx, sreCost); err != nil {
		return err
	}
	shares := []int64{50, 20, 30}
	for i, envID := range envs {
		if err := s.catalog.AddTeamShare(ctx, &catalogdomain.TeamShare{
			TeamCostID: sreCost.ID, ServiceEnvironmentID: envID,
			Percent: decimal.NewFromInt(shares[i]),
		}); err != nil {
			return err
		}
	}

	management, err := s.dimension(ctx, catalogdomain.KindTeam, "Management", catalogdomain.BillingDistribute)
	if err != nil {
		return err
	}
	return s.catalog.AddTeamCost(ctx, &catalogdomain.TeamCost{
		TeamID: management,
		Cost:   decimal.NewFromInt(6000), ForecastCost: decimal.NewFromInt(6000),
		MemberCount: 2, StartsAt: start, EndsAt: end,
	})
}

func (s *Seeder) dailyUsage(ctx context.Context, envs []snowflake.ID, compute, storage, queries snowflake.ID, start, end time.Time) error {
	for i, day := range partition.EachDay(start, end) {
		// A mild weekly wave keeps the demo charts from being flat.
		wave := 1 + 0.25*math.Sin(2*math.Pi*float64(i)/7)
		for j, envID := range envs {
			scale := float64(j + 1)
			rows := []struct {
				dim   snowflake.ID
				value float64
			}{
				{compute, 24 * scale * wave},
				{storage, 150 * scale},
				{queries, 5000 * scale * wave},
			}
			for _, row := range rows {
				if _, err := s.usage.Ingest(ctx, usagedomain.IngestRequest{
					Date:                 day,
					DimensionID:          row.dim,
					ServiceEnvironmentID: envID,
					Value:                decimal.NewFromFloat(row.value).Round(4),
				}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

var Module = fx.Module("seed",
	fx.Provide(New),
)
