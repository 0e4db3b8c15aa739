package collector

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/costlane/costlane/internal/catalog/domain"
	catalogrepo "github.com/costlane/costlane/internal/catalog/repository"
	costnodedomain "github.com/costlane/costlane/internal/costnode/domain"
	costnoderepo "github.com/costlane/costlane/internal/costnode/repository"
	"github.com/costlane/costlane/internal/observability"
	pricedomain "github.com/costlane/costlane/internal/price/domain"
	pricerepo "github.com/costlane/costlane/internal/price/repository"
	priceservice "github.com/costlane/costlane/internal/price/service"
	"github.com/costlane/costlane/internal/pricingservice"
	"github.com/costlane/costlane/internal/teambilling"
	usagedomain "github.com/costlane/costlane/internal/usage/domain"
	usagerepo "github.com/costlane/costlane/internal/usage/repository"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db        *gorm.DB
	catalog   catalogdomain.Repository
	usage     usagedomain.Repository
	prices    pricedomain.Repository
	nodes     costnodedomain.Repository
	collector *Collector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&catalogdomain.ServiceEnvironment{},
		&catalogdomain.Dimension{},
		&catalogdomain.BillableResource{},
		&catalogdomain.TeamCost{},
		&catalogdomain.TeamShare{},
		&catalogdomain.TeamExclusion{},
		&catalogdomain.ServiceUsageType{},
		&catalogdomain.ServiceDependency{},
		&catalogdomain.RegularUsageType{},
		&catalogdomain.ExcludedUsageType{},
		&catalogdomain.ServiceTeam{},
		&catalogdomain.DimensionConsumer{},
		&usagedomain.DailyUsage{},
		&pricedomain.UsagePrice{},
		&costnodedomain.CostNode{},
	))

	genID, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	catalog := catalogrepo.NewRepository(db, genID)
	usage := usagerepo.NewRepository(db, genID)
	prices := pricerepo.NewRepository(db, genID)
	priceSvc := priceservice.NewService(priceservice.ServiceParam{Log: log, Repo: prices})
	nodes := costnoderepo.NewRepository(db, genID)
	teams := teambilling.NewEngine(teambilling.EngineParam{Log: log, Catalog: catalog})
	services := pricingservice.NewService(pricingservice.ServiceParam{
		Log: log, Catalog: catalog, Prices: priceSvc, Usage: usage, Teams: teams,
	})

	c := New(Param{
		DB:       db,
		Log:      log,
		GenID:    genID,
		Catalog:  catalog,
		Prices:   priceSvc,
		Usage:    usage,
		Nodes:    nodes,
		Services: services,
		Teams:    teams,
		Metrics:  observability.NewMetrics(),
	})

	return &fixture{db: db, catalog: catalog, usage: usage, prices: prices, nodes: nodes, collector: c}
}

func date(d int) time.Time {
	return time.Date(2025, time.June, d, 0, 0, 0, 0, time.UTC)
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func (f *fixture) seedEnv(t *testing.T, service, env string) snowflake.ID {
	t.Helper()
	e := &catalogdomain.ServiceEnvironment{Service: service, Environment: env}
	require.NoError(t, f.catalog.CreateServiceEnvironment(context.Background(), e))
	return e.ID
}

func (f *fixture) seedDimension(t *testing.T, kind catalogdomain.DimensionKind, name string) catalogdomain.Dimension {
	t.Helper()
	dim := &catalogdomain.Dimension{Kind: kind, Name: name}
	require.NoError(t, f.catalog.CreateDimension(context.Background(), dim))
	return *dim
}

func (f *fixture) seedUnitPrice(t *testing.T, dimID snowflake.ID, unit int64, startDay, endDay int) {
	t.Helper()
	u := dec(unit)
	require.NoError(t, f.prices.Add(context.Background(), &pricedomain.UsagePrice{
		DimensionID: dimID,
		UnitPrice:   &u,
		StartsAt:    date(startDay),
		EndsAt:      date(endDay),
	}))
}

func (f *fixture) seedUsage(t *testing.T, dimID, envID snowflake.ID, day int, value int64) {
	t.Helper()
	require.NoError(t, f.usage.Upsert(context.Background(), &usagedomain.DailyUsage{
		Date:                 date(day),
		DimensionID:          dimID,
		ServiceEnvironmentID: envID,
		Value:                dec(value),
	}))
}

func costPerEnv(nodes []costnodedomain.CostNode) map[snowflake.ID]decimal.Decimal {
	out := make(map[snowflake.ID]decimal.Decimal)
	for _, n := range nodes {
		if n.Depth == 0 {
			out[n.ServiceEnvironmentID] = out[n.ServiceEnvironmentID].Add(n.Cost)
		}
	}
	return out
}

func TestUnitPricedUsageAcrossPriceChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	envA := f.seedEnv(t, "shop", "prod")
	envB := f.seedEnv(t, "search", "prod")
	ut := f.seedDimension(t, catalogdomain.KindUsageType, "Compute Hours")

	// 10/unit for days 1-12, then 20/unit for days 13-17.
	f.seedUnitPrice(t, ut.ID, 10, 1, 12)
	f.seedUnitPrice(t, ut.ID, 20, 13, 17)

	// A consumes 10 units per day, B 20.
	for d := 1; d <= 17; d++ {
		f.seedUsage(t, ut.ID, envA, d, 10)
		f.seedUsage(t, ut.ID, envB, d, 20)
	}

	results, err := f.collector.ProcessPeriod(ctx, date(1), date(17), false)
	require.NoError(t, err)
	require.Len(t, results, 17)
	for _, r := range results {
		require.NoError(t, r.Err, "day %s", r.Date)
	}

	roots, err := f.nodes.Roots(ctx, nil, date(1), date(17), nil, false)
	require.NoError(t, err)

	totals := costPerEnv(roots)
	// 12 days at 10/unit plus 5 days at 20/unit: 220 per unit of daily usage.
	assert.True(t, totals[envA].Equal(dec(2200)), "got %s", totals[envA])
	assert.True(t, totals[envB].Equal(dec(4400)), "got %s", totals[envB])
}

func TestProcessIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	envA := f.seedEnv(t, "shop", "prod")
	ut := f.seedDimension(t, catalogdomain.KindUsageType, "Storage GB")
	f.seedUnitPrice(t, ut.ID, 2, 1, 30)
	f.seedUsage(t, ut.ID, envA, 5, 50)

	first, err := f.collector.Process(ctx, date(5), false, false)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := f.collector.Process(ctx, date(5), false, false)
	require.NoError(t, err)
	require.Len(t, second, len(first))

	key := func(nodes []costnodedomain.CostNode) []string {
		out := make([]string, len(nodes))
		for i, n := range nodes {
			out[i] = n.Path + "=" + n.Cost.String()
		}
		sort.Strings(out)
		return out
	}
	assert.Equal(t, key(first), key(second))

	var count int64
	require.NoError(t, f.db.Model(&costnodedomain.CostNode{}).Where("date = ?", date(5)).Count(&count).Error)
	assert.Equal(t, int64(len(first)), count)
}

func TestVerifiedDayRefusesRecomputation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	envA := f.seedEnv(t, "shop", "prod")
	ut := f.seedDimension(t, catalogdomain.KindUsageType, "Requests")
	f.seedUnitPrice(t, ut.ID, 1, 1, 30)
	f.seedUsage(t, ut.ID, envA, 5, 100)

	first, err := f.collector.Process(ctx, date(5), false, false)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	_, err = f.nodes.MarkAccepted(ctx, date(5), date(5), false)
	require.NoError(t, err)

	_, err = f.collector.Process(ctx, date(5), false, false)
	require.ErrorIs(t, err, costnodedomain.ErrVerifiedCostsExist)

	// The accepted nodes survive untouched.
	after, err := f.nodes.ListDay(ctx, date(5), false)
	require.NoError(t, err)
	require.Len(t, after, len(first))
	for _, n := range after {
		assert.True(t, n.Accepted)
	}

	// Forcing recomputation replaces them.
	forced, err := f.collector.Process(ctx, date(5), false, true)
	require.NoError(t, err)
	require.Len(t, forced, len(first))
	for _, n := range forced {
		assert.False(t, n.Accepted)
	}
}

func TestPricingServiceBuildsNestedTree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	envA := f.seedEnv(t, "shop", "prod")
	envB := f.seedEnv(t, "search", "prod")

	x := f.seedDimension(t, catalogdomain.KindUsageType, "Warehouse X")
	y := f.seedDimension(t, catalogdomain.KindUsageType, "Warehouse Y")
	svc := f.seedDimension(t, catalogdomain.KindPricingService, "Data Platform")

	require.NoError(t, f.catalog.AddDivision(ctx, &catalogdomain.ServiceUsageType{
		PricingServiceID: svc.ID, UsageTypeID: x.ID, Percent: dec(50),
		StartsAt: date(1), EndsAt: date(10),
	}))
	require.NoError(t, f.catalog.AddDivision(ctx, &catalogdomain.ServiceUsageType{
		PricingServiceID: svc.ID, UsageTypeID: y.ID, Percent: dec(50),
		StartsAt: date(1), EndsAt: date(10),
	}))

	// Only X is priced: the service total for day 5 is 4 units at 10.
	f.seedUnitPrice(t, x.ID, 10, 1, 10)
	f.seedUsage(t, x.ID, envA, 5, 1)
	f.seedUsage(t, x.ID, envB, 5, 3)
	f.seedUsage(t, y.ID, envA, 5, 1)
	f.seedUsage(t, y.ID, envB, 5, 1)

	nodes, err := f.collector.Process(ctx, date(5), false, false)
	require.NoError(t, err)

	byPath := make(map[snowflake.ID]map[string]costnodedomain.CostNode)
	for _, n := range nodes {
		if byPath[n.ServiceEnvironmentID] == nil {
			byPath[n.ServiceEnvironmentID] = make(map[string]costnodedomain.CostNode)
		}
		byPath[n.ServiceEnvironmentID][n.Path] = n
	}

	svcPath := svc.ID.String()
	rootA := byPath[envA][svcPath]
	rootB := byPath[envB][svcPath]
	require.Equal(t, 0, rootA.Depth)
	require.Equal(t, 0, rootB.Depth)

	// Total 40: X half 20 split 1:3, Y half 20 split 1:1.
	xA := byPath[envA][svcPath+"/"+x.ID.String()]
	yA := byPath[envA][svcPath+"/"+y.ID.String()]
	assert.True(t, xA.Cost.Equal(dec(5)), "got %s", xA.Cost)
	assert.True(t, yA.Cost.Equal(dec(10)), "got %s", yA.Cost)
	assert.Equal(t, 1, xA.Depth)
	assert.True(t, rootA.Cost.Equal(xA.Cost.Add(yA.Cost)))

	xB := byPath[envB][svcPath+"/"+x.ID.String()]
	yB := byPath[envB][svcPath+"/"+y.ID.String()]
	assert.True(t, xB.Cost.Equal(dec(15)), "got %s", xB.Cost)
	assert.True(t, yB.Cost.Equal(dec(10)), "got %s", yB.Cost)
	assert.True(t, rootB.Cost.Equal(dec(25)))

	// The service absorbs its usage types: no standalone roots for X or Y.
	_, ok := byPath[envA][x.ID.String()]
	assert.False(t, ok)
}

func TestDataQualityTeamDoesNotFailTheDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	envA := f.seedEnv(t, "shop", "prod")
	ut := f.seedDimension(t, catalogdomain.KindUsageType, "Requests")
	f.seedUnitPrice(t, ut.ID, 1, 1, 30)
	f.seedUsage(t, ut.ID, envA, 5, 100)

	// A team without any cost record is skipped, not fatal.
	team := &catalogdomain.Dimension{
		Kind: catalogdomain.KindTeam, Name: "Lonely", BillingType: catalogdomain.BillingAssets,
	}
	require.NoError(t, f.catalog.CreateDimension(ctx, team))

	nodes, err := f.collector.Process(ctx, date(5), false, false)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, ut.ID, nodes[0].DimensionID)
	assert.True(t, nodes[0].Cost.Equal(dec(100)))
}
