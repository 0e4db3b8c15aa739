package teambilling

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/costlane/costlane/internal/catalog/domain"
	catalogrepo "github.com/costlane/costlane/internal/catalog/repository"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestCatalog(t *testing.T) (catalogdomain.Repository, *snowflake.Node) {
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
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return catalogrepo.NewRepository(db, node), node
}

func newEngine(catalog catalogdomain.Repository) *Engine {
	return NewEngine(EngineParam{Log: zap.NewNop(), Catalog: catalog})
}

func date(d int) time.Time {
	return time.Date(2025, time.June, d, 0, 0, 0, 0, time.UTC)
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func seedEnv(t *testing.T, catalog catalogdomain.Repository, service, env string) snowflake.ID {
	t.Helper()
	e := &catalogdomain.ServiceEnvironment{Service: service, Environment: env}
	require.NoError(t, catalog.CreateServiceEnvironment(context.Background(), e))
	return e.ID
}

func seedTeam(t *testing.T, catalog catalogdomain.Repository, name string, billing catalogdomain.BillingType) catalogdomain.Dimension {
	t.Helper()
	dim := &catalogdomain.Dimension{Kind: catalogdomain.KindTeam, Name: name, BillingType: billing}
	require.NoError(t, catalog.CreateDimension(context.Background(), dim))
	return *dim
}

func seedTeamCost(t *testing.T, catalog catalogdomain.Repository, teamID snowflake.ID, cost, forecast int64, members, startDay, endDay int) catalogdomain.TeamCost {
	t.Helper()
	tc := &catalogdomain.TeamCost{
		TeamID:       teamID,
		Cost:         dec(cost),
		ForecastCost: dec(forecast),
		MemberCount:  members,
		StartsAt:     date(startDay),
		EndsAt:       date(endDay),
	}
	require.NoError(t, catalog.AddTeamCost(context.Background(), tc))
	return *tc
}

func seedAssets(t *testing.T, catalog catalogdomain.Repository, envID snowflake.ID, count, coresEach int) {
	t.Helper()
	for i := 0; i < count; i++ {
		require.NoError(t, catalog.AddBillableResource(context.Background(), &catalogdomain.BillableResource{
			ServiceEnvironmentID: envID,
			Name:                 "host",
			Cores:                coresEach,
		}))
	}
}

func TestAssetsModel(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	engine := newEngine(catalog)
	ctx := context.Background()

	envA := seedEnv(t, catalog, "shop", "prod")
	envB := seedEnv(t, catalog, "search", "prod")
	team := seedTeam(t, catalog, "Platform", catalogdomain.BillingAssets)

	// Period cost 1000 over 10 days: daily cost 100.
	seedTeamCost(t, catalog, team.ID, 1000, 1000, 5, 1, 10)
	seedAssets(t, catalog, envA, 3, 4)
	seedAssets(t, catalog, envB, 7, 4)

	result, err := engine.CostPerServiceEnvironment(ctx, team, date(5), false)
	require.NoError(t, err)

	require.Len(t, result[envA], 1)
	require.Len(t, result[envB], 1)
	assert.True(t, result[envA][0].Cost.Equal(dec(30)), "got %s", result[envA][0].Cost)
	assert.True(t, result[envB][0].Cost.Equal(dec(70)), "got %s", result[envB][0].Cost)
	assert.True(t, result[envA][0].Percent.Equal(dec(30)))
}

func TestAssetsModelHonorsExclusions(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	engine := newEngine(catalog)
	ctx := context.Background()

	envA := seedEnv(t, catalog, "shop", "prod")
	envB := seedEnv(t, catalog, "search", "prod")
	team := seedTeam(t, catalog, "Platform", catalogdomain.BillingAssets)
	seedTeamCost(t, catalog, team.ID, 1000, 1000, 5, 1, 10)
	seedAssets(t, catalog, envA, 3, 0)
	seedAssets(t, catalog, envB, 7, 0)

	require.NoError(t, catalog.AddTeamExclusion(ctx, &catalogdomain.TeamExclusion{
		TeamID:               team.ID,
		ServiceEnvironmentID: envB,
	}))

	result, err := engine.CostPerServiceEnvironment(ctx, team, date(5), false)
	require.NoError(t, err)

	// B removed from numerator and denominator: A takes the full 100.
	assert.True(t, result[envA][0].Cost.Equal(dec(100)))
	_, ok := result[envB]
	assert.False(t, ok)
}

func TestAssetsCoresModel(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	engine := newEngine(catalog)
	ctx := context.Background()

	envA := seedEnv(t, catalog, "shop", "prod")
	envB := seedEnv(t, catalog, "search", "prod")
	team := seedTeam(t, catalog, "Infra", catalogdomain.BillingAssetsCores)
	seedTeamCost(t, catalog, team.ID, 1000, 1000, 5, 1, 10)

	// A: 3 assets, 2 cores each (6 cores). B: 1 asset, 18 cores.
	seedAssets(t, catalog, envA, 3, 2)
	seedAssets(t, catalog, envB, 1, 18)

	result, err := engine.CostPerServiceEnvironment(ctx, team, date(5), false)
	require.NoError(t, err)

	// Asset half (50): A 37.5, B 12.5. Core half (50): A 12.5, B 37.5.
	assert.True(t, result[envA][0].Cost.Equal(dec(50)), "got %s", result[envA][0].Cost)
	assert.True(t, result[envB][0].Cost.Equal(dec(50)), "got %s", result[envB][0].Cost)
}

func TestTimeModel(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	engine := newEngine(catalog)
	ctx := context.Background()

	envA := seedEnv(t, catalog, "shop", "prod")
	envB := seedEnv(t, catalog, "search", "prod")
	team := seedTeam(t, catalog, "SRE", catalogdomain.BillingTime)
	tc := seedTeamCost(t, catalog, team.ID, 700, 1400, 5, 1, 7)

	require.NoError(t, catalog.AddTeamShare(ctx, &catalogdomain.TeamShare{
		TeamCostID: tc.ID, ServiceEnvironmentID: envA, Percent: dec(25),
	}))
	require.NoError(t, catalog.AddTeamShare(ctx, &catalogdomain.TeamShare{
		TeamCostID: tc.ID, ServiceEnvironmentID: envB, Percent: dec(50),
	}))

	result, err := engine.CostPerServiceEnvironment(ctx, team, date(3), false)
	require.NoError(t, err)

	assert.True(t, result[envA][0].Cost.Equal(dec(25)))
	assert.True(t, result[envB][0].Cost.Equal(dec(50)))

	// Forecast selects the forecast period cost.
	forecasted, err := engine.CostPerServiceEnvironment(ctx, team, date(3), true)
	require.NoError(t, err)
	assert.True(t, forecasted[envA][0].Cost.Equal(dec(50)))
}

func TestDistributeModel(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	engine := newEngine(catalog)
	ctx := context.Background()

	envA := seedEnv(t, catalog, "shop", "prod")
	envB := seedEnv(t, catalog, "search", "prod")

	// Receiving team: assets model, 2 members.
	assetsTeam := seedTeam(t, catalog, "Platform", catalogdomain.BillingAssets)
	seedTeamCost(t, catalog, assetsTeam.ID, 1000, 1000, 2, 1, 10)
	seedAssets(t, catalog, envA, 1, 0)
	seedAssets(t, catalog, envB, 3, 0)

	// Receiving team: time model, 3 members.
	timeTeam := seedTeam(t, catalog, "SRE", catalogdomain.BillingTime)
	timeCost := seedTeamCost(t, catalog, timeTeam.ID, 1000, 1000, 3, 1, 10)
	require.NoError(t, catalog.AddTeamShare(ctx, &catalogdomain.TeamShare{
		TeamCostID: timeCost.ID, ServiceEnvironmentID: envA, Percent: dec(100),
	}))

	// Distribute team: daily cost 100 split 2:3 over the two teams.
	distTeam := seedTeam(t, catalog, "Management", catalogdomain.BillingDistribute)
	seedTeamCost(t, catalog, distTeam.ID, 1000, 1000, 1, 1, 10)

	result, err := engine.CostPerServiceEnvironment(ctx, distTeam, date(5), false)
	require.NoError(t, err)

	// Platform portion 40 split 1:3 by assets (A 10, B 30); SRE portion 60
	// all to A by time share. A: 70, B: 30.
	assert.True(t, result[envA][0].Cost.Equal(dec(70)), "got %s", result[envA][0].Cost)
	assert.True(t, result[envB][0].Cost.Equal(dec(30)), "got %s", result[envB][0].Cost)

	total := result[envA][0].Cost.Add(result[envB][0].Cost)
	assert.True(t, total.Equal(dec(100)), "distributed cost must equal the daily cost")
}

func TestAverageModel(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	engine := newEngine(catalog)
	ctx := context.Background()

	envA := seedEnv(t, catalog, "shop", "prod")
	envB := seedEnv(t, catalog, "search", "prod")

	// Two contributing teams with opposite distributions.
	t1 := seedTeam(t, catalog, "SRE", catalogdomain.BillingTime)
	c1 := seedTeamCost(t, catalog, t1.ID, 1000, 1000, 2, 1, 10)
	require.NoError(t, catalog.AddTeamShare(ctx, &catalogdomain.TeamShare{
		TeamCostID: c1.ID, ServiceEnvironmentID: envA, Percent: dec(100),
	}))

	t2 := seedTeam(t, catalog, "DBA", catalogdomain.BillingTime)
	c2 := seedTeamCost(t, catalog, t2.ID, 1000, 1000, 2, 1, 10)
	require.NoError(t, catalog.AddTeamShare(ctx, &catalogdomain.TeamShare{
		TeamCostID: c2.ID, ServiceEnvironmentID: envB, Percent: dec(50),
	}))

	avgTeam := seedTeam(t, catalog, "Office", catalogdomain.BillingAverage)
	seedTeamCost(t, catalog, avgTeam.ID, 2000, 2000, 1, 1, 10)

	result, err := engine.CostPerServiceEnvironment(ctx, avgTeam, date(5), false)
	require.NoError(t, err)

	// Daily cost 200. A: (100+0)/2 = 50% -> 100. B: (0+50)/2 = 25% -> 50.
	assert.True(t, result[envA][0].Cost.Equal(dec(100)), "got %s", result[envA][0].Cost)
	assert.True(t, result[envB][0].Cost.Equal(dec(50)), "got %s", result[envB][0].Cost)
}

func TestNoTeamCostRecord(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	engine := newEngine(catalog)

	team := seedTeam(t, catalog, "Lonely", catalogdomain.BillingAssets)

	_, err := engine.CostPerServiceEnvironment(context.Background(), team, date(5), false)
	assert.ErrorIs(t, err, ErrNoTeamCost)
}

func TestConflictingTeamCostRecords(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	engine := newEngine(catalog)

	team := seedTeam(t, catalog, "Doubled", catalogdomain.BillingAssets)
	seedTeamCost(t, catalog, team.ID, 1000, 1000, 5, 1, 10)
	seedTeamCost(t, catalog, team.ID, 2000, 2000, 5, 5, 15)

	_, err := engine.CostPerServiceEnvironment(context.Background(), team, date(7), false)
	assert.ErrorIs(t, err, ErrConflictingTeamCosts)
}
