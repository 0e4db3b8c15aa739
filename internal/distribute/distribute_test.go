package distribute

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/costlane/costlane/internal/usage/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsageRepo struct {
	byEnv      map[snowflake.ID][]usagedomain.EnvironmentUsage
	byResource map[snowflake.ID][]usagedomain.ResourceUsage
}

func (f *fakeUsageRepo) Upsert(context.Context, *usagedomain.DailyUsage) error { return nil }

func (f *fakeUsageRepo) TotalUsage(_ context.Context, dim snowflake.ID, _, _ time.Time, _, _ []snowflake.ID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, row := range f.byEnv[dim] {
		total = total.Add(row.Total)
	}
	return total, nil
}

func (f *fakeUsageRepo) ByEnvironment(_ context.Context, dim snowflake.ID, _, _ time.Time, _, excluded []snowflake.ID) ([]usagedomain.EnvironmentUsage, error) {
	var rows []usagedomain.EnvironmentUsage
	for _, row := range f.byEnv[dim] {
		skip := false
		for _, ex := range excluded {
			if row.ServiceEnvironmentID == ex {
				skip = true
			}
		}
		if !skip {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (f *fakeUsageRepo) ByResource(_ context.Context, dim snowflake.ID, _, _ time.Time, _, _ []snowflake.ID) ([]usagedomain.ResourceUsage, error) {
	return f.byResource[dim], nil
}

var (
	envA = snowflake.ID(1)
	envB = snowflake.ID(2)
	dimX = snowflake.ID(10)
	dimY = snowflake.ID(11)
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestByConsumerProportional(t *testing.T) {
	repo := &fakeUsageRepo{byEnv: map[snowflake.ID][]usagedomain.EnvironmentUsage{
		dimX: {
			{ServiceEnvironmentID: envA, Total: dec(10)},
			{ServiceEnvironmentID: envB, Total: dec(20)},
		},
	}}
	d := New(repo)

	result, err := d.ByConsumer(context.Background(), dec(300),
		[]Weighted{{UsageTypeID: dimX, Percent: dec(100)}},
		time.Time{}, time.Time{}, nil, nil)
	require.NoError(t, err)

	assert.True(t, result[envA][dimX].Cost.Equal(dec(100)))
	assert.True(t, result[envB][dimX].Cost.Equal(dec(200)))

	// Distributed costs sum back to the segment cost.
	sum := result[envA][dimX].Cost.Add(result[envB][dimX].Cost)
	assert.True(t, sum.Equal(dec(300)))
}

func TestByConsumerWeightedSplit(t *testing.T) {
	repo := &fakeUsageRepo{byEnv: map[snowflake.ID][]usagedomain.EnvironmentUsage{
		dimX: {{ServiceEnvironmentID: envA, Total: dec(5)}},
		dimY: {
			{ServiceEnvironmentID: envA, Total: dec(1)},
			{ServiceEnvironmentID: envB, Total: dec(3)},
		},
	}}
	d := New(repo)

	result, err := d.ByConsumer(context.Background(), dec(1000),
		[]Weighted{
			{UsageTypeID: dimX, Percent: dec(30)},
			{UsageTypeID: dimY, Percent: dec(70)},
		},
		time.Time{}, time.Time{}, nil, nil)
	require.NoError(t, err)

	// X: 300, all to A. Y: 700 split 1:3.
	assert.True(t, result[envA][dimX].Cost.Equal(dec(300)))
	assert.True(t, result[envA][dimY].Cost.Equal(dec(175)))
	assert.True(t, result[envB][dimY].Cost.Equal(dec(525)))
}

func TestByConsumerZeroUsageIsNotAnError(t *testing.T) {
	repo := &fakeUsageRepo{byEnv: map[snowflake.ID][]usagedomain.EnvironmentUsage{}}
	d := New(repo)

	result, err := d.ByConsumer(context.Background(), dec(1000),
		[]Weighted{{UsageTypeID: dimX, Percent: dec(100)}},
		time.Time{}, time.Time{}, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestByConsumerHonorsExclusions(t *testing.T) {
	repo := &fakeUsageRepo{byEnv: map[snowflake.ID][]usagedomain.EnvironmentUsage{
		dimX: {
			{ServiceEnvironmentID: envA, Total: dec(10)},
			{ServiceEnvironmentID: envB, Total: dec(10)},
		},
	}}
	d := New(repo)

	result, err := d.ByConsumer(context.Background(), dec(100),
		[]Weighted{{UsageTypeID: dimX, Percent: dec(100)}},
		time.Time{}, time.Time{}, nil,
		map[snowflake.ID][]snowflake.ID{dimX: {envB}})
	require.NoError(t, err)

	// B excluded from both the numerator and the denominator.
	assert.True(t, result[envA][dimX].Cost.Equal(dec(100)))
	_, ok := result[envB]
	assert.False(t, ok)
}

func TestByResource(t *testing.T) {
	res1, res2 := snowflake.ID(100), snowflake.ID(200)
	repo := &fakeUsageRepo{byResource: map[snowflake.ID][]usagedomain.ResourceUsage{
		dimX: {
			{ResourceID: res1, ServiceEnvironmentID: envA, Total: dec(1)},
			{ResourceID: res2, ServiceEnvironmentID: envA, Total: dec(3)},
		},
	}}
	d := New(repo)

	result, err := d.ByResource(context.Background(), dec(400),
		[]Weighted{{UsageTypeID: dimX, Percent: dec(100)}},
		time.Time{}, time.Time{}, nil, nil)
	require.NoError(t, err)

	assert.True(t, result[ResourceKey{res1, envA}][dimX].Cost.Equal(dec(100)))
	assert.True(t, result[ResourceKey{res2, envA}][dimX].Cost.Equal(dec(300)))
}
