package partition

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

func pct(v int) decimal.Decimal { return decimal.NewFromInt(int64(v)) }

const (
	typeX = snowflake.ID(101)
	typeY = snowflake.ID(102)
)

func TestPartitionSplitsOnCompositionChange(t *testing.T) {
	// X 30 / Y 70 for days 1-15, then X 40 / Y 60 for days 16-30.
	assignments := []Assignment{
		{UsageTypeID: typeX, Percent: pct(30), StartsAt: day(1), EndsAt: day(15)},
		{UsageTypeID: typeY, Percent: pct(70), StartsAt: day(1), EndsAt: day(15)},
		{UsageTypeID: typeX, Percent: pct(40), StartsAt: day(16), EndsAt: day(30)},
		{UsageTypeID: typeY, Percent: pct(60), StartsAt: day(16), EndsAt: day(30)},
	}

	segments := Partition(day(10), day(20), assignments)
	require.Len(t, segments, 2)

	assert.True(t, segments[0].Start.Equal(day(10)))
	assert.True(t, segments[0].End.Equal(day(15)))
	assert.True(t, segments[0].Percentages[typeX].Equal(pct(30)))
	assert.True(t, segments[0].Percentages[typeY].Equal(pct(70)))

	assert.True(t, segments[1].Start.Equal(day(16)))
	assert.True(t, segments[1].End.Equal(day(20)))
	assert.True(t, segments[1].Percentages[typeX].Equal(pct(40)))
	assert.True(t, segments[1].Percentages[typeY].Equal(pct(60)))

	for _, seg := range segments {
		assert.True(t, seg.PercentSum().Equal(pct(100)))
	}
}

func TestPartitionCoversWindowContiguously(t *testing.T) {
	assignments := []Assignment{
		{UsageTypeID: typeX, Percent: pct(100), StartsAt: day(1), EndsAt: day(9)},
		{UsageTypeID: typeX, Percent: pct(60), StartsAt: day(10), EndsAt: day(31)},
		{UsageTypeID: typeY, Percent: pct(40), StartsAt: day(10), EndsAt: day(31)},
	}

	segments := Partition(day(3), day(25), assignments)
	require.NotEmpty(t, segments)

	assert.True(t, segments[0].Start.Equal(day(3)))
	assert.True(t, segments[len(segments)-1].End.Equal(day(25)))
	for i := 1; i < len(segments); i++ {
		assert.True(t, segments[i].Start.Equal(NextDay(segments[i-1].End)),
			"segments must be contiguous and non-overlapping")
	}
	for _, seg := range segments {
		assert.True(t, seg.PercentSum().Equal(pct(100)))
	}
}

func TestPartitionLaterStartWinsForSameType(t *testing.T) {
	assignments := []Assignment{
		{UsageTypeID: typeX, Percent: pct(100), StartsAt: day(1), EndsAt: day(15)},
		{UsageTypeID: typeX, Percent: pct(80), StartsAt: day(10), EndsAt: day(20)},
	}

	segments := Partition(day(1), day(20), assignments)
	require.NotEmpty(t, segments)

	last := segments[len(segments)-1]
	assert.True(t, last.End.Equal(day(20)))
	assert.True(t, last.Percentages[typeX].Equal(pct(80)))
}

func TestPartitionClampsToWindow(t *testing.T) {
	assignments := []Assignment{
		{UsageTypeID: typeX, Percent: pct(100), StartsAt: day(1), EndsAt: day(31)},
	}

	segments := Partition(day(5), day(8), assignments)
	require.Len(t, segments, 1)
	assert.True(t, segments[0].Start.Equal(day(5)))
	assert.True(t, segments[0].End.Equal(day(8)))
}

func TestPartitionIgnoresAssignmentsOutsideWindow(t *testing.T) {
	assignments := []Assignment{
		{UsageTypeID: typeX, Percent: pct(100), StartsAt: day(1), EndsAt: day(4)},
	}
	assert.Empty(t, Partition(day(10), day(20), assignments))
}

func TestDaysInclusive(t *testing.T) {
	assert.Equal(t, 1, DaysInclusive(day(5), day(5)))
	assert.Equal(t, 6, DaysInclusive(day(10), day(15)))
	assert.Equal(t, 0, DaysInclusive(day(10), day(9)))
}

func TestEachDay(t *testing.T) {
	days := EachDay(day(28), day(31))
	require.Len(t, days, 4)
	assert.True(t, days[0].Equal(day(28)))
	assert.True(t, days[3].Equal(day(31)))
}
