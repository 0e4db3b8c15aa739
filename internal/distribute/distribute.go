// Package distribute splits a total cost across consumers in proportion to
// their measured usage.
package distribute

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/costlane/costlane/internal/usage/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Weighted is one usage type's percentage share of the total being split,
// as produced by a partition segment.
type Weighted struct {
	UsageTypeID snowflake.ID
	Percent     decimal.Decimal
}

// Share is one consumer's slice of one usage type: the usage quantity that
// earned it and the resulting cost.
type Share struct {
	Value decimal.Decimal
	Cost  decimal.Decimal
}

// ResourceKey addresses a share at device granularity.
type ResourceKey struct {
	ResourceID           snowflake.ID
	ServiceEnvironmentID snowflake.ID
}

type Distributor struct {
	usage usagedomain.Repository
}

func New(usage usagedomain.Repository) *Distributor {
	return &Distributor{usage: usage}
}

// ByConsumer distributes total across consumers per weighted usage type.
// Result: envID -> usageTypeID -> share. A usage type with zero measured
// usage contributes nothing; that is not an error.
func (d *Distributor) ByConsumer(
	ctx context.Context,
	total decimal.Decimal,
	weighted []Weighted,
	start, end time.Time,
	envIDs []snowflake.ID,
	excluded map[snowflake.ID][]snowflake.ID,
) (map[snowflake.ID]map[snowflake.ID]Share, error) {
	result := make(map[snowflake.ID]map[snowflake.ID]Share)

	for _, w := range weighted {
		segmentCost := total.Mul(w.Percent).Div(hundred)

		rows, err := d.usage.ByEnvironment(ctx, w.UsageTypeID, start, end, envIDs, excluded[w.UsageTypeID])
		if err != nil {
			return nil, err
		}

		totalUsage := decimal.Zero
		for _, row := range rows {
			totalUsage = totalUsage.Add(row.Total)
		}
		if totalUsage.IsZero() {
			continue
		}

		for _, row := range rows {
			if row.Total.IsZero() {
				continue
			}
			cost := segmentCost.Mul(row.Total).Div(totalUsage)
			byType := result[row.ServiceEnvironmentID]
			if byType == nil {
				byType = make(map[snowflake.ID]Share)
				result[row.ServiceEnvironmentID] = byType
			}
			prev := byType[w.UsageTypeID]
			byType[w.UsageTypeID] = Share{
				Value: prev.Value.Add(row.Total),
				Cost:  prev.Cost.Add(cost),
			}
		}
	}

	return result, nil
}

// ByResource performs the identical computation keyed by (resource,
// consumer) for drill-down reporting.
func (d *Distributor) ByResource(
	ctx context.Context,
	total decimal.Decimal,
	weighted []Weighted,
	start, end time.Time,
	envIDs []snowflake.ID,
	excluded map[snowflake.ID][]snowflake.ID,
) (map[ResourceKey]map[snowflake.ID]Share, error) {
	result := make(map[ResourceKey]map[snowflake.ID]Share)

	for _, w := range weighted {
		segmentCost := total.Mul(w.Percent).Div(hundred)

		rows, err := d.usage.ByResource(ctx, w.UsageTypeID, start, end, envIDs, excluded[w.UsageTypeID])
		if err != nil {
			return nil, err
		}

		totalUsage := decimal.Zero
		for _, row := range rows {
			totalUsage = totalUsage.Add(row.Total)
		}
		if totalUsage.IsZero() {
			continue
		}

		for _, row := range rows {
			if row.Total.IsZero() {
				continue
			}
			cost := segmentCost.Mul(row.Total).Div(totalUsage)
			key := ResourceKey{ResourceID: row.ResourceID, ServiceEnvironmentID: row.ServiceEnvironmentID}
			byType := result[key]
			if byType == nil {
				byType = make(map[snowflake.ID]Share)
				result[key] = byType
			}
			prev := byType[w.UsageTypeID]
			byType[w.UsageTypeID] = Share{
				Value: prev.Value.Add(row.Total),
				Cost:  prev.Cost.Add(cost),
			}
		}
	}

	return result, nil
}
