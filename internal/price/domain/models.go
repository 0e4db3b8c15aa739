// Package domain contains price definitions for billable dimensions.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	// ErrNoPrice: no price record overlaps the requested window.
	ErrNoPrice = errors.New("no_price_defined")
	// ErrIncompletePrice: records cover only part of the window.
	ErrIncompletePrice = errors.New("incomplete_price_coverage")
	// ErrConflictingPrices: two records for the same scope overlap in time.
	ErrConflictingPrices = errors.New("conflicting_prices")
)

// UsagePrice is a time-bounded price for a dimension: either a unit price
// (multiplied by measured usage) or a total cost for the whole period.
// Bounds are inclusive days. Optionally scoped to a warehouse.
type UsagePrice struct {
	ID          snowflake.ID     `gorm:"primaryKey" json:"id"`
	DimensionID snowflake.ID     `gorm:"not null;index" json:"dimension_id"`
	UnitPrice   *decimal.Decimal `gorm:"type:numeric" json:"unit_price,omitempty"`
	PeriodCost  *decimal.Decimal `gorm:"type:numeric" json:"period_cost,omitempty"`
	Warehouse   string           `gorm:"type:text" json:"warehouse,omitempty"`
	StartsAt    time.Time        `gorm:"not null" json:"starts_at"`
	EndsAt      time.Time        `gorm:"not null" json:"ends_at"`
}

func (UsagePrice) TableName() string { return "usage_prices" }

// Window is a price record clamped to a query window. DailyCost is the
// pro-rated per-day cost for period-cost records; UnitPrice passes through.
type Window struct {
	Start     time.Time
	End       time.Time
	UnitPrice *decimal.Decimal
	DailyCost *decimal.Decimal
}

type Repository interface {
	Add(ctx context.Context, price *UsagePrice) error
	Overlapping(ctx context.Context, dimensionID snowflake.ID, start, end time.Time, warehouse string) ([]UsagePrice, error)
}

type Service interface {
	// Windows resolves the price records covering [start, end] into clamped
	// windows, in date order. Gaps yield ErrIncompletePrice together with
	// the windows that do exist; no coverage at all yields ErrNoPrice.
	Windows(ctx context.Context, dimensionID snowflake.ID, start, end time.Time, warehouse string) ([]Window, error)
	// PeriodTotal sums the pro-rata period cost of a period-cost dimension
	// over [start, end].
	PeriodTotal(ctx context.Context, dimensionID snowflake.ID, start, end time.Time, warehouse string) (decimal.Decimal, error)
}
