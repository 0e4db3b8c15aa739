// Package domain contains daily usage observations, the read-only input of
// the cost engine.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// DailyUsage is one measured quantity for (date, dimension, consumer),
// optionally scoped to a concrete resource and a warehouse.
type DailyUsage struct {
	ID                   snowflake.ID    `gorm:"primaryKey" json:"id"`
	Date                 time.Time       `gorm:"not null;index:idx_daily_usage,unique" json:"date"`
	DimensionID          snowflake.ID    `gorm:"not null;index:idx_daily_usage,unique" json:"dimension_id"`
	ServiceEnvironmentID snowflake.ID    `gorm:"not null;index:idx_daily_usage,unique" json:"service_environment_id"`
	ResourceID           *snowflake.ID   `gorm:"index:idx_daily_usage,unique" json:"resource_id,omitempty"`
	Warehouse            string          `gorm:"type:text" json:"warehouse,omitempty"`
	Value                decimal.Decimal `gorm:"type:numeric;not null" json:"value"`
}

func (DailyUsage) TableName() string { return "daily_usages" }

// EnvironmentUsage is a per-consumer usage total.
type EnvironmentUsage struct {
	ServiceEnvironmentID snowflake.ID
	Total                decimal.Decimal
}

// ResourceUsage is a per-resource usage total with its owning consumer.
type ResourceUsage struct {
	ResourceID           snowflake.ID
	ServiceEnvironmentID snowflake.ID
	Total                decimal.Decimal
}
