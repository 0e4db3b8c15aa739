package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidDimension   = errors.New("invalid_dimension")
	ErrInvalidEnvironment = errors.New("invalid_environment")
	ErrInvalidDate        = errors.New("invalid_date")
	ErrInvalidWarehouse   = errors.New("invalid_warehouse")
)

type Repository interface {
	Upsert(ctx context.Context, usage *DailyUsage) error

	// TotalUsage sums values for a dimension over the inclusive window,
	// restricted to envIDs (nil means all) minus excluded.
	TotalUsage(ctx context.Context, dimensionID snowflake.ID, start, end time.Time, envIDs, excluded []snowflake.ID) (decimal.Decimal, error)
	ByEnvironment(ctx context.Context, dimensionID snowflake.ID, start, end time.Time, envIDs, excluded []snowflake.ID) ([]EnvironmentUsage, error)
	ByResource(ctx context.Context, dimensionID snowflake.ID, start, end time.Time, envIDs, excluded []snowflake.ID) ([]ResourceUsage, error)
}

type IngestRequest struct {
	Date                 time.Time       `json:"date" validate:"required"`
	DimensionID          snowflake.ID    `json:"dimension_id" validate:"required"`
	ServiceEnvironmentID snowflake.ID    `json:"service_environment_id" validate:"required"`
	ResourceID           *snowflake.ID   `json:"resource_id,omitempty"`
	Warehouse            string          `json:"warehouse,omitempty"`
	Value                decimal.Decimal `json:"value"`
}

type Service interface {
	Ingest(ctx context.Context, req IngestRequest) (*DailyUsage, error)
}
