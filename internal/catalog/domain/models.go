// Package domain contains master data: the consumers that pay for usage and
// the billable dimensions that own cost.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// ServiceEnvironment identifies who pays: a (service, environment) pair.
type ServiceEnvironment struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Service     string       `gorm:"type:text;not null;index:idx_service_env,unique" json:"service"`
	Environment string       `gorm:"type:text;not null;index:idx_service_env,unique" json:"environment"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (ServiceEnvironment) TableName() string { return "service_environments" }

// DimensionKind discriminates the polymorphic billable dimension.
type DimensionKind string

const (
	KindUsageType      DimensionKind = "usage_type"
	KindPricingService DimensionKind = "pricing_service"
	KindTeam           DimensionKind = "team"
	KindExtraCost      DimensionKind = "extra_cost"
)

// BillingType selects the team billing model. Only meaningful for teams.
type BillingType string

const (
	BillingTime        BillingType = "time"
	BillingAssets      BillingType = "assets"
	BillingAssetsCores BillingType = "assets_cores"
	BillingDistribute  BillingType = "distribute"
	BillingAverage     BillingType = "average"
)

// Dimension is anything that can own a cost: a metered usage type, a
// composite pricing service, a staffing team, or a fixed extra-cost category.
type Dimension struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	Kind        DimensionKind `gorm:"type:text;not null;index" json:"kind"`
	Name        string        `gorm:"type:text;not null" json:"name"`
	Symbol      string        `gorm:"type:text;not null;uniqueIndex" json:"symbol"`
	BillingType BillingType   `gorm:"type:text" json:"billing_type,omitempty"`
	CreatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Dimension) TableName() string { return "dimensions" }

// ServiceUsageType is a percentage division: a time-bounded share of a
// pricing service's total cost attributed to one of its usage types.
// Bounds are inclusive days. Active shares must sum to 100 at any instant;
// that is a data-quality invariant checked at computation time.
type ServiceUsageType struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	PricingServiceID snowflake.ID    `gorm:"not null;index" json:"pricing_service_id"`
	UsageTypeID      snowflake.ID    `gorm:"not null;index" json:"usage_type_id"`
	Percent          decimal.Decimal `gorm:"type:numeric;not null" json:"percent"`
	StartsAt         time.Time       `gorm:"not null" json:"starts_at"`
	EndsAt           time.Time       `gorm:"not null" json:"ends_at"`
}

func (ServiceUsageType) TableName() string { return "service_usage_types" }

// ServiceDependency declares that a pricing service's cost includes another
// pricing service's cost. User-editable, so cycles are possible and must be
// detected before computation.
type ServiceDependency struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	PricingServiceID snowflake.ID `gorm:"not null;index:idx_service_dependency,unique" json:"pricing_service_id"`
	DependsOnID      snowflake.ID `gorm:"not null;index:idx_service_dependency,unique" json:"depends_on_id"`
}

func (ServiceDependency) TableName() string { return "service_dependencies" }

// RegularUsageType links a pricing service to a usage type whose full cost
// belongs to the service.
type RegularUsageType struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	PricingServiceID snowflake.ID `gorm:"not null;index" json:"pricing_service_id"`
	UsageTypeID      snowflake.ID `gorm:"not null" json:"usage_type_id"`
}

func (RegularUsageType) TableName() string { return "regular_usage_types" }

// ExcludedUsageType marks a metered usage type the pricing service does not
// absorb.
type ExcludedUsageType struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	PricingServiceID snowflake.ID `gorm:"not null;index" json:"pricing_service_id"`
	UsageTypeID      snowflake.ID `gorm:"not null" json:"usage_type_id"`
}

func (ExcludedUsageType) TableName() string { return "excluded_usage_types" }

// ServiceTeam associates a staffing team with a pricing service.
type ServiceTeam struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	PricingServiceID snowflake.ID `gorm:"not null;index" json:"pricing_service_id"`
	TeamID           snowflake.ID `gorm:"not null" json:"team_id"`
}

func (ServiceTeam) TableName() string { return "service_teams" }

// TeamExclusion lists a service environment a team does not bill.
type TeamExclusion struct {
	ID                   snowflake.ID `gorm:"primaryKey" json:"id"`
	TeamID               snowflake.ID `gorm:"not null;index" json:"team_id"`
	ServiceEnvironmentID snowflake.ID `gorm:"not null" json:"service_environment_id"`
}

func (TeamExclusion) TableName() string { return "team_exclusions" }

// DimensionConsumer scopes a dimension to the service environments it serves.
type DimensionConsumer struct {
	ID                   snowflake.ID `gorm:"primaryKey" json:"id"`
	DimensionID          snowflake.ID `gorm:"not null;index" json:"dimension_id"`
	ServiceEnvironmentID snowflake.ID `gorm:"not null" json:"service_environment_id"`
}

func (DimensionConsumer) TableName() string { return "dimension_consumers" }

// BillableResource is an owned asset (host, device). Every service
// environment lazily gets one dummy placeholder resource.
type BillableResource struct {
	ID                   snowflake.ID `gorm:"primaryKey" json:"id"`
	ServiceEnvironmentID snowflake.ID `gorm:"not null;index" json:"service_environment_id"`
	Name                 string       `gorm:"type:text;not null" json:"name"`
	Cores                int          `gorm:"not null;default:0" json:"cores"`
	Dummy                bool         `gorm:"not null;default:false" json:"dummy"`
}

func (BillableResource) TableName() string { return "billable_resources" }

// TeamCost is a time-bounded period cost for a team. Bounds are inclusive.
type TeamCost struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	TeamID       snowflake.ID    `gorm:"not null;index" json:"team_id"`
	Cost         decimal.Decimal `gorm:"type:numeric;not null" json:"cost"`
	ForecastCost decimal.Decimal `gorm:"type:numeric;not null" json:"forecast_cost"`
	MemberCount  int             `gorm:"not null;default:0" json:"member_count"`
	StartsAt     time.Time       `gorm:"not null" json:"starts_at"`
	EndsAt       time.Time       `gorm:"not null" json:"ends_at"`
}

func (TeamCost) TableName() string { return "team_costs" }

// TeamShare is a percent-of-time allocation of a team cost to one consumer,
// used by the time billing model.
type TeamShare struct {
	ID                   snowflake.ID    `gorm:"primaryKey" json:"id"`
	TeamCostID           snowflake.ID    `gorm:"not null;index" json:"team_cost_id"`
	ServiceEnvironmentID snowflake.ID    `gorm:"not null" json:"service_environment_id"`
	Percent              decimal.Decimal `gorm:"type:numeric;not null" json:"percent"`
}

func (TeamShare) TableName() string { return "team_shares" }

// AssetCount aggregates a consumer's billable resources.
type AssetCount struct {
	ServiceEnvironmentID snowflake.ID
	Assets               int
	Cores                int
}
