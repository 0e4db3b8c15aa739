package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrEnvironmentNotFound = errors.New("service_environment_not_found")
	ErrDimensionNotFound   = errors.New("dimension_not_found")
)

type Repository interface {
	CreateServiceEnvironment(ctx context.Context, env *ServiceEnvironment) error
	GetServiceEnvironment(ctx context.Context, id snowflake.ID) (*ServiceEnvironment, error)
	ListServiceEnvironments(ctx context.Context) ([]ServiceEnvironment, error)
	ListServiceEnvironmentsByService(ctx context.Context, service string) ([]ServiceEnvironment, error)
	// EnsureDummyResource lazily creates the placeholder billable resource
	// for an environment and returns it.
	EnsureDummyResource(ctx context.Context, envID snowflake.ID) (*BillableResource, error)

	CreateDimension(ctx context.Context, dim *Dimension) error
	GetDimension(ctx context.Context, id snowflake.ID) (*Dimension, error)
	ListDimensions(ctx context.Context, kind DimensionKind) ([]Dimension, error)

	// Divisions lists a pricing service's percentage divisions overlapping
	// the inclusive window.
	Divisions(ctx context.Context, serviceID snowflake.ID, start, end time.Time) ([]ServiceUsageType, error)
	AddDivision(ctx context.Context, div *ServiceUsageType) error

	Dependencies(ctx context.Context, serviceID snowflake.ID) ([]Dimension, error)
	// DependencyEdges returns the full dependency adjacency for cycle checks.
	DependencyEdges(ctx context.Context) (map[snowflake.ID][]snowflake.ID, error)
	AddDependency(ctx context.Context, dep *ServiceDependency) error

	// ServiceBoundUsageTypeIDs lists usage types absorbed by any pricing
	// service, via a percentage division or a regular link.
	ServiceBoundUsageTypeIDs(ctx context.Context) ([]snowflake.ID, error)

	RegularUsageTypes(ctx context.Context, serviceID snowflake.ID) ([]Dimension, error)
	AddRegularUsageType(ctx context.Context, link *RegularUsageType) error
	ExcludedUsageTypeIDs(ctx context.Context, serviceID snowflake.ID) ([]snowflake.ID, error)
	AddExcludedUsageType(ctx context.Context, link *ExcludedUsageType) error

	ServiceTeams(ctx context.Context, serviceID snowflake.ID) ([]Dimension, error)
	AddServiceTeam(ctx context.Context, link *ServiceTeam) error
	Teams(ctx context.Context) ([]Dimension, error)
	TeamCostsCovering(ctx context.Context, teamID snowflake.ID, date time.Time) ([]TeamCost, error)
	AddTeamCost(ctx context.Context, cost *TeamCost) error
	TeamShares(ctx context.Context, teamCostID snowflake.ID) ([]TeamShare, error)
	AddTeamShare(ctx context.Context, share *TeamShare) error
	TeamExclusionIDs(ctx context.Context, teamID snowflake.ID) ([]snowflake.ID, error)
	AddTeamExclusion(ctx context.Context, excl *TeamExclusion) error

	// Consumers returns the environments scoped to a dimension, or every
	// environment when the dimension has no explicit consumer links.
	Consumers(ctx context.Context, dimensionID snowflake.ID) ([]ServiceEnvironment, error)
	AddConsumer(ctx context.Context, link *DimensionConsumer) error

	AddBillableResource(ctx context.Context, res *BillableResource) error
	// AssetCounts aggregates non-dummy billable resources per environment.
	AssetCounts(ctx context.Context) ([]AssetCount, error)
}
