package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/costlane/costlane/internal/catalog/domain"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

type repository struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewRepository(db *gorm.DB, genID *snowflake.Node) catalogdomain.Repository {
	return &repository{db: db, genID: genID}
}

func (r *repository) CreateServiceEnvironment(ctx context.Context, env *catalogdomain.ServiceEnvironment) error {
	if env.ID == 0 {
		env.ID = r.genID.Generate()
	}
	return r.db.WithContext(ctx).Create(env).Error
}

func (r *repository) GetServiceEnvironment(ctx context.Context, id snowflake.ID) (*catalogdomain.ServiceEnvironment, error) {
	var env catalogdomain.ServiceEnvironment
	err := r.db.WithContext(ctx).First(&env, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, catalogdomain.ErrEnvironmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &env, nil
}

func (r *repository) ListServiceEnvironments(ctx context.Context) ([]catalogdomain.ServiceEnvironment, error) {
	var envs []catalogdomain.ServiceEnvironment
	err := r.db.WithContext(ctx).Order("service, environment").Find(&envs).Error
	return envs, err
}

func (r *repository) ListServiceEnvironmentsByService(ctx context.Context, service string) ([]catalogdomain.ServiceEnvironment, error) {
	var envs []catalogdomain.ServiceEnvironment
	err := r.db.WithContext(ctx).Where("service = ?", service).Order("environment").Find(&envs).Error
	return envs, err
}

func (r *repository) EnsureDummyResource(ctx context.Context, envID snowflake.ID) (*catalogdomain.BillableResource, error) {
	var res catalogdomain.BillableResource
	err := r.db.WithContext(ctx).
		Where("service_environment_id = ? AND dummy", envID).
		First(&res).Error
	if err == nil {
		return &res, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	res = catalogdomain.BillableResource{
		ID:                   r.genID.Generate(),
		ServiceEnvironmentID: envID,
		Name:                 "dummy",
		Dummy:                true,
	}
	if err := r.db.WithContext(ctx).Create(&res).Error; err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *repository) CreateDimension(ctx context.Context, dim *catalogdomain.Dimension) error {
	if dim.ID == 0 {
		dim.ID = r.genID.Generate()
	}
	if dim.Symbol == "" {
		dim.Symbol = slug.Make(dim.Name)
	}
	return r.db.WithContext(ctx).Create(dim).Error
}

func (r *repository) GetDimension(ctx context.Context, id snowflake.ID) (*catalogdomain.Dimension, error) {
	var dim catalogdomain.Dimension
	err := r.db.WithContext(ctx).First(&dim, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, catalogdomain.ErrDimensionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dim, nil
}

func (r *repository) ListDimensions(ctx context.Context, kind catalogdomain.DimensionKind) ([]catalogdomain.Dimension, error) {
	var dims []catalogdomain.Dimension
	q := r.db.WithContext(ctx).Order("id")
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	err := q.Find(&dims).Error
	return dims, err
}

func (r *repository) Divisions(ctx context.Context, serviceID snowflake.ID, start, end time.Time) ([]catalogdomain.ServiceUsageType, error) {
	var divs []catalogdomain.ServiceUsageType
	err := r.db.WithContext(ctx).
		Where("pricing_service_id = ? AND starts_at <= ? AND ends_at >= ?", serviceID, end, start).
		Order("starts_at").
		Find(&divs).Error
	return divs, err
}

func (r *repository) AddDivision(ctx context.Context, div *catalogdomain.ServiceUsageType) error {
	if div.ID == 0 {
		div.ID = r.genID.Generate()
	}
	return r.db.WithContext(ctx).Create(div).Error
}

func (r *repository) Dependencies(ctx context.Context, serviceID snowflake.ID) ([]catalogdomain.Dimension, error) {
	var dims []catalogdomain.Dimension
	err := r.db.WithContext(ctx).Raw(
		`SELECT d.* FROM dimensions d
		 JOIN service_dependencies sd ON sd.depends_on_id = d.id
		 WHERE sd.pricing_service_id = ?
		 ORDER BY d.id`,
		serviceID,
	).Scan(&dims).Error
	return dims, err
}

func (r *repository) DependencyEdges(ctx context.Context) (map[snowflake.ID][]snowflake.ID, error) {
	var rows []catalogdomain.ServiceDependency
	if err := r.db.WithContext(ctx).Order("pricing_service_id, depends_on_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	edges := make(map[snowflake.ID][]snowflake.ID)
	for _, row := range rows {
		edges[row.PricingServiceID] = append(edges[row.PricingServiceID], row.DependsOnID)
	}
	return edges, nil
}

func (r *repository) AddDependency(ctx context.Context, dep *catalogdomain.ServiceDependency) error {
	if dep.ID == 0 {
		dep.ID = r.genID.Generate()
	}
	return r.db.WithContext(ctx).Create(dep).Error
}

func (r *repository) ServiceBoundUsageTypeIDs(ctx context.Context) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := r.db.WithContext(ctx).Raw(
		`SELECT usage_type_id FROM service_usage_types
		 UNION
		 SELECT usage_type_id FROM regular_usage_types`,
	).Scan(&ids).Error
	return ids, err
}

func (r *repository) RegularUsageTypes(ctx context.Context, serviceID snowflake.ID) ([]catalogdomain.Dimension, error) {
	var dims []catalogdomain.Dimension
	err := r.db.WithContext(ctx).Raw(
		`SELECT d.* FROM dimensions d
		 JOIN regular_usage_types r ON r.usage_type_id = d.id
		 WHERE r.pricing_service_id = ?
		 ORDER BY d.id`,
		serviceID,
	).Scan(&dims).Error
	return dims, err
}

func (r *repository) AddRegularUsageType(ctx context.Context, link *catalogdomain.RegularUsageType) error {
	if link.ID == 0 {
		link.ID = r.genID.Generate()
	}
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *repository) ExcludedUsageTypeIDs(ctx context.Context, serviceID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := r.db.WithContext(ctx).
		Model(&catalogdomain.ExcludedUsageType{}).
		Where("pricing_service_id = ?", serviceID).
		Pluck("usage_type_id", &ids).Error
	return ids, err
}

func (r *repository) AddExcludedUsageType(ctx context.Context, link *catalogdomain.ExcludedUsageType) error {
	if link.ID == 0 {
		link.ID = r.genID.Generate()
	}
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *repository) ServiceTeams(ctx context.Context, serviceID snowflake.ID) ([]catalogdomain.Dimension, error) {
	var dims []catalogdomain.Dimension
	err := r.db.WithContext(ctx).Raw(
		`SELECT d.* FROM dimensions d
		 JOIN service_teams st ON st.team_id = d.id
		 WHERE st.pricing_service_id = ?
		 ORDER BY d.id`,
		serviceID,
	).Scan(&dims).Error
	return dims, err
}

func (r *repository) AddServiceTeam(ctx context.Context, link *catalogdomain.ServiceTeam) error {
	if link.ID == 0 {
		link.ID = r.genID.Generate()
	}
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *repository) Teams(ctx context.Context) ([]catalogdomain.Dimension, error) {
	return r.ListDimensions(ctx, catalogdomain.KindTeam)
}

func (r *repository) TeamCostsCovering(ctx context.Context, teamID snowflake.ID, date time.Time) ([]catalogdomain.TeamCost, error) {
	var costs []catalogdomain.TeamCost
	err := r.db.WithContext(ctx).
		Where("team_id = ? AND starts_at <= ? AND ends_at >= ?", teamID, date, date).
		Order("starts_at").
		Find(&costs).Error
	return costs, err
}

func (r *repository) AddTeamCost(ctx context.Context, cost *catalogdomain.TeamCost) error {
	if cost.ID == 0 {
		cost.ID = r.genID.Generate()
	}
	return r.db.WithContext(ctx).Create(cost).Error
}

func (r *repository) TeamShares(ctx context.Context, teamCostID snowflake.ID) ([]catalogdomain.TeamShare, error) {
	var shares []catalogdomain.TeamShare
	err := r.db.WithContext(ctx).Where("team_cost_id = ?", teamCostID).Find(&shares).Error
	return shares, err
}

func (r *repository) AddTeamShare(ctx context.Context, share *catalogdomain.TeamShare) error {
	if share.ID == 0 {
		share.ID = r.genID.Generate()
	}
	return r.db.WithContext(ctx).Create(share).Error
}

func (r *repository) TeamExclusionIDs(ctx context.Context, teamID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := r.db.WithContext(ctx).
		Model(&catalogdomain.TeamExclusion{}).
		Where("team_id = ?", teamID).
		Pluck("service_environment_id", &ids).Error
	return ids, err
}

func (r *repository) AddTeamExclusion(ctx context.Context, excl *catalogdomain.TeamExclusion) error {
	if excl.ID == 0 {
		excl.ID = r.genID.Generate()
	}
	return r.db.WithContext(ctx).Create(excl).Error
}

func (r *repository) Consumers(ctx context.Context, dimensionID snowflake.ID) ([]catalogdomain.ServiceEnvironment, error) {
	var envs []catalogdomain.ServiceEnvironment
	err := r.db.WithContext(ctx).Raw(
		`SELECT e.* FROM service_environments e
		 JOIN dimension_consumers dc ON dc.service_environment_id = e.id
		 WHERE dc.dimension_id = ?
		 ORDER BY e.id`,
		dimensionID,
	).Scan(&envs).Error
	if err != nil {
		return nil, err
	}
	if len(envs) > 0 {
		return envs, nil
	}
	return r.ListServiceEnvironments(ctx)
}

func (r *repository) AddConsumer(ctx context.Context, link *catalogdomain.DimensionConsumer) error {
	if link.ID == 0 {
		link.ID = r.genID.Generate()
	}
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *repository) AddBillableResource(ctx context.Context, res *catalogdomain.BillableResource) error {
	if res.ID == 0 {
		res.ID = r.genID.Generate()
	}
	return r.db.WithContext(ctx).Create(res).Error
}

func (r *repository) AssetCounts(ctx context.Context) ([]catalogdomain.AssetCount, error) {
	var counts []catalogdomain.AssetCount
	err := r.db.WithContext(ctx).Raw(
		`SELECT service_environment_id, COUNT(*) AS assets, COALESCE(SUM(cores), 0) AS cores
		 FROM billable_resources
		 WHERE NOT dummy
		 GROUP BY service_environment_id
		 ORDER BY service_environment_id`,
	).Scan(&counts).Error
	return counts, err
}
