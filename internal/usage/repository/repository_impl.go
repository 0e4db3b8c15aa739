package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/costlane/costlane/internal/usage/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewRepository(db *gorm.DB, genID *snowflake.Node) usagedomain.Repository {
	return &repository{db: db, genID: genID}
}

func (r *repository) Upsert(ctx context.Context, usage *usagedomain.DailyUsage) error {
	if usage.ID == 0 {
		usage.ID = r.genID.Generate()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "date"}, {Name: "dimension_id"},
			{Name: "service_environment_id"}, {Name: "resource_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"value", "warehouse"}),
	}).Create(usage).Error
}

func (r *repository) scoped(ctx context.Context, dimensionID snowflake.ID, start, end time.Time, envIDs, excluded []snowflake.ID) *gorm.DB {
	q := r.db.WithContext(ctx).
		Model(&usagedomain.DailyUsage{}).
		Where("dimension_id = ? AND date >= ? AND date <= ?", dimensionID, start, end)
	if len(envIDs) > 0 {
		q = q.Where("service_environment_id IN ?", envIDs)
	}
	if len(excluded) > 0 {
		q = q.Where("service_environment_id NOT IN ?", excluded)
	}
	return q
}

func (r *repository) TotalUsage(ctx context.Context, dimensionID snowflake.ID, start, end time.Time, envIDs, excluded []snowflake.ID) (decimal.Decimal, error) {
	var row struct{ Total decimal.Decimal }
	err := r.scoped(ctx, dimensionID, start, end, envIDs, excluded).
		Select("COALESCE(SUM(value), 0) AS total").
		Scan(&row).Error
	return row.Total, err
}

func (r *repository) ByEnvironment(ctx context.Context, dimensionID snowflake.ID, start, end time.Time, envIDs, excluded []snowflake.ID) ([]usagedomain.EnvironmentUsage, error) {
	var rows []usagedomain.EnvironmentUsage
	err := r.scoped(ctx, dimensionID, start, end, envIDs, excluded).
		Select("service_environment_id, SUM(value) AS total").
		Group("service_environment_id").
		Order("service_environment_id").
		Scan(&rows).Error
	return rows, err
}

func (r *repository) ByResource(ctx context.Context, dimensionID snowflake.ID, start, end time.Time, envIDs, excluded []snowflake.ID) ([]usagedomain.ResourceUsage, error) {
	var rows []usagedomain.ResourceUsage
	err := r.scoped(ctx, dimensionID, start, end, envIDs, excluded).
		Where("resource_id IS NOT NULL").
		Select("resource_id, service_environment_id, SUM(value) AS total").
		Group("resource_id, service_environment_id").
		Order("resource_id, service_environment_id").
		Scan(&rows).Error
	return rows, err
}
