package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	costnodedomain "github.com/costlane/costlane/internal/costnode/domain"
	"github.com/costlane/costlane/internal/partition"
	"gorm.io/gorm"
)

type repository struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewRepository(db *gorm.DB, genID *snowflake.Node) costnodedomain.Repository {
	return &repository{db: db, genID: genID}
}

// WithTx returns a repository bound to the given transaction handle.
func WithTx(tx *gorm.DB, genID *snowflake.Node) costnodedomain.Repository {
	return &repository{db: tx, genID: genID}
}

func (r *repository) AnyAccepted(ctx context.Context, date time.Time, forecast bool) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&costnodedomain.CostNode{}).
		Where("date = ? AND forecast = ? AND accepted", partition.Day(date), forecast).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) DeleteDay(ctx context.Context, date time.Time, forecast bool) error {
	return r.db.WithContext(ctx).
		Where("date = ? AND forecast = ?", partition.Day(date), forecast).
		Delete(&costnodedomain.CostNode{}).Error
}

func (r *repository) InsertAll(ctx context.Context, nodes []costnodedomain.CostNode) error {
	if len(nodes) == 0 {
		return nil
	}

	paths := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		paths[n.Path] = struct{}{}
	}
	for _, n := range nodes {
		if parent := n.ParentPath(); parent != "" {
			if _, ok := paths[parent]; !ok {
				return costnodedomain.ErrPathConflict
			}
		}
	}

	for i := range nodes {
		if nodes[i].ID == 0 {
			nodes[i].ID = r.genID.Generate()
		}
	}
	return r.db.WithContext(ctx).CreateInBatches(nodes, 500).Error
}

func (r *repository) ListDay(ctx context.Context, date time.Time, forecast bool) ([]costnodedomain.CostNode, error) {
	var nodes []costnodedomain.CostNode
	err := r.db.WithContext(ctx).
		Where("date = ? AND forecast = ?", partition.Day(date), forecast).
		Order("service_environment_id, path").
		Find(&nodes).Error
	return nodes, err
}

func (r *repository) ComputedDays(ctx context.Context, start, end time.Time, forecast bool) ([]time.Time, error) {
	var days []time.Time
	err := r.db.WithContext(ctx).
		Model(&costnodedomain.CostNode{}).
		Where("date >= ? AND date <= ? AND forecast = ?", partition.Day(start), partition.Day(end), forecast).
		Distinct("date").
		Order("date").
		Pluck("date", &days).Error
	return days, err
}

func (r *repository) MarkAccepted(ctx context.Context, start, end time.Time, forecast bool) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&costnodedomain.CostNode{}).
		Where("date >= ? AND date <= ? AND forecast = ?", partition.Day(start), partition.Day(end), forecast).
		Update("accepted", true)
	return res.RowsAffected, res.Error
}

func (r *repository) Roots(ctx context.Context, envIDs []snowflake.ID, start, end time.Time, dimensionIDs []snowflake.ID, forecast bool) ([]costnodedomain.CostNode, error) {
	q := r.db.WithContext(ctx).
		Where("date >= ? AND date <= ? AND forecast = ? AND depth = 0", partition.Day(start), partition.Day(end), forecast)
	if len(envIDs) > 0 {
		q = q.Where("service_environment_id IN ?", envIDs)
	}
	if len(dimensionIDs) > 0 {
		q = q.Where("dimension_id IN ?", dimensionIDs)
	}
	var nodes []costnodedomain.CostNode
	err := q.Order("date, service_environment_id, path").Find(&nodes).Error
	return nodes, err
}

func (r *repository) ChildrenOf(ctx context.Context, envIDs []snowflake.ID, start, end time.Time, parentPaths []string, forecast bool) ([]costnodedomain.CostNode, error) {
	if len(parentPaths) == 0 {
		return nil, nil
	}
	q := r.db.WithContext(ctx).
		Where("date >= ? AND date <= ? AND forecast = ? AND depth = 1", partition.Day(start), partition.Day(end), forecast)
	if len(envIDs) > 0 {
		q = q.Where("service_environment_id IN ?", envIDs)
	}
	conds := r.db.Where("1 = 0")
	for _, p := range parentPaths {
		conds = conds.Or("path LIKE ?", p+"/%")
	}
	q = q.Where(conds)

	var nodes []costnodedomain.CostNode
	err := q.Order("date, service_environment_id, path").Find(&nodes).Error
	return nodes, err
}
