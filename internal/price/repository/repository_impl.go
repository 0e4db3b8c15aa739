package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	pricedomain "github.com/costlane/costlane/internal/price/domain"
	"gorm.io/gorm"
)

type repository struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewRepository(db *gorm.DB, genID *snowflake.Node) pricedomain.Repository {
	return &repository{db: db, genID: genID}
}

func (r *repository) Add(ctx context.Context, price *pricedomain.UsagePrice) error {
	if price.ID == 0 {
		price.ID = r.genID.Generate()
	}
	return r.db.WithContext(ctx).Create(price).Error
}

func (r *repository) Overlapping(ctx context.Context, dimensionID snowflake.ID, start, end time.Time, warehouse string) ([]pricedomain.UsagePrice, error) {
	var prices []pricedomain.UsagePrice
	q := r.db.WithContext(ctx).
		Where("dimension_id = ? AND starts_at <= ? AND ends_at >= ?", dimensionID, end, start)
	if warehouse != "" {
		q = q.Where("warehouse = ? OR warehouse = ''", warehouse)
	}
	err := q.Order("starts_at").Find(&prices).Error
	return prices, err
}
