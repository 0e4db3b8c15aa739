package service

import (
	"context"

	catalogdomain "github.com/costlane/costlane/internal/catalog/domain"
	"github.com/costlane/costlane/internal/config"
	"github.com/costlane/costlane/internal/partition"
	usagedomain "github.com/costlane/costlane/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	log        *zap.Logger
	repo       usagedomain.Repository
	catalog    catalogdomain.Repository
	warehouses map[string]bool
}

type ServiceParam struct {
	fx.In

	Log     *zap.Logger
	Config  config.Config
	Repo    usagedomain.Repository
	Catalog catalogdomain.Repository
}

func NewService(p ServiceParam) usagedomain.Service {
	warehouses := make(map[string]bool, len(p.Config.Collector.Warehouses))
	for _, w := range p.Config.Collector.Warehouses {
		warehouses[w] = true
	}
	return &Service{
		log:        p.Log.Named("usage.service"),
		repo:       p.Repo,
		catalog:    p.Catalog,
		warehouses: warehouses,
	}
}

func (s *Service) Ingest(ctx context.Context, req usagedomain.IngestRequest) (*usagedomain.DailyUsage, error) {
	if req.Date.IsZero() {
		return nil, usagedomain.ErrInvalidDate
	}
	if req.DimensionID == 0 {
		return nil, usagedomain.ErrInvalidDimension
	}
	if req.ServiceEnvironmentID == 0 {
		return nil, usagedomain.ErrInvalidEnvironment
	}
	// An empty warehouse list accepts anything; a configured list is closed.
	if req.Warehouse != "" && len(s.warehouses) > 0 && !s.warehouses[req.Warehouse] {
		return nil, usagedomain.ErrInvalidWarehouse
	}

	if _, err := s.catalog.GetDimension(ctx, req.DimensionID); err != nil {
		return nil, usagedomain.ErrInvalidDimension
	}
	if _, err := s.catalog.GetServiceEnvironment(ctx, req.ServiceEnvironmentID); err != nil {
		return nil, usagedomain.ErrInvalidEnvironment
	}

	resourceID := req.ResourceID
	if resourceID == nil {
		// Observations without a concrete resource attach to the
		// environment's dummy placeholder.
		res, err := s.catalog.EnsureDummyResource(ctx, req.ServiceEnvironmentID)
		if err != nil {
			return nil, err
		}
		id := res.ID
		resourceID = &id
	}

	row := &usagedomain.DailyUsage{
		Date:                 partition.Day(req.Date),
		DimensionID:          req.DimensionID,
		ServiceEnvironmentID: req.ServiceEnvironmentID,
		ResourceID:           resourceID,
		Warehouse:            req.Warehouse,
		Value:                req.Value,
	}
	if err := s.repo.Upsert(ctx, row); err != nil {
		return nil, err
	}

	s.log.Debug("usage ingested",
		zap.Time("date", row.Date),
		zap.Int64("dimension_id", int64(row.DimensionID)),
		zap.Int64("service_environment_id", int64(row.ServiceEnvironmentID)),
	)
	return row, nil
}
