package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/costlane/costlane/internal/partition"
	pricedomain "github.com/costlane/costlane/internal/price/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	log  *zap.Logger
	repo pricedomain.Repository
}

type ServiceParam struct {
	fx.In

	Log  *zap.Logger
	Repo pricedomain.Repository
}

func NewService(p ServiceParam) pricedomain.Service {
	return &Service{
		log:  p.Log.Named("price.service"),
		repo: p.Repo,
	}
}

func (s *Service) Windows(ctx context.Context, dimensionID snowflake.ID, start, end time.Time, warehouse string) ([]pricedomain.Window, error) {
	start, end = partition.Day(start), partition.Day(end)

	prices, err := s.repo.Overlapping(ctx, dimensionID, start, end, warehouse)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, pricedomain.ErrNoPrice
	}

	// Records arrive start-ordered; overlapping neighbours are a
	// data-quality conflict.
	for i := 1; i < len(prices); i++ {
		if partition.Overlaps(prices[i-1].StartsAt, prices[i-1].EndsAt, prices[i].StartsAt, prices[i].EndsAt) {
			return nil, pricedomain.ErrConflictingPrices
		}
	}

	windows := make([]pricedomain.Window, 0, len(prices))
	covered := 0
	for _, p := range prices {
		ws, we, ok := partition.ClampWindow(p.StartsAt, p.EndsAt, start, end)
		if !ok {
			continue
		}
		w := pricedomain.Window{Start: ws, End: we, UnitPrice: p.UnitPrice}
		if p.PeriodCost != nil {
			periodDays := partition.DaysInclusive(p.StartsAt, p.EndsAt)
			daily := p.PeriodCost.Div(decimal.NewFromInt(int64(periodDays)))
			w.DailyCost = &daily
		}
		windows = append(windows, w)
		covered += partition.DaysInclusive(ws, we)
	}

	if covered < partition.DaysInclusive(start, end) {
		return windows, pricedomain.ErrIncompletePrice
	}
	return windows, nil
}

func (s *Service) PeriodTotal(ctx context.Context, dimensionID snowflake.ID, start, end time.Time, warehouse string) (decimal.Decimal, error) {
	windows, err := s.Windows(ctx, dimensionID, start, end, warehouse)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, w := range windows {
		if w.DailyCost == nil {
			continue
		}
		days := decimal.NewFromInt(int64(partition.DaysInclusive(w.Start, w.End)))
		total = total.Add(w.DailyCost.Mul(days))
	}
	return total, nil
}
