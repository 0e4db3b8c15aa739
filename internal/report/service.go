// Package report answers cost queries over persisted cost nodes: per-day or
// per-month aggregates per consumer and dimension, with one level of
// subcosts and data-quality notes for unpriced dimensions.
package report

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/costlane/costlane/internal/catalog/domain"
	costnodedomain "github.com/costlane/costlane/internal/costnode/domain"
	"github.com/costlane/costlane/internal/distribute"
	"github.com/costlane/costlane/internal/partition"
	pricedomain "github.com/costlane/costlane/internal/price/domain"
	usagedomain "github.com/costlane/costlane/internal/usage/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidGroupBy = errors.New("invalid_group_by")

var hundred = decimal.NewFromInt(100)

const (
	GroupByDay   = "day"
	GroupByMonth = "month"

	NoteNoPrice         = "no_price"
	NoteIncompletePrice = "incomplete_price"
)

type Request struct {
	EnvironmentIDs []snowflake.ID `json:"environment_ids,omitempty"`
	Service        string         `json:"service,omitempty"`
	From           time.Time      `json:"from"`
	To             time.Time      `json:"to"`
	DimensionIDs   []snowflake.ID `json:"dimension_ids,omitempty"`
	GroupBy        string         `json:"group_by,omitempty"`
	Forecast       bool           `json:"forecast,omitempty"`
}

// Row is one aggregate: costs rounded to 2 decimal places, values to 4.
// Subcosts carry one nesting level. A non-empty Note marks a dimension the
// engine could not price; such rows never pretend the cost is zero.
type Row struct {
	Period        string          `json:"period"`
	EnvironmentID snowflake.ID    `json:"environment_id,omitempty"`
	DimensionID   snowflake.ID    `json:"dimension_id"`
	Cost          decimal.Decimal `json:"cost"`
	Value         decimal.Decimal `json:"value"`
	Note          string          `json:"note,omitempty"`
	Subcosts      []Row           `json:"subcosts,omitempty"`
}

type Service struct {
	log         *zap.Logger
	catalog     catalogdomain.Repository
	nodes       costnodedomain.Repository
	prices      pricedomain.Service
	distributor *distribute.Distributor
	cache       *Cache
}

type ServiceParam struct {
	fx.In

	Log     *zap.Logger
	Catalog catalogdomain.Repository
	Nodes   costnodedomain.Repository
	Prices  pricedomain.Service
	Usage   usagedomain.Repository
	Cache   *Cache `optional:"true"`
}

func NewService(p ServiceParam) *Service {
	return &Service{
		log:         p.Log.Named("report.service"),
		catalog:     p.Catalog,
		nodes:       p.Nodes,
		prices:      p.Prices,
		distributor: distribute.New(p.Usage),
		cache:       p.Cache,
	}
}

// Query aggregates cost nodes over [From, To] grouped by day or month.
func (s *Service) Query(ctx context.Context, req Request) ([]Row, error) {
	if req.GroupBy == "" {
		req.GroupBy = GroupByDay
	}
	if req.GroupBy != GroupByDay && req.GroupBy != GroupByMonth {
		return nil, ErrInvalidGroupBy
	}
	req.From, req.To = partition.Day(req.From), partition.Day(req.To)

	envIDs := req.EnvironmentIDs
	if req.Service != "" {
		envs, err := s.catalog.ListServiceEnvironmentsByService(ctx, req.Service)
		if err != nil {
			return nil, err
		}
		for _, env := range envs {
			envIDs = append(envIDs, env.ID)
		}
		if len(envIDs) == 0 {
			return []Row{}, nil
		}
	}
	req.EnvironmentIDs = envIDs

	fp := fingerprint(req)
	if rows, ok := s.cache.Get(ctx, fp); ok {
		return rows, nil
	}

	rows, err := s.compute(ctx, req)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, fp, rows)
	return rows, nil
}

func period(groupBy string, date time.Time) string {
	if groupBy == GroupByMonth {
		return date.Format("2006-01")
	}
	return date.Format("2006-01-02")
}

type rowKey struct {
	period string
	envID  snowflake.ID
	dimID  snowflake.ID
}

func (s *Service) compute(ctx context.Context, req Request) ([]Row, error) {
	roots, err := s.nodes.Roots(ctx, req.EnvironmentIDs, req.From, req.To, req.DimensionIDs, req.Forecast)
	if err != nil {
		return nil, err
	}

	agg := make(map[rowKey]*Row)
	var order []rowKey
	seenDims := make(map[snowflake.ID]bool)
	parentPaths := make(map[string]bool)

	for _, n := range roots {
		seenDims[n.DimensionID] = true
		parentPaths[n.Path] = true
		k := rowKey{period: period(req.GroupBy, n.Date), envID: n.ServiceEnvironmentID, dimID: n.DimensionID}
		row := agg[k]
		if row == nil {
			row = &Row{Period: k.period, EnvironmentID: k.envID, DimensionID: k.dimID}
			agg[k] = row
			order = append(order, k)
		}
		row.Cost = row.Cost.Add(n.Cost)
		row.Value = row.Value.Add(n.Value)
	}

	subcosts, err := s.subcosts(ctx, req, parentPaths)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(order))
	for _, k := range order {
		row := *agg[k]
		row.Cost = row.Cost.Round(2)
		row.Value = row.Value.Round(4)
		row.Subcosts = subcosts[k]
		rows = append(rows, row)
	}

	noted, err := s.unpricedRows(ctx, req, seenDims)
	if err != nil {
		return nil, err
	}
	rows = append(rows, noted...)

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Period != rows[j].Period {
			return rows[i].Period < rows[j].Period
		}
		if rows[i].EnvironmentID != rows[j].EnvironmentID {
			return rows[i].EnvironmentID < rows[j].EnvironmentID
		}
		return rows[i].DimensionID < rows[j].DimensionID
	})
	return rows, nil
}

// subcosts aggregates depth-1 children, keyed by their parent root's row key.
// A root's path is its dimension id, so the parent path identifies the
// parent dimension directly.
func (s *Service) subcosts(ctx context.Context, req Request, parentPaths map[string]bool) (map[rowKey][]Row, error) {
	if len(parentPaths) == 0 {
		return nil, nil
	}
	paths := make([]string, 0, len(parentPaths))
	for p := range parentPaths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	children, err := s.nodes.ChildrenOf(ctx, req.EnvironmentIDs, req.From, req.To, paths, req.Forecast)
	if err != nil {
		return nil, err
	}

	type subKey struct {
		parent rowKey
		dimID  snowflake.ID
	}
	agg := make(map[subKey]*Row)
	var order []subKey
	for _, n := range children {
		parentDim, err := snowflake.ParseString(n.ParentPath())
		if err != nil {
			return nil, err
		}
		k := subKey{
			parent: rowKey{period: period(req.GroupBy, n.Date), envID: n.ServiceEnvironmentID, dimID: parentDim},
			dimID:  n.DimensionID,
		}
		row := agg[k]
		if row == nil {
			row = &Row{Period: k.parent.period, EnvironmentID: k.parent.envID, DimensionID: k.dimID}
			agg[k] = row
			order = append(order, k)
		}
		row.Cost = row.Cost.Add(n.Cost)
		row.Value = row.Value.Add(n.Value)
	}

	out := make(map[rowKey][]Row)
	for _, k := range order {
		row := *agg[k]
		row.Cost = row.Cost.Round(2)
		row.Value = row.Value.Round(4)
		out[k.parent] = append(out[k.parent], row)
	}
	for _, rows := range out {
		sort.Slice(rows, func(i, j int) bool { return rows[i].DimensionID < rows[j].DimensionID })
	}
	return out, nil
}

// ResourceRow is one billable resource's slice of a dimension's cost.
type ResourceRow struct {
	ResourceID    snowflake.ID    `json:"resource_id"`
	EnvironmentID snowflake.ID    `json:"environment_id"`
	Cost          decimal.Decimal `json:"cost"`
	Value         decimal.Decimal `json:"value"`
}

// ResourceBreakdown drills a dimension's persisted cost over the window down
// to the resources that produced its usage, proportionally to their share of
// the measured total.
func (s *Service) ResourceBreakdown(ctx context.Context, dimensionID snowflake.ID, from, to time.Time, envIDs []snowflake.ID, forecast bool) ([]ResourceRow, error) {
	from, to = partition.Day(from), partition.Day(to)

	roots, err := s.nodes.Roots(ctx, envIDs, from, to, []snowflake.ID{dimensionID}, forecast)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, n := range roots {
		total = total.Add(n.Cost)
	}
	if total.IsZero() {
		return []ResourceRow{}, nil
	}

	shares, err := s.distributor.ByResource(ctx, total,
		[]distribute.Weighted{{UsageTypeID: dimensionID, Percent: hundred}},
		from, to, envIDs, nil)
	if err != nil {
		return nil, err
	}

	rows := make([]ResourceRow, 0, len(shares))
	for key, byType := range shares {
		share := byType[dimensionID]
		rows = append(rows, ResourceRow{
			ResourceID:    key.ResourceID,
			EnvironmentID: key.ServiceEnvironmentID,
			Cost:          share.Cost.Round(2),
			Value:         share.Value.Round(4),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].EnvironmentID != rows[j].EnvironmentID {
			return rows[i].EnvironmentID < rows[j].EnvironmentID
		}
		return rows[i].ResourceID < rows[j].ResourceID
	})
	return rows, nil
}

// unpricedRows explains explicitly requested dimensions that produced no
// nodes: a missing or partial price yields a note row instead of a silent
// zero.
func (s *Service) unpricedRows(ctx context.Context, req Request, seen map[snowflake.ID]bool) ([]Row, error) {
	var rows []Row
	for _, dimID := range req.DimensionIDs {
		if seen[dimID] {
			continue
		}
		_, err := s.prices.Windows(ctx, dimID, req.From, req.To, "")
		switch {
		case err == nil:
			continue
		case errors.Is(err, pricedomain.ErrNoPrice):
			rows = append(rows, Row{DimensionID: dimID, Note: NoteNoPrice})
		case errors.Is(err, pricedomain.ErrIncompletePrice):
			rows = append(rows, Row{DimensionID: dimID, Note: NoteIncompletePrice})
		default:
			return nil, err
		}
	}
	return rows, nil
}
