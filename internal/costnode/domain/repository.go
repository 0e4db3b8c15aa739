package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	// AnyAccepted reports whether the day holds at least one accepted node.
	AnyAccepted(ctx context.Context, date time.Time, forecast bool) (bool, error)
	DeleteDay(ctx context.Context, date time.Time, forecast bool) error
	// InsertAll persists a day's flattened nodes. Parent paths must already
	// be present in the batch; the repository validates tree integrity and
	// returns ErrPathConflict otherwise.
	InsertAll(ctx context.Context, nodes []CostNode) error
	ListDay(ctx context.Context, date time.Time, forecast bool) ([]CostNode, error)

	// ComputedDays returns the distinct days in [start, end] that hold at
	// least one node.
	ComputedDays(ctx context.Context, start, end time.Time, forecast bool) ([]time.Time, error)
	MarkAccepted(ctx context.Context, start, end time.Time, forecast bool) (int64, error)

	// Roots lists root nodes (depth 0) for a consumer set and window,
	// restricted to the given dimensions when non-empty.
	Roots(ctx context.Context, envIDs []snowflake.ID, start, end time.Time, dimensionIDs []snowflake.ID, forecast bool) ([]CostNode, error)
	// ChildrenOf lists the direct children of the given root paths within
	// the same window and consumer scope.
	ChildrenOf(ctx context.Context, envIDs []snowflake.ID, start, end time.Time, parentPaths []string, forecast bool) ([]CostNode, error)
}
