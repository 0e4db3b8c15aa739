// Package domain contains the cost node, the engine's output: one day's
// allocated cost for one consumer and one billable dimension, positioned in
// a tree by materialized path.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	// ErrVerifiedCostsExist: the day already holds accepted nodes and the
	// caller did not force recomputation.
	ErrVerifiedCostsExist = errors.New("verified_costs_exist")
	// ErrPathConflict: a node's parent path does not exist in the same
	// (date, forecast) scope.
	ErrPathConflict = errors.New("cost_node_path_conflict")
)

// CostNode is the persisted form. Path is the dimension-id chain from the
// root ("484/483"); Depth is the nesting level, 0 for roots. For a fixed
// (date, consumer, forecast) the path is unique.
type CostNode struct {
	ID                   snowflake.ID    `gorm:"primaryKey" json:"id"`
	Date                 time.Time       `gorm:"not null;index:idx_cost_node,unique" json:"date"`
	ServiceEnvironmentID snowflake.ID    `gorm:"not null;index:idx_cost_node,unique" json:"service_environment_id"`
	DimensionID          snowflake.ID    `gorm:"not null;index" json:"dimension_id"`
	Value                decimal.Decimal `gorm:"type:numeric;not null" json:"value"`
	Cost                 decimal.Decimal `gorm:"type:numeric;not null" json:"cost"`
	Forecast             bool            `gorm:"not null;index:idx_cost_node,unique" json:"forecast"`
	Accepted             bool            `gorm:"not null;default:false;index" json:"accepted"`
	Path                 string          `gorm:"type:text;not null;index:idx_cost_node,unique" json:"path"`
	Depth                int             `gorm:"not null;default:0" json:"depth"`
}

func (CostNode) TableName() string { return "cost_nodes" }

// ParentPath strips the last segment; empty for roots.
func (n CostNode) ParentPath() string {
	idx := strings.LastIndex(n.Path, "/")
	if idx < 0 {
		return ""
	}
	return n.Path[:idx]
}

// Node is the transient tree form produced by billing plugins. The collector
// flattens it into CostNodes, assigning paths.
type Node struct {
	DimensionID snowflake.ID
	Value       decimal.Decimal
	Cost        decimal.Decimal
	Children    []*Node
}

// Flatten materializes the node and its descendants for one consumer/day,
// assigning paths and depths from the given parent path.
func (n *Node) Flatten(date time.Time, envID snowflake.ID, forecast bool, parentPath string, depth int) []CostNode {
	path := fmt.Sprintf("%d", n.DimensionID)
	if parentPath != "" {
		path = parentPath + "/" + path
	}
	out := []CostNode{{
		Date:                 date,
		ServiceEnvironmentID: envID,
		DimensionID:          n.DimensionID,
		Value:                n.Value,
		Cost:                 n.Cost,
		Forecast:             forecast,
		Path:                 path,
		Depth:                depth,
	}}
	for _, child := range n.Children {
		out = append(out, child.Flatten(date, envID, forecast, path, depth+1)...)
	}
	return out
}
