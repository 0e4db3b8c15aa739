package pricingservice

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// CycleError names one dependency cycle found in the pricing-service graph.
type CycleError struct {
	Path []snowflake.ID
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = id.String()
	}
	return fmt.Sprintf("dependency_cycle: %s", strings.Join(parts, " -> "))
}

// DetectCycles walks the full dependency graph depth-first and reports every
// cycle found. It must pass before any period computation is attempted:
// dependency declarations are user-editable, so A -> B -> A is possible.
func (s *Service) DetectCycles(ctx context.Context) ([]*CycleError, error) {
	edges, err := s.catalog.DependencyEdges(ctx)
	if err != nil {
		return nil, err
	}

	roots := make([]snowflake.ID, 0, len(edges))
	for id := range edges {
		roots = append(roots, id)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[snowflake.ID]int)
	var cycles []*CycleError

	var visit func(id snowflake.ID, path []snowflake.ID)
	visit = func(id snowflake.ID, path []snowflake.ID) {
		color[id] = gray
		path = append(path, id)
		for _, next := range edges[id] {
			switch color[next] {
			case gray:
				// Close the loop at the first occurrence of next.
				start := 0
				for i, p := range path {
					if p == next {
						start = i
						break
					}
				}
				cycle := append(append([]snowflake.ID{}, path[start:]...), next)
				cycles = append(cycles, &CycleError{Path: cycle})
			case white:
				visit(next, path)
			}
		}
		color[id] = black
	}

	for _, id := range roots {
		if color[id] == white {
			visit(id, nil)
		}
	}
	return cycles, nil
}
