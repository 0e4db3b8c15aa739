package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/costlane/costlane/internal/report"
	"github.com/gin-gonic/gin"
)

func parseIDList(field, value string) ([]snowflake.ID, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	ids := make([]snowflake.ID, 0, len(parts))
	for _, part := range parts {
		id, err := snowflake.ParseString(strings.TrimSpace(part))
		if err != nil {
			return nil, newValidationError(field, "invalid_id", field+" must be a comma-separated id list")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// @Summary      Query Costs
// @Description  Aggregate cost nodes per day or month, per consumer and dimension
// @Tags         costs
// @Produce      json
// @Param        from             query  string  true   "Start day (YYYY-MM-DD)"
// @Param        to               query  string  true   "End day (YYYY-MM-DD)"
// @Param        group_by         query  string  false  "day or month"
// @Param        service          query  string  false  "Filter by service name"
// @Param        environment_ids  query  string  false  "Comma-separated environment ids"
// @Param        dimension_ids    query  string  false  "Comma-separated dimension ids"
// @Param        forecast         query  bool    false  "Forecast costs"
// @Success      200  {array}  report.Row
// @Router       /costs [get]
func (s *Server) GetCosts(c *gin.Context) {
	from, err := parseDay("from", c.Query("from"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	to, err := parseDay("to", c.Query("to"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	envIDs, err := parseIDList("environment_ids", c.Query("environment_ids"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	dimIDs, err := parseIDList("dimension_ids", c.Query("dimension_ids"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	rows, err := s.report.Query(c.Request.Context(), report.Request{
		EnvironmentIDs: envIDs,
		Service:        c.Query("service"),
		From:           from,
		To:             to,
		DimensionIDs:   dimIDs,
		GroupBy:        c.Query("group_by"),
		Forecast:       c.Query("forecast") == "true",
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, rows)
}

// @Summary      Resource Cost Breakdown
// @Description  Split one dimension's cost across the resources that produced its usage
// @Tags         costs
// @Produce      json
// @Param        dimension_id     query  string  true   "Dimension id"
// @Param        from             query  string  true   "Start day (YYYY-MM-DD)"
// @Param        to               query  string  true   "End day (YYYY-MM-DD)"
// @Param        environment_ids  query  string  false  "Comma-separated environment ids"
// @Param        forecast         query  bool    false  "Forecast costs"
// @Success      200  {array}  report.ResourceRow
// @Router       /costs/resources [get]
func (s *Server) GetResourceCosts(c *gin.Context) {
	dimID, err := snowflake.ParseString(c.Query("dimension_id"))
	if err != nil {
		AbortWithError(c, newValidationError("dimension_id", "invalid_id", "dimension_id must be a valid id"))
		return
	}
	from, err := parseDay("from", c.Query("from"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	to, err := parseDay("to", c.Query("to"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	envIDs, err := parseIDList("environment_ids", c.Query("environment_ids"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	rows, err := s.report.ResourceBreakdown(c.Request.Context(), dimID, from, to, envIDs, c.Query("forecast") == "true")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, rows)
}

type cycleResponse struct {
	Path    []snowflake.ID `json:"path"`
	Message string         `json:"message"`
}

// @Summary      Check Cycles
// @Description  Detect cycles in the pricing-service dependency graph
// @Tags         costs
// @Produce      json
// @Success      200  {array}  cycleResponse
// @Router       /cycles [get]
func (s *Server) GetCycles(c *gin.Context) {
	cycles, err := s.services.DetectCycles(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]cycleResponse, len(cycles))
	for i, cycle := range cycles {
		out[i] = cycleResponse{Path: cycle.Path, Message: cycle.Error()}
	}
	respondData(c, out)
}
