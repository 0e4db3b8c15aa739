package server

import (
	"time"

	"github.com/gin-gonic/gin"
)

type collectRequest struct {
	Date           string `json:"date" binding:"required"`
	Forecast       bool   `json:"forecast"`
	DeleteVerified bool   `json:"delete_verified"`
}

type collectPeriodRequest struct {
	Start          string `json:"start" binding:"required"`
	End            string `json:"end" binding:"required"`
	Forecast       bool   `json:"forecast"`
	DeleteVerified bool   `json:"delete_verified"`
}

type acceptRequest struct {
	Start    string `json:"start" binding:"required"`
	End      string `json:"end" binding:"required"`
	Forecast bool   `json:"forecast"`
}

func parseDay(field, value string) (time.Time, error) {
	day, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, newValidationError(field, "invalid_date", field+" must be YYYY-MM-DD")
	}
	return day, nil
}

// @Summary      Collect Day
// @Description  Compute and persist cost nodes for one day synchronously
// @Tags         collect
// @Accept       json
// @Produce      json
// @Param        request body collectRequest true "Collect Request"
// @Success      200  {array}  costnodedomain.CostNode
// @Router       /collect [post]
func (s *Server) Collect(c *gin.Context) {
	var req collectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, err)
		return
	}
	day, err := parseDay("date", req.Date)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	nodes, err := s.collector.Process(c.Request.Context(), day, req.Forecast, req.DeleteVerified)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, nodes)
}

// @Summary      Collect Period
// @Description  Submit one collection job per day of the period
// @Tags         collect
// @Accept       json
// @Produce      json
// @Param        request body collectPeriodRequest true "Collect Period Request"
// @Success      200  {array}  worker.Job
// @Router       /collect/period [post]
func (s *Server) CollectPeriod(c *gin.Context) {
	var req collectPeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, err)
		return
	}
	start, err := parseDay("start", req.Start)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	end, err := parseDay("end", req.End)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	jobs, err := s.worker.SubmitPeriod(c.Request.Context(), start, end, req.Forecast, req.DeleteVerified)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, jobs)
}

// @Summary      Get Job
// @Description  Poll the status of a collection job
// @Tags         collect
// @Produce      json
// @Param        id   path      string  true  "Job ID"
// @Success      200  {object}  worker.Job
// @Router       /jobs/{id} [get]
func (s *Server) GetJob(c *gin.Context) {
	job, err := s.worker.Poll(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, job)
}

// @Summary      Accept Period
// @Description  Mark every cost node of the period accepted
// @Tags         collect
// @Accept       json
// @Produce      json
// @Param        request body acceptRequest true "Accept Request"
// @Success      200  {object}  map[string]int64
// @Router       /accept [post]
func (s *Server) Accept(c *gin.Context) {
	var req acceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, err)
		return
	}
	start, err := parseDay("start", req.Start)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	end, err := parseDay("end", req.End)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	marked, err := s.worker.Accept(c.Request.Context(), start, end, req.Forecast)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{"accepted_nodes": marked})
}
