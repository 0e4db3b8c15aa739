package server

import (
	"net/http"

	usagedomain "github.com/costlane/costlane/internal/usage/domain"
	"github.com/gin-gonic/gin"
)

// @Summary      Ingest Usage
// @Description  Upsert one daily usage observation
// @Tags         usage
// @Accept       json
// @Produce      json
// @Param        request body usagedomain.IngestRequest true "Ingest Usage Request"
// @Success      200  {object}  usagedomain.DailyUsage
// @Router       /usage [post]
func (s *Server) IngestUsage(c *gin.Context) {
	var req usagedomain.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, err)
		return
	}

	usage, err := s.usagesvc.Ingest(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}
