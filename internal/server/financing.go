package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListFinancingPlans(c *gin.Context) {
	plans, err := s.financingSvc.GetActiveFinancingPlans(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": plans})
}
