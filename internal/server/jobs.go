package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RunJob triggers one scheduler job immediately, outside its tick.
func (s *Server) RunJob(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	result, err := s.scheduler.RunJob(c.Request.Context(), c.Param("job"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
