package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListUsage(c *gin.Context) {
	filter, err := parseUsageFilter(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	account, err := s.resolveAccount(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resp, err := s.usageSvc.Query(c.Request.Context(), account.ID, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) UsageStats(c *gin.Context) {
	filter, err := parseUsageFilter(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	account, err := s.resolveAccount(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	stats, err := s.usageSvc.Stats(c.Request.Context(), account.ID, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
