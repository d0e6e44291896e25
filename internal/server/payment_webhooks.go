package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	purchasedomain "github.com/smallbiznis/gradewise/internal/purchase/domain"
)

// HandlePaymentWebhook answers 200 for duplicates and unrelated event types.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.purchaseHook.Ingest(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, purchasedomain.ErrEventIgnored) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"duplicate": result.Duplicate,
	})
}
