package server

import (
	"strconv"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/gradewise/internal/credit/domain"
	"github.com/smallbiznis/gradewise/internal/observability/logger"
	"go.uber.org/zap"
)

const contextAccountKey = "credit_account"

// GradingRateLimit throttles AI grading per credit account. It resolves the
// account once and leaves it on the context for the handler.
func (s *Server) GradingRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := s.accountForRequest(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !s.gradingLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		result, err := s.gradingLimiter.AllowAccount(ctx, account.ID.String())
		if err != nil {
			logger.FromContext(ctx).Warn("grading rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			logger.FromContext(ctx).Warn("grading rate limit exceeded",
				zap.String("account_id", account.ID.String()),
				zap.String("endpoint", c.FullPath()),
			)
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func (s *Server) accountForRequest(c *gin.Context) (*creditdomain.Account, error) {
	if value, ok := c.Get(contextAccountKey); ok {
		if account, ok := value.(*creditdomain.Account); ok && account != nil {
			return account, nil
		}
	}
	account, err := s.resolveAccount(c)
	if err != nil {
		return nil, err
	}
	c.Set(contextAccountKey, account)
	return account, nil
}
