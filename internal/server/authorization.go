package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/gradewise/internal/credit/domain"
)

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), actor, strings.TrimSpace(object), strings.TrimSpace(action)); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// resolveAccount maps the caller to its credit pool, the organization's when
// the caller acts within one.
func (s *Server) resolveAccount(c *gin.Context) (*creditdomain.Account, error) {
	actor, ok := actorFromContext(c)
	if !ok {
		return nil, ErrUnauthorized
	}
	return s.creditSvc.ResolveAccount(c.Request.Context(), creditdomain.UserRef{
		UserID:         actor.UserID,
		OrganizationID: actor.OrgID,
	})
}
