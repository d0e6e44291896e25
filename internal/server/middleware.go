package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/gradewise/internal/authorization"
	obscontext "github.com/smallbiznis/gradewise/internal/observability/context"
)

const (
	HeaderUser = "X-User-ID"
	HeaderOrg  = "X-Org-ID"
	HeaderRole = "X-User-Role"

	contextActorKey = "actor"
)

// IdentityRequired reads the already-authenticated caller from the gateway
// headers. Requests without a user id are rejected.
func (s *Server) IdentityRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := authorization.Actor{
			UserID: strings.TrimSpace(c.GetHeader(HeaderUser)),
			OrgID:  strings.TrimSpace(c.GetHeader(HeaderOrg)),
			Role:   authorization.Role(strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderRole)))),
		}
		if actor.UserID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if actor.Role == "" {
			actor.Role = authorization.RoleStudent
		}

		ctx := obscontext.WithActor(c.Request.Context(), "user", actor.UserID)
		if actor.OrgID != "" {
			ctx = obscontext.WithOrgID(ctx, actor.OrgID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextActorKey, actor)
		c.Next()
	}
}

func actorFromContext(c *gin.Context) (authorization.Actor, bool) {
	if c == nil {
		return authorization.Actor{}, false
	}
	value, ok := c.Get(contextActorKey)
	if !ok {
		return authorization.Actor{}, false
	}
	actor, ok := value.(authorization.Actor)
	return actor, ok
}
