package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/reconciler/internal/audit/auditcontext"
	auditdomain "github.com/smallbiznis/reconciler/internal/audit/domain"
	"github.com/smallbiznis/reconciler/internal/audit/masking"
)

const bearerPrefix = "bearer "

// AdminTokenRequired guards operator endpoints with the configured admin API
// token. An empty token disables the admin API entirely.
func (s *Server) AdminTokenRequired() gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(s.cfg.AdminAPIToken))
	return func(c *gin.Context) {
		if len(expected) == 0 {
			AbortWithError(c, ErrForbidden)
			return
		}
		presented := bearerToken(c.GetHeader("Authorization"))
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := auditcontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeAdmin), masking.MaskSecret(presented))
		ctx = auditcontext.WithClient(ctx, c.ClientIP(), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}
