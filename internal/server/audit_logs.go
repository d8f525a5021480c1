package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/reconciler/internal/audit/domain"
)

func (s *Server) ListAuditLogs(c *gin.Context) {
	pageSize := 0
	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		parsed, err := parseOptionalInt64(raw)
		if err != nil || parsed == nil || *parsed <= 0 {
			AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
			return
		}
		pageSize = int(*parsed)
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAuditLogRequest{
		PageToken:  c.Query("page_token"),
		PageSize:   pageSize,
		Action:     c.Query("action"),
		TargetType: c.Query("target_type"),
		TargetID:   c.Query("target_id"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
