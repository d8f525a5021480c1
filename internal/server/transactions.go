package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/reconciler/internal/webhook/domain"
)

type resolveTransactionRequest struct {
	ClientID string `json:"client_id" validate:"required"`
	LoanID   string `json:"loan_id" validate:"required"`
}

func (s *Server) ListOrphanTransactions(c *gin.Context) {
	needsReview, err := parseOptionalBool(c.Query("needs_review"))
	if err != nil {
		AbortWithError(c, newValidationError("needs_review", "invalid_needs_review", "invalid needs_review"))
		return
	}

	pageSize := 0
	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		parsed, err := parseOptionalInt64(raw)
		if err != nil || parsed == nil || *parsed <= 0 {
			AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
			return
		}
		pageSize = int(*parsed)
	}

	resp, err := s.webhookSvc.ListOrphans(c.Request.Context(), domain.ListOrphansRequest{
		PageToken:   c.Query("page_token"),
		PageSize:    pageSize,
		NeedsReview: needsReview,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ResolveTransaction(c *gin.Context) {
	var req resolveTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		AbortWithError(c, toValidationErrors(err))
		return
	}

	result, err := s.webhookSvc.ResolveManually(c.Request.Context(), domain.ResolveRequest{
		ProviderTransactionID: c.Param("provider_transaction_id"),
		ClientID:              req.ClientID,
		LoanID:                req.LoanID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction": result.Transaction,
		"result":      result.Result,
	})
}

func (s *Server) ListTransactionLogs(c *gin.Context) {
	logs, err := s.webhookSvc.ListLogs(c.Request.Context(), c.Param("provider_transaction_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
