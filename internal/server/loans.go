package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/reconciler/internal/ledger/domain"
)

func (s *Server) GetLoanLedgerSummary(c *gin.Context) {
	loanID, err := parseOptionalSnowflakeID(c.Param("loan_id"))
	if err != nil || loanID == nil {
		AbortWithError(c, ledgerdomain.ErrInvalidLoan)
		return
	}

	summary, err := s.ledgerSvc.Summary(c.Request.Context(), *loanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

type loanLedgerResponse struct {
	LoanID       snowflake.ID         `json:"loan_id"`
	Environments []string             `json:"environments"`
	Events       []ledgerdomain.Event `json:"events"`
}

// ListLoanLedgerEvents returns a loan's ledger rows. Repeated environment
// query parameters widen the view beyond the production environments.
func (s *Server) ListLoanLedgerEvents(c *gin.Context) {
	loanID, err := parseOptionalSnowflakeID(c.Param("loan_id"))
	if err != nil || loanID == nil {
		AbortWithError(c, ledgerdomain.ErrInvalidLoan)
		return
	}

	var environments []string
	for _, env := range c.QueryArray("environment") {
		if env = strings.TrimSpace(env); env != "" {
			environments = append(environments, env)
		}
	}
	if len(environments) == 0 {
		environments = s.cfg.Webhook.ProductionEnvironments
	}

	events, err := s.ledgerSvc.ListByLoan(c.Request.Context(), *loanID, environments)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if events == nil {
		events = []ledgerdomain.Event{}
	}

	c.JSON(http.StatusOK, loanLedgerResponse{
		LoanID:       *loanID,
		Environments: environments,
		Events:       events,
	})
}
