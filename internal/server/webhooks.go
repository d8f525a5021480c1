package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/reconciler/internal/observability/logger"
	webhookdomain "github.com/smallbiznis/reconciler/internal/webhook/domain"
	"go.uber.org/zap"
)

const maxNotificationBodyBytes = 1 << 20

// paymentNotificationRequest mirrors the provider's callback body.
type paymentNotificationRequest struct {
	TransactionID     string           `json:"TransactionID"`
	TransactionType   string           `json:"TransactionType" validate:"required"`
	TransactionAmount *decimal.Decimal `json:"TransactionAmount" validate:"required"`
	Status            string           `json:"Status" validate:"required"`
	UpdatedAt         string           `json:"UpdatedAt" validate:"required"`
	ValidationKey     string           `json:"ValidationKey"`
	Environment       string           `json:"Environment" validate:"required"`
	FailureReason     string           `json:"FailureReason,omitempty"`
}

type paymentNotificationResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

func (s *Server) HandlePaymentNotification(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.WithContext(ctx, s.log)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxNotificationBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req paymentNotificationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	// Authenticate before anything about the payload is trusted or stored.
	if err := s.verifier.Verify(req.TransactionID, req.ValidationKey); err != nil {
		log.Warn("payment notification rejected",
			zap.String("provider_transaction_id", strings.TrimSpace(req.TransactionID)),
			zap.String("reason", err.Error()),
			zap.String("algorithm", s.verifier.Algorithm()),
		)
		s.obsMetrics.RecordSignatureRejected(ctx)
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.validate.Struct(req); err != nil {
		AbortWithError(c, toValidationErrors(err))
		return
	}

	occurredAt, err := parseNotificationTime(req.UpdatedAt)
	if err != nil {
		AbortWithError(c, newValidationError("UpdatedAt", webhookdomain.ErrInvalidOccurredAt.Error(), "invalid value"))
		return
	}

	notification := webhookdomain.Notification{
		ProviderTransactionID: req.TransactionID,
		TransactionType:       req.TransactionType,
		Amount:                *req.TransactionAmount,
		Status:                webhookdomain.Status(req.Status),
		OccurredAt:            occurredAt,
		FailureReason:         req.FailureReason,
		Environment:           req.Environment,
		RawPayload:            body,
	}

	timeout := s.cfg.Webhook.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := s.webhookSvc.Process(processCtx, notification)
	if err != nil {
		if errors.Is(processCtx.Err(), context.DeadlineExceeded) {
			log.Error("payment notification timed out", zap.Duration("timeout", timeout))
			AbortWithError(c, context.DeadlineExceeded)
			return
		}
		AbortWithError(c, err)
		return
	}

	status := string(notification.Status)
	if result.Transaction != nil {
		status = result.Transaction.Status.String()
	}
	c.JSON(http.StatusOK, paymentNotificationResponse{
		Success:       true,
		TransactionID: strings.TrimSpace(req.TransactionID),
		Status:        status,
	})
}

// parseNotificationTime accepts ISO-8601 timestamps with or without an offset;
// offset-less values are read as UTC.
func parseNotificationTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, webhookdomain.ErrInvalidOccurredAt
}

func toValidationErrors(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return invalidRequestError()
	}
	out := ValidationErrors{Errors: make([]ValidationError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Errors = append(out.Errors, ValidationError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: "invalid value",
		})
	}
	return &out
}
