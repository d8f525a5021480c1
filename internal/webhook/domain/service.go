package domain

import (
	"context"

	"github.com/smallbiznis/reconciler/pkg/db/pagination"
)

// ProcessResult is returned to the HTTP layer after a notification is handled.
type ProcessResult struct {
	Transaction *Transaction
	Result      ProcessingResult
	Resolution  *Resolution
}

type ListOrphansRequest struct {
	PageToken   string
	PageSize    int
	NeedsReview *bool
}

type ListOrphansResponse struct {
	pagination.PageInfo
	Transactions []*Transaction `json:"transactions"`
}

type ResolveRequest struct {
	ProviderTransactionID string
	ClientID              string
	LoanID                string
}

//go:generate mockgen -destination=../mocks/mock_service.go -package=mocks . Service

type Service interface {
	Process(ctx context.Context, notification Notification) (ProcessResult, error)
	ListOrphans(ctx context.Context, req ListOrphansRequest) (ListOrphansResponse, error)
	ResolveManually(ctx context.Context, req ResolveRequest) (ProcessResult, error)
	ListLogs(ctx context.Context, providerTransactionID string) ([]WebhookLog, error)
}
