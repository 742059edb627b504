package billing

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dissertia/dissertia-api/api/middleware"
	"github.com/dissertia/dissertia-api/api/responses"
	"github.com/dissertia/dissertia-api/api/validators"
	billingsvc "github.com/dissertia/dissertia-api/internal/billing"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
	"github.com/dissertia/dissertia-api/pkg/logger"
	"github.com/dissertia/dissertia-api/pkg/pagination"
)

// TransactionLister is the billing surface used by the history endpoint.
type TransactionLister interface {
	ListTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (*billingsvc.TransactionPage, error)
}

type transactionResponse struct {
	ID             uuid.UUID  `json:"id"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	AmountCents    int64      `json:"amount_cents"`
	Currency       string     `json:"currency"`
	Description    *string    `json:"description,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

type transactionListResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	NextCursor   string                `json:"next_cursor,omitempty"`
}

// Transactions pages through the session user's billing history.
func Transactions(svc TransactionLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		userID, err := middleware.RequireUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		page, err := svc.ListTransactions(ctx, userID, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		resp := transactionListResponse{
			Transactions: make([]transactionResponse, 0, len(page.Items)),
			NextCursor:   page.NextCursor,
		}
		for _, txn := range page.Items {
			resp.Transactions = append(resp.Transactions, transactionResponse{
				ID:             txn.ID,
				SubscriptionID: txn.SubscriptionID,
				Type:           string(txn.Type),
				Status:         string(txn.Status),
				AmountCents:    txn.AmountCents,
				Currency:       txn.Currency,
				Description:    txn.Description,
				OccurredAt:     txn.OccurredAt,
			})
		}
		responses.WriteSuccess(w, resp)
	}
}
