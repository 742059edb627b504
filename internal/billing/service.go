package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/dissertia/dissertia-api/pkg/db"
	"github.com/dissertia/dissertia-api/pkg/db/models"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
	"github.com/dissertia/dissertia-api/pkg/pagination"
)

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Repo Repository
}

// Service owns the append-only transaction ledger.
type Service struct {
	repo Repository
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo}, nil
}

// TransactionPage is one page of a user's transaction history.
type TransactionPage struct {
	Items      []models.Transaction
	NextCursor string
}

// RecordTransaction appends a transaction. Replays of the same processor id
// return the stored row instead of writing a second one.
func (s *Service) RecordTransaction(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction is required")
	}
	if strings.TrimSpace(txn.ExternalID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external id is required")
	}
	if txn.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !txn.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction type")
	}
	if txn.AmountCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}

	existing, err := s.repo.FindTransactionByExternalID(ctx, txn.ExternalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup transaction")
	}
	if existing != nil {
		return existing, nil
	}

	if err := s.repo.CreateTransaction(ctx, txn); err != nil {
		if db.IsUniqueViolation(err, "") {
			stored, findErr := s.repo.FindTransactionByExternalID(ctx, txn.ExternalID)
			if findErr == nil && stored != nil {
				return stored, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transaction")
	}
	return txn, nil
}

// ListTransactions returns the user's transactions newest first.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (*TransactionPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	items, next, err := s.repo.ListTransactions(ctx, ListTransactionsQuery{
		UserID: userID,
		Limit:  params.Limit,
		Cursor: cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	page := &TransactionPage{Items: items}
	if next != nil {
		page.NextCursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}

// SubscriptionHistory returns the audit trail for a subscription owned by the user.
func (s *Service) SubscriptionHistory(ctx context.Context, userID, subscriptionID uuid.UUID) ([]models.SubscriptionEvent, error) {
	sub, err := s.repo.FindSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil || sub.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	events, err := s.repo.ListEvents(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscription events")
	}
	return events, nil
}
