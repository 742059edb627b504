package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/dissertia/dissertia-api/internal/subscriptions"
	"github.com/dissertia/dissertia-api/pkg/db/models"
	"github.com/dissertia/dissertia-api/pkg/enums"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
	"github.com/dissertia/dissertia-api/pkg/logger"
)

type subscriptionSyncer interface {
	SyncFromStripe(ctx context.Context, snap *subscriptions.StripeSnapshot) (*models.Subscription, error)
}

type transactionRecorder interface {
	RecordTransaction(ctx context.Context, txn *models.Transaction) (*models.Transaction, error)
}

type customerDirectory interface {
	FindByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error)
	SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
}

type liveSubscriptionFinder interface {
	FindLiveSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
}

// ChargeFetcher loads a charge; disputes only carry the charge id.
type ChargeFetcher interface {
	GetCharge(ctx context.Context, chargeID string) (*stripe.Charge, error)
}

type ServiceParams struct {
	Subscriptions subscriptionSyncer
	Ledger        transactionRecorder
	Customers     customerDirectory
	Billing       liveSubscriptionFinder
	Charges       ChargeFetcher
	Logger        *logger.Logger
}

// Service applies verified Stripe events to subscriptions and the ledger.
type Service struct {
	subs      subscriptionSyncer
	ledger    transactionRecorder
	customers customerDirectory
	billing   liveSubscriptionFinder
	charges   ChargeFetcher
	logg      *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription service required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing ledger required")
	}
	if params.Customers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "customer directory required")
	}
	if params.Billing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	return &Service{
		subs:      params.Subscriptions,
		ledger:    params.Ledger,
		customers: params.Customers,
		billing:   params.Billing,
		charges:   params.Charges,
		logg:      params.Logger,
	}, nil
}

// HandleEvent dispatches on event type. Unhandled types are acknowledged.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
		}
		if event.Type == stripe.EventTypeCustomerSubscriptionDeleted {
			sub.Status = stripe.SubscriptionStatusCanceled
		}
		return s.syncSubscription(ctx, &sub)
	case stripe.EventTypeInvoicePaid:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice event")
		}
		return s.recordInvoice(ctx, &invoice)
	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge event")
		}
		return s.recordRefund(ctx, &charge)
	case stripe.EventTypeChargeDisputeCreated:
		var dispute stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode dispute event")
		}
		return s.recordDispute(ctx, &dispute)
	default:
		return nil
	}
}

func (s *Service) syncSubscription(ctx context.Context, sub *stripe.Subscription) error {
	snap, err := subscriptions.SnapshotFromStripe(sub)
	if err != nil {
		return err
	}
	if snap.UserID == uuid.Nil && snap.CustomerID != "" {
		if user, err := s.lookupCustomer(ctx, snap.CustomerID); err != nil {
			return err
		} else if user != nil {
			snap.UserID = user.ID
		}
	}
	stored, err := s.subs.SyncFromStripe(ctx, snap)
	if err != nil {
		return err
	}
	if stored != nil && snap.CustomerID != "" {
		if err := s.customers.SetStripeCustomerID(ctx, stored.UserID, snap.CustomerID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link stripe customer")
		}
	}
	return nil
}

func (s *Service) recordInvoice(ctx context.Context, invoice *stripe.Invoice) error {
	if invoice.AmountPaid <= 0 {
		return nil
	}
	return s.record(ctx, ledgerEntry{
		externalID:  invoice.ID,
		customerID:  customerID(invoice.Customer),
		kind:        enums.TransactionTypeCharge,
		amountCents: invoice.AmountPaid,
		currency:    string(invoice.Currency),
		occurredAt:  invoice.Created,
		description: "Assinatura DissertIA",
	})
}

func (s *Service) recordRefund(ctx context.Context, charge *stripe.Charge) error {
	if charge.AmountRefunded <= 0 {
		return nil
	}
	return s.record(ctx, ledgerEntry{
		externalID:  "refund:" + charge.ID,
		customerID:  customerID(charge.Customer),
		kind:        enums.TransactionTypeRefund,
		amountCents: charge.AmountRefunded,
		currency:    string(charge.Currency),
		occurredAt:  charge.Created,
		description: "Reembolso",
	})
}

func (s *Service) recordDispute(ctx context.Context, dispute *stripe.Dispute) error {
	if dispute.Charge == nil || dispute.Charge.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "dispute charge missing")
	}
	charge := dispute.Charge
	if charge.Customer == nil {
		if s.charges == nil {
			return pkgerrors.New(pkgerrors.CodeInternal, "stripe charge lookup unavailable")
		}
		fetched, err := s.charges.GetCharge(ctx, charge.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch disputed charge")
		}
		charge = fetched
	}
	return s.record(ctx, ledgerEntry{
		externalID:  dispute.ID,
		customerID:  customerID(charge.Customer),
		kind:        enums.TransactionTypeChargeback,
		amountCents: dispute.Amount,
		currency:    string(dispute.Currency),
		occurredAt:  dispute.Created,
		description: "Contestação de cobrança",
	})
}

type ledgerEntry struct {
	externalID  string
	customerID  string
	kind        enums.TransactionType
	amountCents int64
	currency    string
	occurredAt  int64
	description string
}

func (s *Service) record(ctx context.Context, entry ledgerEntry) error {
	if strings.TrimSpace(entry.externalID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe object id missing")
	}
	user, err := s.lookupCustomer(ctx, entry.customerID)
	if err != nil {
		return err
	}
	if user == nil {
		// not one of ours; retrying will not change that
		s.warn(ctx, "stripe event for unknown customer ignored", entry.customerID)
		return nil
	}

	txn := &models.Transaction{
		UserID:      user.ID,
		Type:        entry.kind,
		Status:      enums.TransactionStatusSucceeded,
		AmountCents: entry.amountCents,
		Currency:    strings.ToLower(entry.currency),
		ExternalID:  entry.externalID,
		Description: &entry.description,
		OccurredAt:  time.Now().UTC(),
	}
	if txn.Currency == "" {
		txn.Currency = "brl"
	}
	if entry.occurredAt > 0 {
		txn.OccurredAt = time.Unix(entry.occurredAt, 0).UTC()
	}
	live, err := s.billing.FindLiveSubscription(ctx, user.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if live != nil {
		txn.SubscriptionID = &live.ID
	}

	if _, err := s.ledger.RecordTransaction(ctx, txn); err != nil {
		return err
	}
	return nil
}

func (s *Service) lookupCustomer(ctx context.Context, stripeCustomerID string) (*models.User, error) {
	if strings.TrimSpace(stripeCustomerID) == "" {
		return nil, nil
	}
	user, err := s.customers.FindByStripeCustomerID(ctx, stripeCustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup stripe customer")
	}
	return user, nil
}

func (s *Service) warn(ctx context.Context, msg, stripeCustomerID string) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "stripe_customer_id", stripeCustomerID), msg)
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

