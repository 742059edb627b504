package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dissertia/dissertia-api/pkg/db/models"
	"github.com/dissertia/dissertia-api/pkg/enums"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
	"github.com/dissertia/dissertia-api/pkg/logger"
	"github.com/dissertia/dissertia-api/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type userReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type subscriptionReader interface {
	FindLiveSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
}

// Service records AI consumption against per-user usage windows.
type Service interface {
	RecordUsage(ctx context.Context, input RecordInput) (*RecordResult, error)
	Current(ctx context.Context, userID uuid.UUID, window Window) (*models.UsagePeriod, error)
	History(ctx context.Context, userID uuid.UUID, limit int) ([]models.UsagePeriod, error)
	ResolveWindow(ctx context.Context, userID uuid.UUID, now time.Time) (Window, error)
	FindOperation(ctx context.Context, userID uuid.UUID, operationKey string) (*models.AIOperation, error)
}

// RecordInput describes one confirmed AI operation.
type RecordInput struct {
	UserID       uuid.UUID
	OperationKey string
	Kind         enums.AIOperationKind
	CostCents    int64
	InputTokens  int64
	OutputTokens int64
}

// RecordResult carries the accumulator after the write. Duplicate is set when
// the operation key had already been charged and nothing was added.
type RecordResult struct {
	Period    *models.UsagePeriod
	Window    Window
	Duplicate bool
}

type ServiceParams struct {
	Repo              Repository
	Users             userReader
	Subscriptions     subscriptionReader
	TransactionRunner txRunner
	WindowLength      time.Duration
	Metrics           *metrics.UsageMetrics
	Logger            *logger.Logger
	Clock             func() time.Time
}

type service struct {
	repo     Repository
	users    userReader
	subs     subscriptionReader
	txRunner txRunner
	length   time.Duration
	metrics  *metrics.UsageMetrics
	logg     *logger.Logger
	now      func() time.Time
}

var errDuplicateOperation = errors.New("operation already recorded")

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("usage repo required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user reader required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription reader required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	length := params.WindowLength
	if length <= 0 {
		length = DefaultWindowLength
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:     params.Repo,
		users:    params.Users,
		subs:     params.Subscriptions,
		txRunner: params.TransactionRunner,
		length:   length,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      clock,
	}, nil
}

// ResolveWindow returns the usage window that contains now for the user.
func (s *service) ResolveWindow(ctx context.Context, userID uuid.UUID, now time.Time) (Window, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Window{}, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return Window{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	sub, err := s.subs.FindLiveSubscription(ctx, userID)
	if err != nil {
		return Window{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	return WindowFor(AnchorFor(sub, user), now, s.length), nil
}

// RecordUsage charges one operation. The increment and the operation key
// claim commit together; a replayed key rolls the increment back and returns
// the accumulator unchanged. Any storage failure is returned so the caller
// treats the operation as uncharged.
func (s *service) RecordUsage(ctx context.Context, input RecordInput) (*RecordResult, error) {
	if err := validateRecordInput(input); err != nil {
		return nil, err
	}
	input.OperationKey = strings.TrimSpace(input.OperationKey)

	now := s.now().UTC()
	window, err := s.ResolveWindow(ctx, input.UserID, now)
	if err != nil {
		return nil, err
	}

	delta := Delta{
		Operations:   1,
		CostCents:    input.CostCents,
		InputTokens:  input.InputTokens,
		OutputTokens: input.OutputTokens,
	}

	var period *models.UsagePeriod
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		updated, err := repo.Increment(ctx, input.UserID, window, delta, now)
		if err != nil {
			return err
		}
		claimed, err := repo.ClaimOperation(ctx, &models.AIOperation{
			UserID:        input.UserID,
			UsagePeriodID: &updated.ID,
			OperationKey:  input.OperationKey,
			Kind:          input.Kind,
			CostCents:     input.CostCents,
			InputTokens:   input.InputTokens,
			OutputTokens:  input.OutputTokens,
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}
		if !claimed {
			return errDuplicateOperation
		}
		period = updated
		return nil
	})

	if errors.Is(err, errDuplicateOperation) {
		current, findErr := s.repo.FindPeriod(ctx, input.UserID, window.Start)
		if findErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load usage period")
		}
		if s.logg != nil {
			s.logg.Info(s.logg.WithField(ctx, "operation_key", input.OperationKey), "usage already recorded for operation")
		}
		return &RecordResult{Period: current, Window: window, Duplicate: true}, nil
	}
	if err != nil {
		s.metrics.IncRecordFailure()
		if s.logg != nil {
			s.logg.Error(s.logg.WithUserID(ctx, input.UserID.String()), "record usage failed", err)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record usage")
	}

	s.metrics.IncOperation(input.Kind.String())
	return &RecordResult{Period: period, Window: window}, nil
}

func (s *service) Current(ctx context.Context, userID uuid.UUID, window Window) (*models.UsagePeriod, error) {
	period, err := s.repo.FindPeriod(ctx, userID, window.Start)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load usage period")
	}
	return period, nil
}

// FindOperation returns the charged operation the user recorded under
// operationKey, or nil when the key is unused.
func (s *service) FindOperation(ctx context.Context, userID uuid.UUID, operationKey string) (*models.AIOperation, error) {
	op, err := s.repo.FindOperation(ctx, userID, strings.TrimSpace(operationKey))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load operation")
	}
	return op, nil
}

func (s *service) History(ctx context.Context, userID uuid.UUID, limit int) ([]models.UsagePeriod, error) {
	if limit > 36 {
		limit = 36
	}
	periods, err := s.repo.ListPeriods(ctx, userID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list usage periods")
	}
	return periods, nil
}

func validateRecordInput(input RecordInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if strings.TrimSpace(input.OperationKey) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "operation key is required")
	}
	if !input.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid operation kind")
	}
	if input.CostCents < 0 || input.InputTokens < 0 || input.OutputTokens < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "usage deltas must not be negative")
	}
	return nil
}
