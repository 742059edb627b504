package essays

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dissertia/dissertia-api/internal/entitlements"
	"github.com/dissertia/dissertia-api/internal/usage"
	"github.com/dissertia/dissertia-api/pkg/db/models"
	"github.com/dissertia/dissertia-api/pkg/enums"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
	"github.com/dissertia/dissertia-api/pkg/logger"
	"github.com/dissertia/dissertia-api/pkg/metrics"
	"github.com/dissertia/dissertia-api/pkg/redis"
	"github.com/dissertia/dissertia-api/pkg/vertexai"
)

const (
	defaultTimeout     = 45 * time.Second
	minEssayRunes      = 50
	maxEssayRunes      = 12000
	maxThemeRunes      = 300
	maxOperationKeyLen = 128
	feedbackTemp       = 0.4
	feedbackMaxTokens  = 2048
	// keeps the in-flight claim alive past the model deadline
	claimGrace         = 30 * time.Second
)

type usageRecorder interface {
	RecordUsage(ctx context.Context, input usage.RecordInput) (*usage.RecordResult, error)
	FindOperation(ctx context.Context, userID uuid.UUID, operationKey string) (*models.AIOperation, error)
}

// operationClaims holds a short-lived claim on (user, operation key) while
// the model call runs, so concurrent retries cannot each reach the model.
type operationClaims interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// Service produces AI feedback on student essays.
type Service interface {
	Feedback(ctx context.Context, userID uuid.UUID, input FeedbackInput) (*FeedbackResult, error)
}

// FeedbackInput is one essay submission. OperationKey is chosen by the client
// and reused on retries so a call is charged once.
type FeedbackInput struct {
	OperationKey string
	Theme        string
	Essay        string
}

type FeedbackResult struct {
	OperationKey string
	Feedback     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	CostCents    int64
	// Duplicate is set when the key had already been charged.
	Duplicate bool
	Decision  *entitlements.Decision
}

type ServiceParams struct {
	Entitlements entitlements.Service
	Usage        usageRecorder
	Completer    vertexai.Completer
	Pricing      Pricing
	Timeout      time.Duration
	Metrics      *metrics.UsageMetrics
	Logger       *logger.Logger
	// Claims is optional; without it replays are still refused once charged.
	Claims       operationClaims
}

type service struct {
	entitlements entitlements.Service
	usage        usageRecorder
	completer    vertexai.Completer
	pricing      Pricing
	timeout      time.Duration
	metrics      *metrics.UsageMetrics
	logg         *logger.Logger
	claims       operationClaims
}

func NewService(params ServiceParams) (Service, error) {
	if params.Entitlements == nil {
		return nil, fmt.Errorf("entitlements service required")
	}
	if params.Usage == nil {
		return nil, fmt.Errorf("usage recorder required")
	}
	if params.Completer == nil {
		return nil, fmt.Errorf("completer required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &service{
		entitlements: params.Entitlements,
		usage:        params.Usage,
		completer:    params.Completer,
		pricing:      params.Pricing,
		timeout:      timeout,
		metrics:      params.Metrics,
		logg:         params.Logger,
		claims:       params.Claims,
	}, nil
}

// Feedback checks the user's entitlement, calls the model under a deadline
// and charges the call only once it has completed. An operation key the user
// already spent, or one still in flight, is refused before the model runs.
func (s *service) Feedback(ctx context.Context, userID uuid.UUID, input FeedbackInput) (*FeedbackResult, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	input.OperationKey = strings.TrimSpace(input.OperationKey)

	release, err := s.claim(ctx, userID, input.OperationKey)
	if err != nil {
		return nil, err
	}
	defer release()

	spent, err := s.usage.FindOperation(ctx, userID, input.OperationKey)
	if err != nil {
		return nil, err
	}
	if spent != nil {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "operation key already used").
			WithDetails(map[string]any{"operation_key": input.OperationKey})
	}

	decision, err := s.entitlements.Check(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !decision.CanUseAI {
		return nil, decision.QuotaExceeded()
	}

	completion, err := s.complete(ctx, input)
	if err != nil {
		return nil, err
	}

	cost := s.pricing.CostCents(completion.InputTokens, completion.OutputTokens)
	recorded, err := s.usage.RecordUsage(ctx, usage.RecordInput{
		UserID:       userID,
		OperationKey: input.OperationKey,
		Kind:         enums.AIOperationKindEssayFeedback,
		CostCents:    cost,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
	})
	if err != nil {
		return nil, err
	}

	result := &FeedbackResult{
		OperationKey: input.OperationKey,
		Feedback:     completion.Text,
		Model:        completion.Model,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		CostCents:    cost,
		Duplicate:    recorded.Duplicate,
	}

	refreshed, err := s.entitlements.Check(ctx, userID)
	if err != nil {
		// the call succeeded and was charged; a stale decision is still useful
		s.logError(ctx, userID, "refresh entitlement after feedback", err)
		refreshed = decision
	}
	result.Decision = refreshed
	return result, nil
}

// claim marks the key as in flight for this user. The returned func releases
// it; a claim that outlives a crashed process expires on its own.
func (s *service) claim(ctx context.Context, userID uuid.UUID, operationKey string) (func(), error) {
	if s.claims == nil {
		return func() {}, nil
	}
	key := redis.Key("essay-op", userID.String(), operationKey)
	ok, err := s.claims.SetNX(ctx, key, "1", s.timeout+claimGrace)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim operation key")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "operation already in progress").
			WithDetails(map[string]any{"operation_key": operationKey})
	}
	return func() {
		if err := s.claims.Del(context.WithoutCancel(ctx), key); err != nil {
			s.logError(ctx, userID, "release operation claim", err)
		}
	}, nil
}

func (s *service) complete(ctx context.Context, input FeedbackInput) (*vertexai.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	completion, err := s.completer.Complete(callCtx, vertexai.Request{
		System:          systemInstruction,
		Prompt:          buildPrompt(input.Theme, input.Essay),
		Temperature:     feedbackTemp,
		MaxOutputTokens: feedbackMaxTokens,
	})
	elapsed := time.Since(start)

	switch {
	case err == nil:
		s.metrics.ObserveAI("ok", elapsed)
		return completion, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		s.metrics.ObserveAI("timeout", elapsed)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "essay feedback timed out")
	default:
		s.metrics.ObserveAI("error", elapsed)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "essay feedback unavailable")
	}
}

func (s *service) logError(ctx context.Context, userID uuid.UUID, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Error(s.logg.WithUserID(ctx, userID.String()), msg, err)
}

func validateInput(input FeedbackInput) error {
	key := strings.TrimSpace(input.OperationKey)
	if key == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "operation key is required")
	}
	if len(key) > maxOperationKeyLen {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("operation key must be at most %d characters", maxOperationKeyLen))
	}
	if utf8.RuneCountInString(strings.TrimSpace(input.Theme)) > maxThemeRunes {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("theme must be at most %d characters", maxThemeRunes))
	}
	n := utf8.RuneCountInString(strings.TrimSpace(input.Essay))
	if n < minEssayRunes || n > maxEssayRunes {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("essay must have between %d and %d characters", minEssayRunes, maxEssayRunes))
	}
	return nil
}
