package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/dissertia/dissertia-api/internal/subscriptions"
	"github.com/dissertia/dissertia-api/pkg/logger"
)

const defaultRolloverBatch = 250

type subscriptionRoller interface {
	RollOver(ctx context.Context, now time.Time, limit int) (*subscriptions.RolloverResult, error)
}

type BillingRolloverJobParams struct {
	Logger        *logger.Logger
	Subscriptions subscriptionRoller
	BatchSize     int
	Now           func() time.Time
}

// NewBillingRolloverJob builds the job that renews, cancels or expires
// subscriptions whose billing date has passed.
func NewBillingRolloverJob(params BillingRolloverJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRolloverBatch
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &billingRolloverJob{
		logg:  params.Logger,
		subs:  params.Subscriptions,
		batch: batch,
		now:   now,
	}, nil
}

type billingRolloverJob struct {
	logg  *logger.Logger
	subs  subscriptionRoller
	batch int
	now   func() time.Time
}

func (j *billingRolloverJob) Name() string { return "billing-rollover" }

func (j *billingRolloverJob) Run(ctx context.Context) error {
	result, err := j.subs.RollOver(ctx, j.now().UTC(), j.batch)
	if result != nil {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"scanned":   result.Scanned,
			"renewed":   result.Renewed,
			"cancelled": result.Cancelled,
			"expired":   result.Expired,
			"failed":    result.Failed,
		})
		j.logg.Info(logCtx, "billing rollover pass complete")
	}
	if err != nil {
		return fmt.Errorf("billing rollover: %w", err)
	}
	return nil
}
