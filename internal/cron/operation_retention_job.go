package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/dissertia/dissertia-api/pkg/logger"
)

// Operation keys only guard retries, and usage periods hold the totals, so
// the per-call log is kept for a bit over a year.
const operationRetentionDays = 400

type OperationRetentionJobParams struct {
	Logger        *logger.Logger
	Repository    operationPruner
	RetentionDays int
}

type operationPruner interface {
	DeleteOperationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

func NewOperationRetentionJob(params OperationRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("usage repository required")
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = operationRetentionDays
	}
	return &operationRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: retention,
		now:       time.Now,
	}, nil
}

type operationRetentionJob struct {
	logg      *logger.Logger
	repo      operationPruner
	retention int
	now       func() time.Time
}

func (j *operationRetentionJob) Name() string { return "ai-operation-retention" }

func (j *operationRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.retention)
	deleted, err := j.repo.DeleteOperationsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune ai operations: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "ai operation retention complete")
	return nil
}
