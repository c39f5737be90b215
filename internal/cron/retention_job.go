package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/campusmart-backend/pkg/logger"
)

// PruneFunc deletes rows older than cutoff and reports how many went.
type PruneFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// RetentionJob drops rows that have aged past a retention window.
type RetentionJob struct {
	name      string
	retention time.Duration
	prune     PruneFunc
	logg      *logger.Logger
	now       func() time.Time
}

// NewRetentionJob wires prune under name. Typical prunes are outbox.Repository.DeletePublishedBefore
// and notifications.Repository.DeleteReadBefore.
func NewRetentionJob(name string, retention time.Duration, prune PruneFunc, logg *logger.Logger) (*RetentionJob, error) {
	if name == "" {
		return nil, fmt.Errorf("job name required")
	}
	if retention <= 0 {
		return nil, fmt.Errorf("%s: retention must be positive", name)
	}
	if prune == nil {
		return nil, fmt.Errorf("%s: prune func required", name)
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &RetentionJob{name: name, retention: retention, prune: prune, logg: logg, now: time.Now}, nil
}

func (j *RetentionJob) Name() string { return j.name }

func (j *RetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "retention.pruned")
	return nil
}
