package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/campusmart-backend/internal/cart"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
)

const defaultCartSyncBatch = 100

type dirtyCartSyncer interface {
	SyncDirty(ctx context.Context, limit int64) (cart.SyncReport, error)
}

// CartSyncJob flushes queued cart operations for carts marked dirty.
type CartSyncJob struct {
	carts dirtyCartSyncer
	batch int64
	logg  *logger.Logger
}

func NewCartSyncJob(carts dirtyCartSyncer, batch int64, logg *logger.Logger) (*CartSyncJob, error) {
	if carts == nil {
		return nil, fmt.Errorf("cart service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if batch <= 0 {
		batch = defaultCartSyncBatch
	}
	return &CartSyncJob{carts: carts, batch: batch, logg: logg}, nil
}

func (j *CartSyncJob) Name() string { return "cart-sync" }

func (j *CartSyncJob) Run(ctx context.Context) error {
	report, err := j.carts.SyncDirty(ctx, j.batch)
	if report.Checked > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"checked": report.Checked,
			"synced":  report.Synced,
			"pending": report.Pending,
		}), "cart.sync_pass")
	}
	if err != nil {
		return fmt.Errorf("cart sync: %w", err)
	}
	return nil
}
