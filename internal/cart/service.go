package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/pkg/config"
	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/metrics"
	"github.com/angelmondragon/campusmart-backend/pkg/types"
)

// Service exposes the write-through cart store and its selection overlay.
type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (*View, error)
	AddItem(ctx context.Context, userID uuid.UUID, line types.CartLine, quantity int) (*View, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*View, error)
	SetQuantity(ctx context.Context, userID, productID uuid.UUID, quantity int) (*View, error)
	Clear(ctx context.Context, userID uuid.UUID) (*View, error)
	ToggleSelection(ctx context.Context, userID, productID uuid.UUID) (*View, error)
	ToggleAllSelection(ctx context.Context, userID uuid.UUID, value bool) (*View, error)
	Sync(ctx context.Context, userID uuid.UUID) (*View, error)
	EnsureSynced(ctx context.Context, userID uuid.UUID) error
	SyncDirty(ctx context.Context, limit int64) (SyncReport, error)
	Invalidate(ctx context.Context, userID uuid.UUID)
}

// View is the client-facing cart, including ops that are queued but not yet stored.
type View struct {
	UserID           uuid.UUID        `json:"user_id"`
	Lines            []types.CartLine `json:"lines"`
	Total            decimal.Decimal  `json:"total"`
	SelectedSubtotal decimal.Decimal  `json:"selected_subtotal"`
	Version          int64            `json:"version"`
	SyncStatus       enums.SyncStatus `json:"sync_status"`
	PendingOps       int              `json:"pending_ops"`
}

// SyncReport summarises one background pass over dirty carts.
type SyncReport struct {
	Checked int
	Synced  int
	Pending int
}

type service struct {
	repo    Repository
	queue   OpQueue
	cache   Cache
	cfg     config.CartConfig
	metrics *metrics.CartMetrics
	logg    *logger.Logger
	loads   singleflight.Group
	now     func() time.Time
}

// NewService wires the cart store. metrics may be nil.
func NewService(repo Repository, queue OpQueue, cache Cache, cfg config.CartConfig, m *metrics.CartMetrics, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if queue == nil {
		return nil, fmt.Errorf("cart op queue required")
	}
	if cache == nil {
		return nil, fmt.Errorf("cart cache required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.MaxFlushAttempts <= 0 {
		cfg.MaxFlushAttempts = 5
	}
	return &service{
		repo:    repo,
		queue:   queue,
		cache:   cache,
		cfg:     cfg,
		metrics: m,
		logg:    logg,
		now:     time.Now,
	}, nil
}

func (s *service) Get(ctx context.Context, userID uuid.UUID) (*View, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	doc, err := s.load(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	ops, err := s.queue.Pending(ctx, userID, doc.AppliedSeq)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cart.pending_ops_unavailable")
		return s.view(doc, nil, enums.SyncStatusPending), nil
	}
	status := enums.SyncStatusSynced
	if len(ops) > 0 {
		status = s.pendingStatus(ctx, userID)
	}
	return s.view(doc, ops, status), nil
}

func (s *service) AddItem(ctx context.Context, userID uuid.UUID, line types.CartLine, quantity int) (*View, error) {
	if err := validateLine(line); err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, Op{Kind: enums.CartOpAdd, Line: &line, Quantity: quantity})
}

func (s *service) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*View, error) {
	return s.mutate(ctx, userID, Op{Kind: enums.CartOpRemove, ProductID: productID})
}

func (s *service) SetQuantity(ctx context.Context, userID, productID uuid.UUID, quantity int) (*View, error) {
	return s.mutate(ctx, userID, Op{Kind: enums.CartOpSetQuantity, ProductID: productID, Quantity: quantity})
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) (*View, error) {
	return s.mutate(ctx, userID, Op{Kind: enums.CartOpClear})
}

func (s *service) ToggleSelection(ctx context.Context, userID, productID uuid.UUID) (*View, error) {
	return s.mutate(ctx, userID, Op{Kind: enums.CartOpToggle, ProductID: productID})
}

func (s *service) ToggleAllSelection(ctx context.Context, userID uuid.UUID, value bool) (*View, error) {
	return s.mutate(ctx, userID, Op{Kind: enums.CartOpToggleAll, Value: value})
}

func (s *service) Sync(ctx context.Context, userID uuid.UUID) (*View, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return s.flush(ctx, userID)
}

// EnsureSynced flushes queued ops and fails with CONFLICT when any remain.
func (s *service) EnsureSynced(ctx context.Context, userID uuid.UUID) error {
	view, err := s.Sync(ctx, userID)
	if err != nil {
		return err
	}
	if view.SyncStatus != enums.SyncStatusSynced {
		return pkgerrors.New(pkgerrors.CodeConflict, "cart has unsynced changes").
			WithDetails(map[string]any{"pending_ops": view.PendingOps, "sync_status": view.SyncStatus})
	}
	return nil
}

// SyncDirty flushes up to limit carts that still have queued ops.
func (s *service) SyncDirty(ctx context.Context, limit int64) (SyncReport, error) {
	var report SyncReport
	users, err := s.queue.Dirty(ctx, limit)
	if err != nil {
		return report, err
	}
	var errs error
	for _, userID := range users {
		if ctx.Err() != nil {
			return report, multierr.Append(errs, ctx.Err())
		}
		report.Checked++
		view, err := s.flush(ctx, userID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cart %s: %w", userID, err))
			report.Pending++
			continue
		}
		if view.SyncStatus == enums.SyncStatusSynced {
			report.Synced++
		} else {
			report.Pending++
		}
	}
	return report, errs
}

func (s *service) Invalidate(ctx context.Context, userID uuid.UUID) {
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"user_id": userID.String(), "error": err.Error()}), "cart.cache_invalidate_failed")
	}
}

func (s *service) mutate(ctx context.Context, userID uuid.UUID, op Op) (*View, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	op.At = s.now().UTC()

	doc, err := s.load(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if _, err := s.queue.Enqueue(ctx, userID, doc.AppliedSeq, op); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cart.queue_unavailable_write_through")
		return s.writeThrough(ctx, userID, op)
	}
	return s.flush(ctx, userID)
}

// flush folds queued ops into the stored document under the version check. Conflicts reload
// and replay; any other failure keeps the ops queued and reports a pending or failed status.
func (s *service) flush(ctx context.Context, userID uuid.UUID) (*View, error) {
	var saved *Cart
	folded := 0

	err := retry.Do(ctx, s.conflictBackoff(), func(ctx context.Context) error {
		doc, err := s.loadStored(ctx, userID)
		if err != nil {
			return err
		}
		ops, err := s.queue.Pending(ctx, userID, doc.AppliedSeq)
		if err != nil {
			return err
		}
		cart := FromDocument(doc)
		if len(ops) == 0 {
			saved, folded = cart, 0
			return nil
		}
		for _, op := range ops {
			cart.Apply(op)
		}
		next := cart.Document()
		if err := s.repo.Save(ctx, next, doc.Version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				s.metrics.ObserveFlush(metrics.CartFlushConflict)
				return retry.RetryableError(err)
			}
			return err
		}
		cart.Version = next.Version
		saved, folded = cart, len(ops)
		return nil
	})
	if err != nil {
		return s.degraded(ctx, userID, err)
	}

	if err := s.cache.Put(ctx, saved.Document()); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cart.cache_put_failed")
	}
	s.metrics.AddFolded(folded)

	remaining, err := s.queue.Ack(ctx, userID, saved.AppliedSeq)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cart.ack_failed")
	}
	if remaining == 0 {
		s.metrics.ObserveFlush(metrics.CartFlushSynced)
		return s.view(saved.Document(), nil, enums.SyncStatusSynced), nil
	}

	// ops queued by a concurrent request after this flush read the queue
	ops, err := s.queue.Pending(ctx, userID, saved.AppliedSeq)
	if err != nil {
		return s.view(saved.Document(), nil, enums.SyncStatusPending), nil
	}
	return s.view(saved.Document(), ops, enums.SyncStatusPending), nil
}

func (s *service) degraded(ctx context.Context, userID uuid.UUID, cause error) (*View, error) {
	status := enums.SyncStatusPending
	attempts, err := s.queue.RecordFailure(ctx, userID)
	if err == nil && attempts >= int64(s.cfg.MaxFlushAttempts) {
		status = enums.SyncStatusFailed
	}
	outcome := metrics.CartFlushPending
	if status == enums.SyncStatusFailed {
		outcome = metrics.CartFlushFailed
	}
	s.metrics.ObserveFlush(outcome)

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":     userID.String(),
		"attempts":    attempts,
		"sync_status": string(status),
	})
	s.logg.Warn(s.logg.WithField(logCtx, "error", cause.Error()), "cart.flush_failed")

	doc, err := s.load(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, multierr.Combine(cause, err), "cart store unavailable")
	}
	ops, err := s.queue.Pending(ctx, userID, doc.AppliedSeq)
	if err != nil {
		ops = nil
	}
	return s.view(doc, ops, status), nil
}

func (s *service) writeThrough(ctx context.Context, userID uuid.UUID, op Op) (*View, error) {
	var saved *Cart
	err := retry.Do(ctx, s.conflictBackoff(), func(ctx context.Context) error {
		doc, err := s.loadStored(ctx, userID)
		if err != nil {
			return err
		}
		cart := FromDocument(doc)
		cart.Apply(op)
		next := cart.Document()
		if err := s.repo.Save(ctx, next, doc.Version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				s.metrics.ObserveFlush(metrics.CartFlushConflict)
				return retry.RetryableError(err)
			}
			return err
		}
		cart.Version = next.Version
		saved = cart
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "cart is being modified concurrently")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart")
	}
	if err := s.cache.Put(ctx, saved.Document()); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cart.cache_put_failed")
	}
	s.metrics.ObserveFlush(metrics.CartFlushSynced)
	return s.view(saved.Document(), nil, enums.SyncStatusSynced), nil
}

// load reads through the cache; concurrent misses for one user share a single store read.
func (s *service) load(ctx context.Context, userID uuid.UUID) (*models.CartDocument, error) {
	doc, hit, err := s.cache.Get(ctx, userID)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cart.cache_get_failed")
	}
	s.metrics.ObserveCache(hit)
	if hit {
		return doc, nil
	}

	v, err, _ := s.loads.Do(userID.String(), func() (any, error) {
		stored, err := s.loadStored(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Put(ctx, stored); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cart.cache_put_failed")
		}
		return stored, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.CartDocument), nil
}

func (s *service) loadStored(ctx context.Context, userID uuid.UUID) (*models.CartDocument, error) {
	doc, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.CartDocument{UserID: userID, Lines: emptyLines()}, nil
		}
		return nil, err
	}
	return doc, nil
}

func (s *service) pendingStatus(ctx context.Context, userID uuid.UUID) enums.SyncStatus {
	attempts, err := s.queue.Attempts(ctx, userID)
	if err == nil && attempts >= int64(s.cfg.MaxFlushAttempts) {
		return enums.SyncStatusFailed
	}
	return enums.SyncStatusPending
}

func (s *service) conflictBackoff() retry.Backoff {
	b := retry.NewExponential(10 * time.Millisecond)
	b = retry.WithJitter(5*time.Millisecond, b)
	return retry.WithMaxRetries(s.cfg.ConflictRetries, b)
}

func (s *service) view(doc *models.CartDocument, ops []Op, status enums.SyncStatus) *View {
	cart := FromDocument(doc)
	for _, op := range ops {
		cart.Apply(op)
	}
	if cart.Lines == nil {
		cart.Lines = emptyLines()
	}
	return &View{
		UserID:           doc.UserID,
		Lines:            cart.Lines,
		Total:            cart.Total(),
		SelectedSubtotal: cart.SelectedSubtotal(),
		Version:          doc.Version,
		SyncStatus:       status,
		PendingOps:       len(ops),
	}
}

func validateLine(line types.CartLine) error {
	switch {
	case line.ProductID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	case line.SellerID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	case strings.TrimSpace(line.Name) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "product name is required")
	case line.UnitPrice.IsNegative():
		return pkgerrors.New(pkgerrors.CodeValidation, "unit price must be non-negative")
	case !line.WholeCents():
		return pkgerrors.New(pkgerrors.CodeValidation, "unit price must have at most two decimal places")
	}
	return nil
}

func emptyLines() []types.CartLine {
	return []types.CartLine{}
}
