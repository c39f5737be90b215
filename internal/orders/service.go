package orders

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/metrics"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/campusmart-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type fundsReleaser interface {
	ReleaseTx(ctx context.Context, tx *gorm.DB, order *models.Order) ([]payloads.SellerPayout, error)
}

// Service exposes the order read surface and the delivery state machine.
type Service interface {
	List(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*OrderList, error)
	Get(ctx context.Context, orderID uuid.UUID, viewer Viewer) (*OrderDetail, error)
	AdvanceStatus(ctx context.Context, input AdvanceStatusInput) (*OrderDetail, error)
	ConfirmReceipt(ctx context.Context, orderID, buyerID uuid.UUID) (*OrderDetail, error)
	Track(ctx context.Context, orderID uuid.UUID, viewer Viewer) (<-chan StatusUpdate, error)
}

// AdvanceStatusInput is a dispatch-driven forward move. ConfirmationCode is required for delivered.
type AdvanceStatusInput struct {
	OrderID          uuid.UUID
	ActorID          uuid.UUID
	Next             enums.OrderStatus
	ConfirmationCode string
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outbox.Emitter
	releaser fundsReleaser
	tracker  Tracker
	metrics  *metrics.CheckoutMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the orders service. m may be nil.
func NewService(repo Repository, tx txRunner, emitter outbox.Emitter, releaser fundsReleaser, tracker Tracker, m *metrics.CheckoutMetrics, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if releaser == nil {
		return nil, fmt.Errorf("funds releaser required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("status tracker required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		outbox:   emitter,
		releaser: releaser,
		tracker:  tracker,
		metrics:  m,
		logg:     logg,
		now:      time.Now,
	}, nil
}

func (s *service) List(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*OrderList, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.repo.ListByBuyer(ctx, buyerID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	list := &OrderList{Orders: make([]OrderSummary, 0, len(rows)), NextCursor: next}
	for _, row := range rows {
		list.Orders = append(list.Orders, toSummary(row))
	}
	return list, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID, viewer Viewer) (*OrderDetail, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(order, viewer) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order is not visible to this user")
	}
	return ToDetail(order, order.BuyerID == viewer.UserID), nil
}

func (s *service) AdvanceStatus(ctx context.Context, input AdvanceStatusInput) (*OrderDetail, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.Next.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown order status %q", input.Next)
	}
	if input.Next == enums.OrderStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only the buyer can complete an order")
	}

	var (
		updated *models.Order
		from    enums.OrderStatus
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.lockOrder(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		from = order.Status
		if order.Status == input.Next {
			updated = order
			return nil
		}
		if expected, ok := order.Status.Next(); !ok || input.Next != expected {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "order cannot move from %s to %s", order.Status, input.Next).
				WithDetails(map[string]any{"current": order.Status, "requested": input.Next, "allowed": expected})
		}
		if input.Next == enums.OrderStatusDelivered && !codeMatches(order.ConfirmationCode, input.ConfirmationCode) {
			return pkgerrors.New(pkgerrors.CodeValidation, "confirmation code does not match")
		}

		if err := s.transition(ctx, repo, order, input.Next, nil); err != nil {
			return err
		}
		order.UpdatedAt = s.now().UTC()
		updated = order
		return s.outbox.Emit(ctx, tx, statusEvent(order, from, input.Next, input.ActorID, string(enums.RoleDispatch), order.UpdatedAt))
	})
	if err != nil {
		return nil, err
	}
	if from != updated.Status {
		s.announce(ctx, updated)
	}
	return ToDetail(updated, false), nil
}

// ConfirmReceipt is the buyer's delivered -> completed step. It releases escrow to each seller
// of the order in the same transaction. Confirming an already completed order is a no-op.
func (s *service) ConfirmReceipt(ctx context.Context, orderID, buyerID uuid.UUID) (*OrderDetail, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var (
		updated *models.Order
		changed bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.lockOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.BuyerID != buyerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can confirm receipt")
		}
		if order.Status == enums.OrderStatusCompleted {
			updated = order
			return nil
		}
		if order.Status != enums.OrderStatusDelivered {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "order is %s; receipt can only be confirmed after delivery", order.Status).
				WithDetails(map[string]any{"current": order.Status})
		}

		completedAt := s.now().UTC()
		if err := s.transition(ctx, repo, order, enums.OrderStatusCompleted, &completedAt); err != nil {
			return err
		}
		order.CompletedAt = &completedAt
		order.UpdatedAt = completedAt

		payouts, err := s.releaser.ReleaseTx(ctx, tx, order)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release escrow")
		}
		if err := s.outbox.Emit(ctx, tx, statusEvent(order, enums.OrderStatusDelivered, enums.OrderStatusCompleted, buyerID, string(enums.RoleUser), completedAt)); err != nil {
			return err
		}
		if len(payouts) > 0 {
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventFundsReleased,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Version:       1,
				Actor:         &outbox.ActorRef{UserID: buyerID, Role: string(enums.RoleUser)},
				Data:          payloads.FundsReleasedEvent{OrderID: order.ID, Payouts: payouts},
				OccurredAt:    completedAt,
			}); err != nil {
				return err
			}
		}
		updated, changed = order, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.announce(ctx, updated)
	}
	return ToDetail(updated, true), nil
}

func (s *service) Track(ctx context.Context, orderID uuid.UUID, viewer Viewer) (<-chan StatusUpdate, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(order, viewer) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order is not visible to this user")
	}
	updates, err := s.tracker.Subscribe(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscribe to order status")
	}
	return updates, nil
}

func (s *service) transition(ctx context.Context, repo Repository, order *models.Order, next enums.OrderStatus, completedAt *time.Time) error {
	if err := repo.UpdateStatus(ctx, order.ID, order.Status, next, completedAt); err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order status changed; reload and retry")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	order.Status = next
	return nil
}

// announce pushes the committed status to live subscribers. The outbox event is the durable record.
func (s *service) announce(ctx context.Context, order *models.Order) {
	s.metrics.ObserveTransition(string(order.Status))
	if err := s.tracker.Publish(ctx, NewStatusUpdate(order)); err != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "orders.status_publish_failed")
	}
}

func (s *service) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) lockOrder(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByIDForUpdate(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func statusEvent(order *models.Order, from, to enums.OrderStatus, actorID uuid.UUID, role string, at time.Time) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Actor:         &outbox.ActorRef{UserID: actorID, Role: role},
		Data: payloads.OrderStatusChangedEvent{
			OrderID:   order.ID,
			BuyerID:   order.BuyerID,
			SellerIDs: order.SellerIDs(),
			From:      from,
			To:        to,
			ChangedAt: at,
		},
		OccurredAt: at,
	}
}

func canView(order *models.Order, viewer Viewer) bool {
	if viewer.UserID == uuid.Nil {
		return false
	}
	if viewer.Role == enums.RoleDispatch || order.BuyerID == viewer.UserID {
		return true
	}
	for _, sellerID := range order.SellerIDs() {
		if sellerID == viewer.UserID {
			return true
		}
	}
	return false
}

func codeMatches(expected, provided string) bool {
	if len(expected) == 0 || len(expected) != len(provided) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
