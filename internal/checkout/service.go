package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/internal/cart"
	"github.com/angelmondragon/campusmart-backend/internal/checkout/helpers"
	"github.com/angelmondragon/campusmart-backend/internal/notifications"
	"github.com/angelmondragon/campusmart-backend/internal/orders"
	pkgcheckout "github.com/angelmondragon/campusmart-backend/pkg/checkout"
	"github.com/angelmondragon/campusmart-backend/pkg/config"
	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/metrics"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/campusmart-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type cartSyncer interface {
	EnsureSynced(ctx context.Context, userID uuid.UUID) error
	Invalidate(ctx context.Context, userID uuid.UUID)
}

type escrowHolder interface {
	HoldTx(ctx context.Context, tx *gorm.DB, order *models.Order) error
}

// Service executes checkout orchestration.
type Service interface {
	Submit(ctx context.Context, buyerID uuid.UUID, input SubmitInput) (*orders.OrderDetail, error)
}

// SubmitInput is one checkout request. BuyNow is required when Source is buy_now and ignored otherwise.
type SubmitInput struct {
	Source        enums.OrderSource
	BuyNow        *types.CartLine
	Address       string
	PaymentMethod enums.PaymentMethod
	Pickup        *types.GeoPoint
	Dropoff       *types.GeoPoint
}

// Deps groups the collaborators of the checkout service.
type Deps struct {
	Tx            txRunner
	Carts         cartSyncer
	CartRepo      cart.Repository
	Orders        orders.Repository
	Notifications notifications.Repository
	Records       Repository
	Escrow        escrowHolder
	Outbox        outbox.Emitter
	Metrics       *metrics.CheckoutMetrics
	Logger        *logger.Logger
	// CodeSource feeds confirmation codes; nil uses crypto/rand.
	CodeSource io.Reader
}

type service struct {
	deps     Deps
	rate     decimal.Decimal
	currency string
	timeout  time.Duration
	now      func() time.Time
}

// NewService builds the checkout service.
func NewService(deps Deps, cfg config.CheckoutConfig) (Service, error) {
	switch {
	case deps.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case deps.Carts == nil:
		return nil, fmt.Errorf("cart service required")
	case deps.CartRepo == nil:
		return nil, fmt.Errorf("cart repository required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case deps.Notifications == nil:
		return nil, fmt.Errorf("notifications repository required")
	case deps.Records == nil:
		return nil, fmt.Errorf("checkout repository required")
	case deps.Escrow == nil:
		return nil, fmt.Errorf("escrow ledger required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	rate, err := cfg.Rate()
	if err != nil {
		return nil, err
	}
	return &service{
		deps:     deps,
		rate:     rate,
		currency: cfg.Currency,
		timeout:  cfg.Timeout,
		now:      time.Now,
	}, nil
}

func (s *service) Submit(ctx context.Context, buyerID uuid.UUID, input SubmitInput) (*orders.OrderDetail, error) {
	started := s.now()
	if input.Source == "" {
		input.Source = enums.OrderSourceCart
	}
	order, err := s.submit(ctx, buyerID, input)
	s.deps.Metrics.ObserveSubmission(string(input.Source), resultLabel(err), s.now().Sub(started))

	logCtx := s.deps.Logger.WithFields(ctx, map[string]any{
		"user_id": buyerID.String(),
		"source":  string(input.Source),
	})
	if err != nil {
		if pkgerrors.MetadataFor(errorCode(err)).HTTPStatus >= 500 {
			s.deps.Logger.Error(logCtx, "checkout.failed", err)
		} else {
			s.deps.Logger.Warn(s.deps.Logger.WithField(logCtx, "error", err.Error()), "checkout.rejected")
		}
		return nil, err
	}
	s.deps.Logger.Info(s.deps.Logger.WithFields(logCtx, map[string]any{
		"order_id":     order.ID.String(),
		"order_number": order.OrderNumber,
		"sellers":      len(order.SellerIDs()),
		"total":        order.Total.StringFixed(pkgcheckout.CurrencyPlaces),
	}), "checkout.completed")
	return orders.ToDetail(order, true), nil
}

func (s *service) submit(ctx context.Context, buyerID uuid.UUID, input SubmitInput) (*models.Order, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	address, err := helpers.NormalizeAddress(input.Address)
	if err != nil {
		return nil, err
	}
	if !input.Source.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown order source %q", input.Source)
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown payment method %q", input.PaymentMethod)
	}
	if err := helpers.ValidateRoute(input.Pickup, input.Dropoff); err != nil {
		return nil, err
	}

	var buyNow []types.CartLine
	if input.Source == enums.OrderSourceBuyNow {
		if input.BuyNow == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "buy now item required")
		}
		buyNow = []types.CartLine{*input.BuyNow}
		if err := pkgcheckout.ValidateLines(buyNow); err != nil {
			return nil, err
		}
	} else {
		if err := s.deps.Carts.EnsureSynced(ctx, buyerID); err != nil {
			return nil, err
		}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var order *models.Order
	err = s.deps.Tx.WithTx(ctx, func(tx *gorm.DB) error {
		lines := buyNow
		var purchased *cart.Cart
		if input.Source == enums.OrderSourceCart {
			doc, err := s.deps.CartRepo.WithTx(tx).FindByUserForUpdate(ctx, buyerID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeValidation, "no items selected for checkout")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock cart")
			}
			purchased = cart.FromDocument(doc)
			lines = purchased.SelectedLines()
			if err := pkgcheckout.ValidateLines(lines); err != nil {
				return err
			}
		}

		code, err := pkgcheckout.NewConfirmationCode(s.deps.CodeSource)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate confirmation code")
		}
		order = s.buildOrder(buyerID, address, code, input, lines)

		if err := s.deps.Orders.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if err := s.deps.Notifications.WithTx(tx).CreateMany(ctx, notifications.ForNewOrder(order)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "notify sellers")
		}

		records := s.deps.Records.WithTx(tx)
		groups := helpers.GroupLinesBySeller(lines)
		if err := records.CreateDispatchRecords(ctx, dispatchRecords(order, groups)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create dispatch records")
		}
		if err := records.CreateSaleRecords(ctx, saleRecords(order, groups)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record sales")
		}
		if err := s.deps.Escrow.HoldTx(ctx, tx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "hold payment in escrow")
		}
		if err := s.deps.Outbox.Emit(ctx, tx, orderCreatedEvent(order)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order_created")
		}

		if purchased == nil {
			return nil
		}
		expected := purchased.Version
		purchased.RemoveSelected()
		if err := s.deps.CartRepo.WithTx(tx).Save(ctx, purchased.Document(), expected); err != nil {
			if errors.Is(err, cart.ErrVersionConflict) {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "cart changed during checkout; retry")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if input.Source == enums.OrderSourceCart {
		s.deps.Carts.Invalidate(ctx, buyerID)
	}
	return order, nil
}

func (s *service) buildOrder(buyerID uuid.UUID, address, code string, input SubmitInput, lines []types.CartLine) *models.Order {
	quote := pkgcheckout.Price(lines, s.rate)
	now := s.now().UTC()
	order := &models.Order{
		ID:               uuid.New(),
		BuyerID:          buyerID,
		Source:           input.Source,
		Status:           enums.OrderStatusPending,
		PaymentMethod:    input.PaymentMethod,
		Address:          address,
		Pickup:           input.Pickup,
		Dropoff:          input.Dropoff,
		Currency:         s.currency,
		Subtotal:         quote.Subtotal,
		Tax:              quote.Tax,
		Total:            quote.Total,
		ConfirmationCode: code,
		Items:            make([]models.OrderItem, 0, len(lines)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, line := range lines {
		order.Items = append(order.Items, models.OrderItem{
			ProductID: line.ProductID,
			SellerID:  line.SellerID,
			Title:     line.Name,
			Image:     line.Image,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
		})
	}
	return order
}

func dispatchRecords(order *models.Order, groups []helpers.SellerGroup) []models.DispatchRecord {
	out := make([]models.DispatchRecord, 0, len(groups))
	for _, group := range groups {
		out = append(out, models.DispatchRecord{
			OrderID:  order.ID,
			SellerID: group.SellerID,
			Pickup:   order.Pickup,
			Dropoff:  order.Dropoff,
			Status:   enums.DispatchStatusFor(order.Status),
		})
	}
	return out
}

func saleRecords(order *models.Order, groups []helpers.SellerGroup) []models.SaleRecord {
	var out []models.SaleRecord
	for _, group := range groups {
		for _, line := range group.Lines {
			out = append(out, models.SaleRecord{
				OrderID:   order.ID,
				SellerID:  group.SellerID,
				BuyerID:   order.BuyerID,
				ProductID: line.ProductID,
				Title:     line.Name,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice,
				LineTotal: line.LineTotal().Round(pkgcheckout.CurrencyPlaces),
			})
		}
	}
	return out
}

func orderCreatedEvent(order *models.Order) outbox.DomainEvent {
	items := 0
	for _, item := range order.Items {
		items += item.Quantity
	}
	return outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Actor:         &outbox.ActorRef{UserID: order.BuyerID, Role: string(enums.RoleUser)},
		Data: payloads.OrderCreatedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			BuyerID:     order.BuyerID,
			SellerIDs:   order.SellerIDs(),
			Source:      order.Source,
			Subtotal:    order.Subtotal,
			Tax:         order.Tax,
			Total:       order.Total,
			ItemCount:   items,
		},
		OccurredAt: order.CreatedAt,
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errorCode(err))
}

func errorCode(err error) pkgerrors.Code {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Code()
	}
	return pkgerrors.CodeInternal
}
