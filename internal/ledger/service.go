package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/payloads"
)

// Service holds buyer funds in escrow per order and releases them to sellers.
type Service interface {
	HoldTx(ctx context.Context, tx *gorm.DB, order *models.Order) error
	ReleaseTx(ctx context.Context, tx *gorm.DB, order *models.Order) ([]payloads.SellerPayout, error)
	Balance(ctx context.Context, sellerID uuid.UUID) (*Balance, error)
}

// Balance is a seller's money still in escrow and already paid out.
type Balance struct {
	SellerID uuid.UUID       `json:"seller_id"`
	Held     decimal.Decimal `json:"held"`
	Released decimal.Decimal `json:"released"`
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

// HoldTx records the buyer's payment as held and one escrow entry per seller for their
// share of the subtotal. Tax is not part of any seller's share.
func (s *service) HoldTx(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if err := validateOrder(order); err != nil {
		return err
	}
	repo := s.repo.WithTx(tx)

	payment := &models.PaymentRecord{
		OrderID: order.ID,
		BuyerID: order.BuyerID,
		Method:  order.PaymentMethod,
		Amount:  order.Total,
		Status:  enums.PaymentStatusHeld,
	}
	if err := repo.CreatePayment(ctx, payment); err != nil {
		return fmt.Errorf("create payment record: %w", err)
	}

	shares := SellerShares(order.Items)
	entries := make([]models.LedgerEntry, 0, len(shares))
	for _, sellerID := range order.SellerIDs() {
		entries = append(entries, models.LedgerEntry{
			OrderID:  order.ID,
			SellerID: sellerID,
			Type:     enums.LedgerEntryEscrowHeld,
			Amount:   shares[sellerID],
		})
	}
	if err := repo.CreateEntries(ctx, entries); err != nil {
		return fmt.Errorf("create escrow entries: %w", err)
	}
	return nil
}

// ReleaseTx pays out every escrow entry of order that has no payout yet and marks the payment
// released. Entries are matched by order id, so repeated calls release nothing new.
func (s *service) ReleaseTx(ctx context.Context, tx *gorm.DB, order *models.Order) ([]payloads.SellerPayout, error) {
	if order == nil || order.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	repo := s.repo.WithTx(tx)

	entries, err := repo.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load ledger entries: %w", err)
	}

	paid := map[uuid.UUID]bool{}
	for _, entry := range entries {
		if entry.Type == enums.LedgerEntryPayoutReleased {
			paid[entry.SellerID] = true
		}
	}

	var (
		payouts []payloads.SellerPayout
		release []models.LedgerEntry
	)
	for _, entry := range entries {
		if entry.Type != enums.LedgerEntryEscrowHeld || paid[entry.SellerID] {
			continue
		}
		paid[entry.SellerID] = true
		release = append(release, models.LedgerEntry{
			OrderID:  order.ID,
			SellerID: entry.SellerID,
			Type:     enums.LedgerEntryPayoutReleased,
			Amount:   entry.Amount,
		})
		payouts = append(payouts, payloads.SellerPayout{SellerID: entry.SellerID, Amount: entry.Amount})
	}
	if err := repo.CreateEntries(ctx, release); err != nil {
		return nil, fmt.Errorf("create payout entries: %w", err)
	}
	if _, err := repo.ReleasePayment(ctx, order.ID, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("release payment: %w", err)
	}
	return payouts, nil
}

func (s *service) Balance(ctx context.Context, sellerID uuid.UUID) (*Balance, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	sums, err := s.repo.SumBySeller(ctx, sellerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger balance")
	}
	released := sums[enums.LedgerEntryPayoutReleased]
	return &Balance{
		SellerID: sellerID,
		Held:     sums[enums.LedgerEntryEscrowHeld].Sub(released),
		Released: released,
	}, nil
}

// SellerShares sums unit price times quantity per seller.
func SellerShares(items []models.OrderItem) map[uuid.UUID]decimal.Decimal {
	shares := make(map[uuid.UUID]decimal.Decimal)
	for _, item := range items {
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		shares[item.SellerID] = shares[item.SellerID].Add(line)
	}
	return shares
}

func validateOrder(order *models.Order) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	var errs error
	if order.ID == uuid.Nil {
		errs = multierr.Append(errs, fmt.Errorf("order id is required"))
	}
	if order.BuyerID == uuid.Nil {
		errs = multierr.Append(errs, fmt.Errorf("buyer id is required"))
	}
	if len(order.Items) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("order has no items"))
	}
	for i, item := range order.Items {
		if item.SellerID == uuid.Nil {
			errs = multierr.Append(errs, fmt.Errorf("item %d: seller id is required", i))
		}
	}
	if errs != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, errs, "order cannot be held in escrow")
	}
	return nil
}
