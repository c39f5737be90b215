package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
)

// Repository manages escrow payments and seller ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreatePayment(ctx context.Context, payment *models.PaymentRecord) error
	ReleasePayment(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error)
	CreateEntries(ctx context.Context, entries []models.LedgerEntry) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error)
	SumBySeller(ctx context.Context, sellerID uuid.UUID) (map[enums.LedgerEntryType]decimal.Decimal, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.PaymentRecord) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(payment).Error
}

// ReleasePayment flips a held payment to released. It reports false when nothing was held.
func (r *repository) ReleasePayment(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("order_id = ? AND status = ?", orderID, enums.PaymentStatusHeld).
		Updates(map[string]any{"status": enums.PaymentStatusReleased, "released_at": at})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) CreateEntries(ctx context.Context, entries []models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for i := range entries {
		if entries[i].ID == uuid.Nil {
			entries[i].ID = uuid.New()
		}
	}
	return r.db.WithContext(ctx).Create(&entries).Error
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

type sumRow struct {
	Type  enums.LedgerEntryType
	Total decimal.Decimal
}

func (r *repository) SumBySeller(ctx context.Context, sellerID uuid.UUID) (map[enums.LedgerEntryType]decimal.Decimal, error) {
	var rows []sumRow
	if err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("type, COALESCE(SUM(amount), 0) AS total").
		Where("seller_id = ?", sellerID).
		Group("type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[enums.LedgerEntryType]decimal.Decimal, len(rows))
	for _, row := range rows {
		out[row.Type] = row.Total
	}
	return out, nil
}
