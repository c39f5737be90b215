package checkout

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
)

// Repository persists the per-seller fulfillment rows written during checkout.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateDispatchRecords(ctx context.Context, records []models.DispatchRecord) error
	CreateSaleRecords(ctx context.Context, records []models.SaleRecord) error
	ListSalesByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SaleRecord, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a checkout repository backed by the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateDispatchRecords(ctx context.Context, records []models.DispatchRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if records[i].ID == uuid.Nil {
			records[i].ID = uuid.New()
		}
	}
	return r.db.WithContext(ctx).Create(&records).Error
}

func (r *repository) CreateSaleRecords(ctx context.Context, records []models.SaleRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if records[i].ID == uuid.Nil {
			records[i].ID = uuid.New()
		}
	}
	return r.db.WithContext(ctx).Create(&records).Error
}

func (r *repository) ListSalesByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SaleRecord, error) {
	var rows []models.SaleRecord
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("seller_id ASC, product_id ASC").
		Find(&rows).Error
	return rows, err
}
