package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/campusmart-backend/pkg/enums"
)

// PaymentRecord holds the buyer's funds in escrow until receipt is confirmed.
type PaymentRecord struct {
	ID         uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	BuyerID    uuid.UUID           `gorm:"column:buyer_id;type:uuid;not null"`
	Method     enums.PaymentMethod `gorm:"column:method;type:payment_method;not null"`
	Amount     decimal.Decimal     `gorm:"column:amount;type:numeric(14,2);not null"`
	Status     enums.PaymentStatus `gorm:"column:status;type:payment_status;not null"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime"`
	ReleasedAt *time.Time          `gorm:"column:released_at"`
}
