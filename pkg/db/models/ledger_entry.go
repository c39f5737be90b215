package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/campusmart-backend/pkg/enums"
)

// LedgerEntry is an append-only seller balance movement tied to exactly one order.
type LedgerEntry struct {
	ID        uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	SellerID  uuid.UUID             `gorm:"column:seller_id;type:uuid;not null"`
	Type      enums.LedgerEntryType `gorm:"column:type;type:ledger_entry_type;not null"`
	Amount    decimal.Decimal       `gorm:"column:amount;type:numeric(14,2);not null"`
	CreatedAt time.Time             `gorm:"column:created_at;autoCreateTime"`
}
