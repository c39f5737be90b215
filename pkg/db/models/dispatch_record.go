package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	"github.com/angelmondragon/campusmart-backend/pkg/types"
)

// DispatchRecord is the logistics leg for one seller's share of an order.
type DispatchRecord struct {
	ID        uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID            `gorm:"column:order_id;type:uuid;not null"`
	SellerID  uuid.UUID            `gorm:"column:seller_id;type:uuid;not null"`
	Pickup    *types.GeoPoint      `gorm:"column:pickup;type:jsonb;serializer:json"`
	Dropoff   *types.GeoPoint      `gorm:"column:dropoff;type:jsonb;serializer:json"`
	Status    enums.DispatchStatus `gorm:"column:status;type:text;not null"`
	CreatedAt time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
