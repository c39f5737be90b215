package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	"github.com/angelmondragon/campusmart-backend/pkg/types"
)

// Order is the buyer-facing receipt. Money fields are frozen at creation.
type Order struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber      int64               `gorm:"column:order_number;autoIncrement;->"`
	BuyerID          uuid.UUID           `gorm:"column:buyer_id;type:uuid;not null"`
	Source           enums.OrderSource   `gorm:"column:source;type:order_source;not null"`
	Status           enums.OrderStatus   `gorm:"column:status;type:order_status;not null;default:'pending'"`
	PaymentMethod    enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null"`
	Address          string              `gorm:"column:address;type:text;not null"`
	Pickup           *types.GeoPoint     `gorm:"column:pickup;type:jsonb;serializer:json"`
	Dropoff          *types.GeoPoint     `gorm:"column:dropoff;type:jsonb;serializer:json"`
	Currency         string              `gorm:"column:currency;not null"`
	Subtotal         decimal.Decimal     `gorm:"column:subtotal;type:numeric(14,2);not null"`
	Tax              decimal.Decimal     `gorm:"column:tax;type:numeric(14,2);not null"`
	Total            decimal.Decimal     `gorm:"column:total;type:numeric(14,2);not null"`
	ConfirmationCode string              `gorm:"column:confirmation_code;type:char(6);not null"`
	Items            []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:RESTRICT"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
	CompletedAt      *time.Time          `gorm:"column:completed_at"`
}

// OrderItem is a point-in-time snapshot of a purchased product.
type OrderItem struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID       `gorm:"column:order_id;type:uuid;not null"`
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	SellerID  uuid.UUID       `gorm:"column:seller_id;type:uuid;not null"`
	Title     string          `gorm:"column:title;type:text;not null"`
	Image     string          `gorm:"column:image;type:text"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(14,2);not null"`
	Quantity  int             `gorm:"column:quantity;not null"`
}

// SellerIDs returns the distinct sellers in item order.
func (o Order) SellerIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(o.Items))
	out := make([]uuid.UUID, 0, len(o.Items))
	for _, item := range o.Items {
		if _, ok := seen[item.SellerID]; ok {
			continue
		}
		seen[item.SellerID] = struct{}{}
		out = append(out, item.SellerID)
	}
	return out
}
