package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/campusmart-backend/pkg/enums"
)

// OrderCreatedEvent is emitted once the checkout transaction commits.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber int64             `json:"order_number"`
	BuyerID     uuid.UUID         `json:"buyer_id"`
	SellerIDs   []uuid.UUID       `json:"seller_ids"`
	Source      enums.OrderSource `json:"source"`
	Subtotal    decimal.Decimal   `json:"subtotal"`
	Tax         decimal.Decimal   `json:"tax"`
	Total       decimal.Decimal   `json:"total"`
	ItemCount   int               `json:"item_count"`
}

// OrderStatusChangedEvent records a forward move in the delivery lifecycle.
type OrderStatusChangedEvent struct {
	OrderID   uuid.UUID         `json:"order_id"`
	BuyerID   uuid.UUID         `json:"buyer_id"`
	SellerIDs []uuid.UUID       `json:"seller_ids"`
	From      enums.OrderStatus `json:"from"`
	To        enums.OrderStatus `json:"to"`
	ChangedAt time.Time         `json:"changed_at"`
}

// SellerPayout is one seller's released share of an order.
type SellerPayout struct {
	SellerID uuid.UUID       `json:"seller_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// FundsReleasedEvent is emitted when escrow for an order is paid out to its sellers.
type FundsReleasedEvent struct {
	OrderID uuid.UUID      `json:"order_id"`
	Payouts []SellerPayout `json:"payouts"`
}
