package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	"github.com/angelmondragon/campusmart-backend/pkg/types"
)

// Viewer is the authenticated caller reading an order.
type Viewer struct {
	UserID uuid.UUID
	Role   enums.Role
}

// OrderItemDTO is one purchased product on a receipt.
type OrderItemDTO struct {
	ProductID uuid.UUID       `json:"product_id"`
	SellerID  uuid.UUID       `json:"seller_id"`
	Title     string          `json:"title"`
	Image     string          `json:"image,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// OrderSummary is the row shown in the buyer's order list.
type OrderSummary struct {
	ID          uuid.UUID         `json:"id"`
	OrderNumber int64             `json:"order_number"`
	Status      enums.OrderStatus `json:"status"`
	StatusIndex int               `json:"status_index"`
	Total       decimal.Decimal   `json:"total"`
	TotalItems  int               `json:"total_items"`
	CreatedAt   time.Time         `json:"created_at"`
}

// OrderList wraps a page of summaries plus the next page cursor.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// OrderDetail is the full receipt. ConfirmationCode is only filled for the buyer.
type OrderDetail struct {
	ID               uuid.UUID           `json:"id"`
	OrderNumber      int64               `json:"order_number"`
	BuyerID          uuid.UUID           `json:"buyer_id"`
	Source           enums.OrderSource   `json:"source"`
	Status           enums.OrderStatus   `json:"status"`
	StatusIndex      int                 `json:"status_index"`
	PaymentMethod    enums.PaymentMethod `json:"payment_method"`
	Address          string              `json:"address"`
	Pickup           *types.GeoPoint     `json:"pickup,omitempty"`
	Dropoff          *types.GeoPoint     `json:"dropoff,omitempty"`
	Currency         string              `json:"currency"`
	Subtotal         decimal.Decimal     `json:"subtotal"`
	Tax              decimal.Decimal     `json:"tax"`
	Total            decimal.Decimal     `json:"total"`
	ConfirmationCode string              `json:"confirmation_code,omitempty"`
	Items            []OrderItemDTO      `json:"items"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
}

// StatusUpdate is one event on an order's live status stream.
type StatusUpdate struct {
	OrderID   uuid.UUID         `json:"order_id"`
	Status    enums.OrderStatus `json:"status"`
	Index     int               `json:"index"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewStatusUpdate snapshots the order's current status.
func NewStatusUpdate(order *models.Order) StatusUpdate {
	return StatusUpdate{
		OrderID:   order.ID,
		Status:    order.Status,
		Index:     order.Status.Rank(),
		UpdatedAt: order.UpdatedAt,
	}
}

func toSummary(order models.Order) OrderSummary {
	items := 0
	for _, item := range order.Items {
		items += item.Quantity
	}
	return OrderSummary{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		StatusIndex: order.Status.Rank(),
		Total:       order.Total,
		TotalItems:  items,
		CreatedAt:   order.CreatedAt,
	}
}

// ToDetail maps an order to its receipt view. includeCode controls whether the handoff code is exposed.
func ToDetail(order *models.Order, includeCode bool) *OrderDetail {
	detail := &OrderDetail{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		BuyerID:       order.BuyerID,
		Source:        order.Source,
		Status:        order.Status,
		StatusIndex:   order.Status.Rank(),
		PaymentMethod: order.PaymentMethod,
		Address:       order.Address,
		Pickup:        order.Pickup,
		Dropoff:       order.Dropoff,
		Currency:      order.Currency,
		Subtotal:      order.Subtotal,
		Tax:           order.Tax,
		Total:         order.Total,
		Items:         make([]OrderItemDTO, 0, len(order.Items)),
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
		CompletedAt:   order.CompletedAt,
	}
	if includeCode {
		detail.ConfirmationCode = order.ConfirmationCode
	}
	for _, item := range order.Items {
		detail.Items = append(detail.Items, OrderItemDTO{
			ProductID: item.ProductID,
			SellerID:  item.SellerID,
			Title:     item.Title,
			Image:     item.Image,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	return detail
}
