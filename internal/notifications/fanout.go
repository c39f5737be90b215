package notifications

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
)

// ForNewOrder builds one new_order notification per distinct seller, in item order.
func ForNewOrder(order *models.Order) []models.Notification {
	counts := make(map[uuid.UUID]int)
	for _, item := range order.Items {
		counts[item.SellerID] += item.Quantity
	}
	orderID := order.ID
	link := orderLink(order.ID)
	out := make([]models.Notification, 0, len(counts))
	for _, sellerID := range order.SellerIDs() {
		out = append(out, models.Notification{
			RecipientID: sellerID,
			OrderID:     &orderID,
			Type:        enums.NotificationTypeNewOrder,
			Title:       "New order received",
			Message:     fmt.Sprintf("Order #%d includes %d of your item(s).", order.OrderNumber, counts[sellerID]),
			Link:        &link,
		})
	}
	return out
}

func orderLink(orderID uuid.UUID) string {
	return fmt.Sprintf("/orders/%s", orderID)
}
