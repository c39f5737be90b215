package enums

// DispatchStatus mirrors the logistics side of an order.
type DispatchStatus string

const (
	DispatchStatusAwaitingRider DispatchStatus = "awaiting_rider"
	DispatchStatusAssigned      DispatchStatus = "assigned"
	DispatchStatusPickedUp      DispatchStatus = "picked_up"
	DispatchStatusDropped       DispatchStatus = "dropped"
)

// DispatchStatusFor maps an order status onto the dispatch record status.
func DispatchStatusFor(status OrderStatus) DispatchStatus {
	switch status {
	case OrderStatusRiderAssigned:
		return DispatchStatusAssigned
	case OrderStatusInTransit:
		return DispatchStatusPickedUp
	case OrderStatusDelivered, OrderStatusCompleted:
		return DispatchStatusDropped
	default:
		return DispatchStatusAwaitingRider
	}
}
