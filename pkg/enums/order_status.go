package enums

import "fmt"

// OrderStatus is the linear delivery lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "pending"
	OrderStatusRiderAssigned OrderStatus = "rider_assigned"
	OrderStatusInTransit     OrderStatus = "in_transit"
	OrderStatusDelivered     OrderStatus = "delivered"
	OrderStatusCompleted     OrderStatus = "completed"
)

// validOrderStatuses is ordered; the slice index is the lifecycle rank.
var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusRiderAssigned,
	OrderStatusInTransit,
	OrderStatusDelivered,
	OrderStatusCompleted,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	return s.Rank() >= 0
}

// Rank returns the position of the status in the lifecycle, or -1 when unknown.
func (s OrderStatus) Rank() int {
	for i, candidate := range validOrderStatuses {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Next returns the status immediately after s. ok is false for completed or unknown values.
func (s OrderStatus) Next() (OrderStatus, bool) {
	rank := s.Rank()
	if rank < 0 || rank+1 >= len(validOrderStatuses) {
		return "", false
	}
	return validOrderStatuses[rank+1], true
}

// IsTerminal reports whether no further transitions exist.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
