package enums

import "fmt"

// OrderSource records whether an order came from the cart or a single buy-now item.
type OrderSource string

const (
	OrderSourceCart   OrderSource = "cart"
	OrderSourceBuyNow OrderSource = "buy_now"
)

var validOrderSources = []OrderSource{OrderSourceCart, OrderSourceBuyNow}

// IsValid reports whether the value is a known OrderSource.
func (o OrderSource) IsValid() bool {
	for _, candidate := range validOrderSources {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOrderSource converts raw input into an OrderSource.
func ParseOrderSource(value string) (OrderSource, error) {
	for _, candidate := range validOrderSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order source %q", value)
}
