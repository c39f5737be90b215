package types

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartLine is one product entry inside a buyer's cart document.
type CartLine struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Image     string          `json:"image,omitempty"`
	Quantity  int             `json:"quantity"`
	SellerID  uuid.UUID       `json:"seller_id"`
	Selected  bool            `json:"selected"`
}

// centPlaces is the precision stored for money columns.
const centPlaces = 2

// WholeCents reports whether the unit price fits the stored precision without rounding.
func (l CartLine) WholeCents() bool {
	return l.UnitPrice.Equal(l.UnitPrice.Truncate(centPlaces))
}

// LineTotal is unit price times quantity.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}
