package helpers

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/campusmart-backend/pkg/types"
)

// SellerGroup is one seller's share of a checkout.
type SellerGroup struct {
	SellerID  uuid.UUID
	Lines     []types.CartLine
	Subtotal  decimal.Decimal
	ItemCount int
}

// GroupLinesBySeller partitions lines by seller, keeping first-seen seller order.
func GroupLinesBySeller(lines []types.CartLine) []SellerGroup {
	index := make(map[uuid.UUID]int, len(lines))
	groups := make([]SellerGroup, 0, len(lines))
	for _, line := range lines {
		i, ok := index[line.SellerID]
		if !ok {
			i = len(groups)
			index[line.SellerID] = i
			groups = append(groups, SellerGroup{SellerID: line.SellerID, Subtotal: decimal.Zero})
		}
		group := &groups[i]
		group.Lines = append(group.Lines, line)
		group.Subtotal = group.Subtotal.Add(line.LineTotal())
		group.ItemCount += line.Quantity
	}
	return groups
}
