package models

import (
	"testing"

	"github.com/google/uuid"
)

func TestOrderSellerIDsDistinctInOrder(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	order := Order{Items: []OrderItem{{SellerID: a}, {SellerID: b}, {SellerID: a}}}

	got := order.SellerIDs()
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("unexpected sellers %v", got)
	}
}
