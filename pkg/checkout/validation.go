package checkout

import (
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/types"
)

// LineViolation describes a line that cannot be purchased as submitted.
type LineViolation struct {
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name,omitempty"`
	Reason    string    `json:"reason"`
}

// ValidateLines rejects empty selections and lines with a non-positive quantity,
// a negative price or a missing seller.
func ValidateLines(lines []types.CartLine) error {
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "no items selected for checkout")
	}
	var violations []LineViolation
	for _, line := range lines {
		reason := ""
		switch {
		case line.ProductID == uuid.Nil:
			reason = "product id required"
		case line.SellerID == uuid.Nil:
			reason = "seller id required"
		case line.Quantity < 1:
			reason = "quantity must be at least 1"
		case line.UnitPrice.IsNegative():
			reason = "unit price must not be negative"
		case !line.WholeCents():
			reason = "unit price has sub-cent precision"
		}
		if reason != "" {
			violations = append(violations, LineViolation{ProductID: line.ProductID, Name: line.Name, Reason: reason})
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%d item(s) cannot be checked out", len(violations))).WithDetails(map[string]any{
		"violations": violations,
	})
}
