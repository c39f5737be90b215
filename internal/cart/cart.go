package cart

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	"github.com/angelmondragon/campusmart-backend/pkg/types"
)

// Op is one queued cart mutation. Seq is assigned by the queue and is strictly increasing per user;
// a zero Seq marks an op that was written straight to the store without queueing.
type Op struct {
	Seq       int64            `json:"seq"`
	Kind      enums.CartOpKind `json:"kind"`
	Line      *types.CartLine  `json:"line,omitempty"`
	ProductID uuid.UUID        `json:"product_id,omitempty"`
	Quantity  int              `json:"quantity,omitempty"`
	Value     bool             `json:"value,omitempty"`
	At        time.Time        `json:"at"`
}

// Cart is the in-memory form of a cart document.
type Cart struct {
	UserID     uuid.UUID
	Lines      []types.CartLine
	Version    int64
	AppliedSeq int64
}

// FromDocument copies a stored document into a Cart.
func FromDocument(doc *models.CartDocument) *Cart {
	lines := make([]types.CartLine, len(doc.Lines))
	copy(lines, doc.Lines)
	return &Cart{UserID: doc.UserID, Lines: lines, Version: doc.Version, AppliedSeq: doc.AppliedSeq}
}

// Document converts the cart back into its stored form.
func (c *Cart) Document() *models.CartDocument {
	lines := make([]types.CartLine, len(c.Lines))
	copy(lines, c.Lines)
	return &models.CartDocument{UserID: c.UserID, Lines: lines, Version: c.Version, AppliedSeq: c.AppliedSeq}
}

// Apply folds op into the cart. It reports false when op was already folded.
func (c *Cart) Apply(op Op) bool {
	if op.Seq != 0 && op.Seq <= c.AppliedSeq {
		return false
	}
	switch op.Kind {
	case enums.CartOpAdd:
		if op.Line != nil {
			c.Add(*op.Line, op.Quantity)
		}
	case enums.CartOpRemove:
		c.Remove(op.ProductID)
	case enums.CartOpSetQuantity:
		c.SetQuantity(op.ProductID, op.Quantity)
	case enums.CartOpClear:
		c.Clear()
	case enums.CartOpToggle:
		c.Toggle(op.ProductID)
	case enums.CartOpToggleAll:
		c.ToggleAll(op.Value)
	}
	if op.Seq > c.AppliedSeq {
		c.AppliedSeq = op.Seq
	}
	return true
}

// Add increments an existing line or appends a new selected one. Quantities below 1 count as 1.
func (c *Cart) Add(line types.CartLine, quantity int) {
	if quantity < 1 {
		quantity = 1
	}
	if idx := c.index(line.ProductID); idx >= 0 {
		c.Lines[idx].Quantity += quantity
		return
	}
	line.Quantity = quantity
	line.Selected = true
	c.Lines = append(c.Lines, line)
}

// Remove drops the line for productID; absent ids are ignored.
func (c *Cart) Remove(productID uuid.UUID) {
	idx := c.index(productID)
	if idx < 0 {
		return
	}
	c.Lines = append(c.Lines[:idx], c.Lines[idx+1:]...)
}

// SetQuantity overwrites a line's quantity, clamped to at least 1.
func (c *Cart) SetQuantity(productID uuid.UUID, quantity int) {
	idx := c.index(productID)
	if idx < 0 {
		return
	}
	if quantity < 1 {
		quantity = 1
	}
	c.Lines[idx].Quantity = quantity
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.Lines = []types.CartLine{}
}

// Toggle flips the selected flag of one line.
func (c *Cart) Toggle(productID uuid.UUID) {
	if idx := c.index(productID); idx >= 0 {
		c.Lines[idx].Selected = !c.Lines[idx].Selected
	}
}

// ToggleAll sets every line's selected flag to value.
func (c *Cart) ToggleAll(value bool) {
	for i := range c.Lines {
		c.Lines[i].Selected = value
	}
}

// Total sums every line regardless of selection.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.Lines {
		total = total.Add(line.LineTotal())
	}
	return total
}

// SelectedSubtotal sums only the selected lines.
func (c *Cart) SelectedSubtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.Lines {
		if line.Selected {
			total = total.Add(line.LineTotal())
		}
	}
	return total
}

// SelectedLines returns copies of the selected lines in cart order.
func (c *Cart) SelectedLines() []types.CartLine {
	out := make([]types.CartLine, 0, len(c.Lines))
	for _, line := range c.Lines {
		if line.Selected {
			out = append(out, line)
		}
	}
	return out
}

// RemoveSelected drops the selected lines and keeps the rest.
func (c *Cart) RemoveSelected() {
	kept := make([]types.CartLine, 0, len(c.Lines))
	for _, line := range c.Lines {
		if !line.Selected {
			kept = append(kept, line)
		}
	}
	c.Lines = kept
}

func (c *Cart) index(productID uuid.UUID) int {
	for i, line := range c.Lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}
