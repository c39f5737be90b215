package checkout

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/campusmart-backend/pkg/types"
)

// CurrencyPlaces is the precision money values are rounded to.
const CurrencyPlaces = 2

const (
	codeMin   = 100000
	codeRange = 900000
)

// Quote is the money breakdown frozen onto an order at creation.
type Quote struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Price sums unit price times quantity over lines and applies rate as tax.
func Price(lines []types.CartLine, rate decimal.Decimal) Quote {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.LineTotal())
	}
	subtotal = subtotal.Round(CurrencyPlaces)
	tax := subtotal.Mul(rate).Round(CurrencyPlaces)
	return Quote{Subtotal: subtotal, Tax: tax, Total: subtotal.Add(tax)}
}

// NewConfirmationCode draws a uniform six digit code in [100000, 999999]. A nil source uses crypto/rand.
func NewConfirmationCode(source io.Reader) (string, error) {
	if source == nil {
		source = rand.Reader
	}
	n, err := rand.Int(source, big.NewInt(codeRange))
	if err != nil {
		return "", fmt.Errorf("generate confirmation code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}
