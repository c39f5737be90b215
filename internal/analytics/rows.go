// Package analytics maps committed sales onto the BigQuery sales table.
package analytics

import (
	"math/big"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/payloads"
)

// SaleRow is one purchased line as stored in BigQuery.
type SaleRow struct {
	EventID     string    `bigquery:"event_id"`
	OrderID     string    `bigquery:"order_id"`
	OrderNumber int64     `bigquery:"order_number"`
	Source      string    `bigquery:"source"`
	BuyerID     string    `bigquery:"buyer_id"`
	SellerID    string    `bigquery:"seller_id"`
	ProductID   string    `bigquery:"product_id"`
	Title       string    `bigquery:"title"`
	Quantity    int64     `bigquery:"quantity"`
	UnitPrice   *big.Rat  `bigquery:"unit_price"`
	LineTotal   *big.Rat  `bigquery:"line_total"`
	OccurredAt  time.Time `bigquery:"occurred_at"`
}

// SaleRows builds one row per sale record. Each row carries an insert id derived from the
// event and sale so a redelivered event does not double count.
func SaleRows(eventID string, occurredAt time.Time, order payloads.OrderCreatedEvent, sales []models.SaleRecord) []any {
	rows := make([]any, 0, len(sales))
	for _, sale := range sales {
		row := &SaleRow{
			EventID:     eventID,
			OrderID:     order.OrderID.String(),
			OrderNumber: order.OrderNumber,
			Source:      string(order.Source),
			BuyerID:     sale.BuyerID.String(),
			SellerID:    sale.SellerID.String(),
			ProductID:   sale.ProductID.String(),
			Title:       sale.Title,
			Quantity:    int64(sale.Quantity),
			UnitPrice:   sale.UnitPrice.Rat(),
			LineTotal:   sale.LineTotal.Rat(),
			OccurredAt:  occurredAt.UTC(),
		}
		rows = append(rows, &cbigquery.StructSaver{Struct: row, InsertID: eventID + ":" + sale.ID.String()})
	}
	return rows
}
