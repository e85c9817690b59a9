package scanning

import (
	"context"

	"github.com/shopspring/decimal"
)

// UnknownStore is the store name used when nothing on the receipt qualifies
const UnknownStore = "Unknown Store"

// dateLayout is the ISO calendar date format used for purchase dates
const dateLayout = "2006-01-02"

// ItemDraft is a single line item extracted from receipt text
type ItemDraft struct {
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

// Draft is the structured result of extracting a receipt's text.
// Every field is always populated; Items is never nil.
type Draft struct {
	StoreName    string          `json:"storeName"`
	PurchaseDate string          `json:"purchaseDate"` // YYYY-MM-DD
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	Items        []ItemDraft     `json:"items"`
}

// Scanner turns raw receipt text into a Draft
type Scanner interface {
	// Extract never fails; degraded input yields a defaulted Draft
	Extract(ctx context.Context, text string) Draft
}

// newDraft returns a Draft holding only defaults
func newDraft(today string) Draft {
	return Draft{
		StoreName:    UnknownStore,
		PurchaseDate: today,
		TotalAmount:  decimal.Zero,
		Items:        []ItemDraft{},
	}
}
