package receipt

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned for unknown receipts and receipts owned by someone else
	ErrNotFound = errors.New("receipt not found")

	// ErrNoRawText is returned when re-processing a receipt without recorded OCR text
	ErrNoRawText = errors.New("receipt has no raw OCR text")

	// ErrInvalidInput is returned when an update request fails validation
	ErrInvalidInput = errors.New("invalid input")
)

// Receipt is an ingested receipt and its line items
type Receipt struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	StoreName     string          `json:"store_name"`
	PurchaseDate  time.Time       `json:"purchase_date"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	ImageHandle   string          `json:"image_handle"`
	ContentType   string          `json:"content_type"`
	RawOCRText    string          `json:"raw_ocr_text"`
	ProcessedData string          `json:"processed_data"` // serialized scanning.Draft
	Items         []ReceiptItem   `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ReceiptItem is a line item owned by exactly one Receipt
type ReceiptItem struct {
	ID           string          `json:"id"`
	ReceiptID    string          `json:"receipt_id"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	IsIngredient bool            `json:"is_ingredient"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
}

// ListFilter narrows and pages an owner's receipts
type ListFilter struct {
	StoreName  string // case-insensitive substring
	SearchTerm string // used when StoreName is empty
	Page       int    // zero-based
	Size       int    // 0 means no paging
}

// Page is one page of an owner's receipts, newest first
type Page struct {
	Receipts      []*Receipt `json:"content"`
	TotalElements int        `json:"total_elements"`
	TotalPages    int        `json:"total_pages"`
	Size          int        `json:"size"`
	Number        int        `json:"number"`
}

// ExpiringIngredient is a read-only view of an ingredient item nearing expiry
type ExpiringIngredient struct {
	ReceiptID  string    `json:"receipt_id"`
	ItemID     string    `json:"item_id"`
	Name       string    `json:"name"`
	StoreName  string    `json:"store_name"`
	ExpiryDate time.Time `json:"expiry_date"`
	DaysLeft   int       `json:"days_left"`
}

// ReceiptUpdate is a partial update of a receipt's header fields
type ReceiptUpdate struct {
	StoreName    *string          `validate:"omitempty,min=1,max=255"`
	PurchaseDate *time.Time       `validate:"omitempty"`
	TotalAmount  *decimal.Decimal `validate:"-"`
}

// ItemUpdate is a partial update of a single line item
type ItemUpdate struct {
	Name         *string    `validate:"omitempty,min=1,max=255"`
	Quantity     *int       `validate:"omitempty,min=1"`
	IsIngredient *bool      `validate:"omitempty"`
	ExpiryDate   *time.Time `validate:"omitempty"`
}
