package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/receiptrecipe/receipts/internal/scanning"
)

// DefaultExpiryWindow is the look-ahead, in days, for expiring ingredients
const DefaultExpiryWindow = 7

// Service handles receipt operations
type Service struct {
	db         DB
	storage    Storage
	assembler  *Assembler
	timeSource TimeSource
	validate   *validator.Validate
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage, acquirer TextAcquirer, scanner scanning.Scanner) *Service {
	return NewServiceWithDeps(db, storage, acquirer, scanner, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, acquirer TextAcquirer, scanner scanning.Scanner, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:         db,
		storage:    storage,
		assembler:  NewAssembler(storage, acquirer, scanner, idGen, timeSrc),
		timeSource: timeSrc,
		validate:   validator.New(),
	}
}

// SetStorageTimeout changes the bound on every storage write and delete the
// service makes. Non-positive values keep the current timeout.
func (s *Service) SetStorageTimeout(d time.Duration) {
	s.assembler.SetStorageTimeout(d)
}

// Ingest stores an upload, reads it into a receipt, and saves it
func (s *Service) Ingest(ctx context.Context, ownerID, filename string, data []byte, contentType string) (*Receipt, error) {
	receipt, err := s.assembler.Assemble(ctx, filename, data, contentType, ownerID)
	if err != nil {
		slog.Error("Failed to assemble receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, err
	}

	if err := s.db.SaveReceipt(ctx, receipt); err != nil {
		// Clean up file if database save fails
		s.assembler.discard(receipt.ImageHandle)
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	slog.Info("Ingested receipt",
		"receipt_id", receipt.ID,
		"store", receipt.StoreName,
		"items", len(receipt.Items),
		"total", receipt.TotalAmount.String(),
	)
	return receipt, nil
}

// Reprocess re-runs extraction on a saved receipt's raw text
func (s *Service) Reprocess(ctx context.Context, ownerID, id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(ctx, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	if err := s.assembler.Reprocess(ctx, receipt); err != nil {
		return nil, err
	}

	if err := s.db.SaveReceipt(ctx, receipt); err != nil {
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}
	return receipt, nil
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(ctx context.Context, ownerID, id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(ctx, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns one page of the owner's receipts, newest first
func (s *Service) ListReceipts(ctx context.Context, ownerID string, filter ListFilter) (*Page, error) {
	receipts, err := s.db.ListReceipts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	matched := make([]*Receipt, 0, len(receipts))
	for _, r := range receipts {
		if filter.matches(r) {
			matched = append(matched, r)
		}
	}

	return paginate(matched, filter.Page, filter.Size), nil
}

func (f ListFilter) matches(r *Receipt) bool {
	term := f.StoreName
	if term == "" {
		term = f.SearchTerm
	}
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(r.StoreName), strings.ToLower(term))
}

func paginate(receipts []*Receipt, number, size int) *Page {
	total := len(receipts)
	if size <= 0 {
		pages := 0
		if total > 0 {
			pages = 1
		}
		return &Page{Receipts: receipts, TotalElements: total, TotalPages: pages, Size: total}
	}
	if number < 0 {
		number = 0
	}

	start := number * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	return &Page{
		Receipts:      receipts[start:end],
		TotalElements: total,
		TotalPages:    (total + size - 1) / size,
		Size:          size,
		Number:        number,
	}
}

// UpdateReceipt applies a partial update to a receipt's header fields
func (s *Service) UpdateReceipt(ctx context.Context, ownerID, id string, update ReceiptUpdate) (*Receipt, error) {
	if err := s.validate.Struct(update); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if update.TotalAmount != nil && update.TotalAmount.IsNegative() {
		return nil, fmt.Errorf("%w: total amount must not be negative", ErrInvalidInput)
	}

	receipt, err := s.db.GetReceipt(ctx, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	if update.StoreName != nil {
		receipt.StoreName = *update.StoreName
	}
	if update.PurchaseDate != nil {
		receipt.PurchaseDate = *update.PurchaseDate
	}
	if update.TotalAmount != nil {
		receipt.TotalAmount = *update.TotalAmount
	}
	receipt.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveReceipt(ctx, receipt); err != nil {
		return nil, fmt.Errorf("updating receipt: %w", err)
	}
	return receipt, nil
}

// UpdateItem applies a partial update to one of a receipt's items
func (s *Service) UpdateItem(ctx context.Context, ownerID, receiptID, itemID string, update ItemUpdate) (*ReceiptItem, error) {
	if err := s.validate.Struct(update); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	receipt, err := s.db.GetReceipt(ctx, receiptID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	idx := -1
	for i := range receipt.Items {
		if receipt.Items[i].ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: item %s", ErrNotFound, itemID)
	}

	item := &receipt.Items[idx]
	if update.Name != nil {
		item.Name = *update.Name
	}
	if update.Quantity != nil {
		item.Quantity = *update.Quantity
		item.TotalPrice = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
	}
	if update.IsIngredient != nil {
		item.IsIngredient = *update.IsIngredient
	}
	if update.ExpiryDate != nil {
		item.ExpiryDate = update.ExpiryDate
	}
	receipt.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveReceipt(ctx, receipt); err != nil {
		return nil, fmt.Errorf("updating receipt: %w", err)
	}
	updated := *item
	return &updated, nil
}

// DeleteReceipt removes a receipt, its items, and its file
func (s *Service) DeleteReceipt(ctx context.Context, ownerID, id string) error {
	receipt, err := s.db.GetReceipt(ctx, id, ownerID)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if err := s.db.DeleteReceipt(ctx, id, ownerID); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}

	// The row is gone; a leftover file is only logged
	deleteCtx, cancel := context.WithTimeout(ctx, s.assembler.storageTimeout)
	defer cancel()
	if err := s.storage.Delete(deleteCtx, receipt.ImageHandle); err != nil {
		slog.Warn("Failed to delete file", "filename", receipt.ImageHandle, "error", err)
	}
	return nil
}

// StoreNames returns the distinct store names on the owner's receipts
func (s *Service) StoreNames(ctx context.Context, ownerID string) ([]string, error) {
	names, err := s.db.StoreNames(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing store names: %w", err)
	}
	return names, nil
}

// ExpiringIngredients returns ingredient items expiring within the next days
// days, soonest first. A non-positive days uses DefaultExpiryWindow.
func (s *Service) ExpiringIngredients(ctx context.Context, ownerID string, days int) ([]ExpiringIngredient, error) {
	if days <= 0 {
		days = DefaultExpiryWindow
	}

	receipts, err := s.db.ListReceipts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	today := dateOnly(s.timeSource.Now())
	expiring := make([]ExpiringIngredient, 0)
	for _, r := range receipts {
		for _, item := range r.Items {
			if !item.IsIngredient || item.ExpiryDate == nil {
				continue
			}
			daysLeft := int(dateOnly(*item.ExpiryDate).Sub(today).Hours() / 24)
			if daysLeft < 0 || daysLeft > days {
				continue
			}
			expiring = append(expiring, ExpiringIngredient{
				ReceiptID:  r.ID,
				ItemID:     item.ID,
				Name:       item.Name,
				StoreName:  r.StoreName,
				ExpiryDate: *item.ExpiryDate,
				DaysLeft:   daysLeft,
			})
		}
	}

	sort.SliceStable(expiring, func(i, j int) bool {
		return expiring[i].ExpiryDate.Before(expiring[j].ExpiryDate)
	})
	return expiring, nil
}

// GetReceiptFile retrieves the file data for a receipt
func (s *Service) GetReceiptFile(ctx context.Context, ownerID, id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(ctx, id, ownerID)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}

	data, err := s.storage.Get(ctx, receipt.ImageHandle)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, receipt.ContentType, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
