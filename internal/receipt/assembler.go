package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/receiptrecipe/receipts/internal/scanning"
)

// IDGenerator generates unique IDs for receipts and items
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// TextAcquirer reads raw text from a stored upload. It never fails.
type TextAcquirer interface {
	Acquire(ctx context.Context, handle string) string
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// DefaultStorageTimeout bounds a single storage write or cleanup delete
const DefaultStorageTimeout = 30 * time.Second

var safeExtension = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)

// fileExtension returns the upload's lowercased extension, or "" when it is
// missing or contains anything but letters and digits
func fileExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if !safeExtension.MatchString(ext) {
		return ""
	}
	return ext
}

// Assembler builds a complete, unsaved Receipt from an upload:
// store bytes, read text, extract a draft, map it onto the model.
type Assembler struct {
	storage        Storage
	acquirer       TextAcquirer
	scanner        scanning.Scanner
	idGenerator    IDGenerator
	timeSource     TimeSource
	storageTimeout time.Duration
}

// NewAssembler creates a new Assembler
func NewAssembler(storage Storage, acquirer TextAcquirer, scanner scanning.Scanner, idGen IDGenerator, timeSrc TimeSource) *Assembler {
	return &Assembler{
		storage:        storage,
		acquirer:       acquirer,
		scanner:        scanner,
		idGenerator:    idGen,
		timeSource:     timeSrc,
		storageTimeout: DefaultStorageTimeout,
	}
}

// SetStorageTimeout changes the bound on storage writes and cleanup deletes.
// Non-positive values keep the current timeout.
func (a *Assembler) SetStorageTimeout(d time.Duration) {
	if d > 0 {
		a.storageTimeout = d
	}
}

// Assemble stores the upload and returns the receipt read from it. The only
// error is a storage failure or cancellation; degraded OCR or extraction
// still yields a fully defaulted receipt.
func (a *Assembler) Assemble(ctx context.Context, filename string, data []byte, contentType, ownerID string) (*Receipt, error) {
	id := a.idGenerator.Generate()
	now := a.timeSource.Now()

	name := fmt.Sprintf("%d_%s%s", now.UnixMilli(), id, fileExtension(filename))
	handle, err := a.save(ctx, name, data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	text := a.acquirer.Acquire(ctx, handle)
	if scanning.IsPlaceholder(text) {
		if uploaded, ok := textFromUpload(data); ok {
			slog.Info("Using uploaded file contents as receipt text", "receipt_id", id, "bytes", len(data))
			text = uploaded
		}
	}

	draft := a.scanner.Extract(ctx, text)

	if err := ctx.Err(); err != nil {
		a.discard(handle)
		return nil, fmt.Errorf("assembling receipt: %w", err)
	}

	receipt := &Receipt{
		ID:          id,
		OwnerID:     ownerID,
		ImageHandle: handle,
		ContentType: contentType,
		RawOCRText:  text,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.applyDraft(receipt, draft, now); err != nil {
		a.discard(handle)
		return nil, err
	}
	return receipt, nil
}

// Reprocess re-extracts an existing receipt from its recorded raw text and
// replaces its header fields, items and audit draft
func (a *Assembler) Reprocess(ctx context.Context, receipt *Receipt) error {
	if strings.TrimSpace(receipt.RawOCRText) == "" {
		return fmt.Errorf("%w: %s", ErrNoRawText, receipt.ID)
	}

	draft := a.scanner.Extract(ctx, receipt.RawOCRText)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("reprocessing receipt: %w", err)
	}

	now := a.timeSource.Now()
	if err := a.applyDraft(receipt, draft, now); err != nil {
		return err
	}
	receipt.UpdatedAt = now
	return nil
}

// applyDraft maps draft onto receipt, replacing its items
func (a *Assembler) applyDraft(receipt *Receipt, draft scanning.Draft, now time.Time) error {
	processed, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("serializing draft: %w", err)
	}

	purchaseDate, err := time.Parse("2006-01-02", draft.PurchaseDate)
	if err != nil {
		purchaseDate = now
	}

	items := make([]ReceiptItem, 0, len(draft.Items))
	for _, d := range draft.Items {
		items = append(items, ReceiptItem{
			ID:         a.idGenerator.Generate(),
			ReceiptID:  receipt.ID,
			Name:       d.Name,
			Quantity:   d.Quantity,
			UnitPrice:  d.UnitPrice,
			TotalPrice: d.TotalPrice,
		})
	}

	receipt.StoreName = draft.StoreName
	receipt.PurchaseDate = purchaseDate
	receipt.TotalAmount = draft.TotalAmount
	receipt.Items = items
	receipt.ProcessedData = string(processed)
	return nil
}

func (a *Assembler) save(ctx context.Context, name string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.storageTimeout)
	defer cancel()
	return a.storage.Save(ctx, name, data)
}

// discard removes a stored upload that will never be referenced. It runs
// detached from the caller's context, which may already be cancelled.
func (a *Assembler) discard(handle string) {
	ctx, cancel := context.WithTimeout(context.Background(), a.storageTimeout)
	defer cancel()
	if err := a.storage.Delete(ctx, handle); err != nil {
		slog.Warn("Failed to delete file", "filename", handle, "error", err)
	}
}

// textFromUpload accepts the upload itself as receipt text when it is plain UTF-8
func textFromUpload(data []byte) (string, bool) {
	if !utf8.Valid(data) || strings.ContainsRune(string(data), 0) {
		return "", false
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", false
	}
	return text, true
}
