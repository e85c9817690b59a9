package receipt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// sqlTimeLayout is fixed width so stored timestamps sort lexically
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS receipts (
		id             TEXT PRIMARY KEY,
		owner_id       TEXT NOT NULL,
		store_name     TEXT NOT NULL,
		purchase_date  TEXT NOT NULL,
		total_amount   TEXT NOT NULL,
		image_handle   TEXT NOT NULL,
		content_type   TEXT NOT NULL DEFAULT '',
		raw_ocr_text   TEXT NOT NULL DEFAULT '',
		processed_data TEXT NOT NULL DEFAULT '',
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_receipts_owner ON receipts (owner_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS receipt_items (
		id            TEXT PRIMARY KEY,
		receipt_id    TEXT NOT NULL REFERENCES receipts (id) ON DELETE CASCADE,
		position      INTEGER NOT NULL,
		name          TEXT NOT NULL,
		quantity      INTEGER NOT NULL,
		unit_price    TEXT NOT NULL,
		total_price   TEXT NOT NULL,
		is_ingredient INTEGER NOT NULL DEFAULT 0,
		expiry_date   TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_receipt_items_receipt ON receipt_items (receipt_id, position)`,
}

// SQLiteDB implements the DB interface on SQLite, with items in their own
// table cascade-deleted with the receipt
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (and migrates) a SQLite database at path
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating sqlite: %w", err)
		}
	}

	return &SQLiteDB{db: db}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqlTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(sqlTimeLayout, s)
}

// SaveReceipt upserts the receipt row and replaces its item rows
func (s *SQLiteDB) SaveReceipt(ctx context.Context, receipt *Receipt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO receipts (id, owner_id, store_name, purchase_date, total_amount, image_handle,
			content_type, raw_ocr_text, processed_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			store_name = excluded.store_name,
			purchase_date = excluded.purchase_date,
			total_amount = excluded.total_amount,
			image_handle = excluded.image_handle,
			content_type = excluded.content_type,
			raw_ocr_text = excluded.raw_ocr_text,
			processed_data = excluded.processed_data,
			updated_at = excluded.updated_at`,
		receipt.ID, receipt.OwnerID, receipt.StoreName, formatTime(receipt.PurchaseDate),
		receipt.TotalAmount.String(), receipt.ImageHandle, receipt.ContentType,
		receipt.RawOCRText, receipt.ProcessedData,
		formatTime(receipt.CreatedAt), formatTime(receipt.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving receipt: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM receipt_items WHERE receipt_id = ?`, receipt.ID); err != nil {
		return fmt.Errorf("clearing receipt items: %w", err)
	}

	for i, item := range receipt.Items {
		var expiry sql.NullString
		if item.ExpiryDate != nil {
			expiry = sql.NullString{String: formatTime(*item.ExpiryDate), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO receipt_items (id, receipt_id, position, name, quantity, unit_price,
				total_price, is_ingredient, expiry_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, receipt.ID, i, item.Name, item.Quantity, item.UnitPrice.String(),
			item.TotalPrice.String(), item.IsIngredient, expiry,
		)
		if err != nil {
			return fmt.Errorf("saving receipt item %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing receipt: %w", err)
	}
	return nil
}

const receiptColumns = `id, owner_id, store_name, purchase_date, total_amount, image_handle,
	content_type, raw_ocr_text, processed_data, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*Receipt, error) {
	var (
		r                                 Receipt
		purchase, total, created, updated string
	)
	err := row.Scan(&r.ID, &r.OwnerID, &r.StoreName, &purchase, &total, &r.ImageHandle,
		&r.ContentType, &r.RawOCRText, &r.ProcessedData, &created, &updated)
	if err != nil {
		return nil, err
	}
	if r.PurchaseDate, err = parseTime(purchase); err != nil {
		return nil, fmt.Errorf("parsing purchase date: %w", err)
	}
	if r.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parsing total amount: %w", err)
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	r.Items = []ReceiptItem{}
	return &r, nil
}

func scanItem(row rowScanner) (ReceiptItem, error) {
	var (
		item         ReceiptItem
		unit, total  string
		isIngredient bool
		expiry       sql.NullString
	)
	err := row.Scan(&item.ID, &item.ReceiptID, &item.Name, &item.Quantity, &unit, &total, &isIngredient, &expiry)
	if err != nil {
		return ReceiptItem{}, err
	}
	item.IsIngredient = isIngredient
	if item.UnitPrice, err = decimal.NewFromString(unit); err != nil {
		return ReceiptItem{}, fmt.Errorf("parsing unit price: %w", err)
	}
	if item.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return ReceiptItem{}, fmt.Errorf("parsing total price: %w", err)
	}
	if expiry.Valid {
		t, err := parseTime(expiry.String)
		if err != nil {
			return ReceiptItem{}, fmt.Errorf("parsing expiry date: %w", err)
		}
		item.ExpiryDate = &t
	}
	return item, nil
}

// GetReceipt retrieves a receipt and its items by ID and owner
func (s *SQLiteDB) GetReceipt(ctx context.Context, id, ownerID string) (*Receipt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE id = ? AND owner_id = ?`, id, ownerID)
	receipt, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, receipt_id, name, quantity, unit_price, total_price, is_ingredient, expiry_date
		FROM receipt_items WHERE receipt_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning receipt item: %w", err)
		}
		receipt.Items = append(receipt.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("getting receipt items: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns the owner's receipts with their items, newest first
func (s *SQLiteDB) ListReceipts(ctx context.Context, ownerID string) ([]*Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE owner_id = ? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]*Receipt, 0)
	byID := make(map[string]*Receipt)
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning receipt: %w", err)
		}
		receipts = append(receipts, r)
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.receipt_id, i.name, i.quantity, i.unit_price, i.total_price, i.is_ingredient, i.expiry_date
		FROM receipt_items i JOIN receipts r ON r.id = i.receipt_id
		WHERE r.owner_id = ? ORDER BY i.receipt_id, i.position`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing receipt items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		item, err := scanItem(itemRows)
		if err != nil {
			return nil, fmt.Errorf("scanning receipt item: %w", err)
		}
		if r, ok := byID[item.ReceiptID]; ok {
			r.Items = append(r.Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("listing receipt items: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes the receipt row; the foreign key cascades to items
func (s *SQLiteDB) DeleteReceipt(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM receipts WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting receipt: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// StoreNames returns the owner's distinct store names, sorted
func (s *SQLiteDB) StoreNames(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT store_name FROM receipts WHERE owner_id = ? ORDER BY store_name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing store names: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning store name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
