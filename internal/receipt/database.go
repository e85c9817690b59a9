package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "receipts"

// DB defines the interface for receipt persistence. Items are stored and
// removed together with their receipt.
type DB interface {
	// SaveReceipt inserts or replaces a receipt and all of its items
	SaveReceipt(ctx context.Context, receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID; other owners' receipts are not found
	GetReceipt(ctx context.Context, id, ownerID string) (*Receipt, error)

	// ListReceipts returns the owner's receipts, newest first
	ListReceipts(ctx context.Context, ownerID string) ([]*Receipt, error)

	// DeleteReceipt removes a receipt and its items
	DeleteReceipt(ctx context.Context, id, ownerID string) error

	// StoreNames returns the owner's distinct store names, sorted
	StoreNames(ctx context.Context, ownerID string) ([]string, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveReceipt saves a receipt to the database
func (b *BoltDB) SaveReceipt(_ context.Context, receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		return bucket.Put([]byte(receipt.ID), data)
	})
}

// getOwned loads a receipt inside tx, hiding other owners' receipts
func getOwned(tx *bbolt.Tx, id, ownerID string) (*Receipt, error) {
	data := tx.Bucket([]byte(bucketName)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt: %w", err)
	}
	if receipt.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &receipt, nil
}

// GetReceipt retrieves a receipt by ID and owner
func (b *BoltDB) GetReceipt(_ context.Context, id, ownerID string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		receipt, err = getOwned(tx, id, ownerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all of the owner's receipts, newest first
func (b *BoltDB) ListReceipts(_ context.Context, ownerID string) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			if receipt.OwnerID == ownerID {
				receipts = append(receipts, &receipt)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(receipts)
	return receipts, nil
}

// DeleteReceipt removes a receipt, and with it its items, from the database
func (b *BoltDB) DeleteReceipt(_ context.Context, id, ownerID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getOwned(tx, id, ownerID); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketName)).Delete([]byte(id))
	})
}

// StoreNames returns the distinct store names on the owner's receipts
func (b *BoltDB) StoreNames(ctx context.Context, ownerID string) ([]string, error) {
	receipts, err := b.ListReceipts(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	names := make([]string, 0)
	for _, r := range receipts {
		if !seen[r.StoreName] {
			seen[r.StoreName] = true
			names = append(names, r.StoreName)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// sortNewestFirst orders by creation time, newest first, ties broken by ID
func sortNewestFirst(receipts []*Receipt) {
	sort.SliceStable(receipts, func(i, j int) bool {
		if receipts[i].CreatedAt.Equal(receipts[j].CreatedAt) {
			return receipts[i].ID > receipts[j].ID
		}
		return receipts[i].CreatedAt.After(receipts[j].CreatedAt)
	})
}
