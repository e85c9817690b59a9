package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/receiptrecipe/receipts/internal/receipt"
)

type options struct {
	contentType  string
	storeFilter  string
	searchTerm   string
	page         int
	pageSize     int
	days         int
	setStore     string
	setDate      string
	setTotal     string
	itemName     string
	itemQuantity int
	ingredient   string
	expiry       string
}

// cli runs one subcommand against the service and prints the result as JSON
type cli struct {
	service *receipt.Service
	owner   string
	out     io.Writer
	opts    options
}

func (c *cli) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "ingest":
		if len(args) != 1 {
			return fmt.Errorf("usage: ingest <file>")
		}
		return c.ingest(ctx, args[0])
	case "reprocess":
		if len(args) != 1 {
			return fmt.Errorf("usage: reprocess <id>")
		}
		r, err := c.service.Reprocess(ctx, c.owner, args[0])
		if err != nil {
			return err
		}
		return c.print(r)
	case "list":
		page, err := c.service.ListReceipts(ctx, c.owner, receipt.ListFilter{
			StoreName:  c.opts.storeFilter,
			SearchTerm: c.opts.searchTerm,
			Page:       c.opts.page,
			Size:       c.opts.pageSize,
		})
		if err != nil {
			return err
		}
		return c.print(page)
	case "show":
		if len(args) != 1 {
			return fmt.Errorf("usage: show <id>")
		}
		r, err := c.service.GetReceipt(ctx, c.owner, args[0])
		if err != nil {
			return err
		}
		return c.print(r)
	case "file":
		if len(args) != 2 {
			return fmt.Errorf("usage: file <id> <dest>")
		}
		data, _, err := c.service.GetReceiptFile(ctx, c.owner, args[0])
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[1], data, 0644); err != nil {
			return fmt.Errorf("writing file: %w", err)
		}
		return nil
	case "update":
		if len(args) != 1 {
			return fmt.Errorf("usage: update <id>")
		}
		return c.update(ctx, args[0])
	case "update-item":
		if len(args) != 2 {
			return fmt.Errorf("usage: update-item <id> <item-id>")
		}
		return c.updateItem(ctx, args[0], args[1])
	case "stores":
		names, err := c.service.StoreNames(ctx, c.owner)
		if err != nil {
			return err
		}
		return c.print(names)
	case "expiring":
		items, err := c.service.ExpiringIngredients(ctx, c.owner, c.opts.days)
		if err != nil {
			return err
		}
		return c.print(items)
	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("usage: delete <id>")
		}
		return c.service.DeleteReceipt(ctx, c.owner, args[0])
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (c *cli) ingest(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading upload: %w", err)
	}

	contentType := c.opts.contentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	r, err := c.service.Ingest(ctx, c.owner, filepath.Base(path), data, contentType)
	if err != nil {
		return err
	}
	return c.print(r)
}

func (c *cli) update(ctx context.Context, id string) error {
	var update receipt.ReceiptUpdate
	if c.opts.setStore != "" {
		update.StoreName = &c.opts.setStore
	}
	if c.opts.setDate != "" {
		date, err := time.Parse("2006-01-02", c.opts.setDate)
		if err != nil {
			return fmt.Errorf("%w: purchase date: %v", receipt.ErrInvalidInput, err)
		}
		update.PurchaseDate = &date
	}
	if c.opts.setTotal != "" {
		total, err := decimal.NewFromString(c.opts.setTotal)
		if err != nil {
			return fmt.Errorf("%w: total amount: %v", receipt.ErrInvalidInput, err)
		}
		update.TotalAmount = &total
	}

	r, err := c.service.UpdateReceipt(ctx, c.owner, id, update)
	if err != nil {
		return err
	}
	return c.print(r)
}

func (c *cli) updateItem(ctx context.Context, id, itemID string) error {
	var update receipt.ItemUpdate
	if c.opts.itemName != "" {
		update.Name = &c.opts.itemName
	}
	if c.opts.itemQuantity != 0 {
		update.Quantity = &c.opts.itemQuantity
	}
	if c.opts.ingredient != "" {
		isIngredient, err := strconv.ParseBool(c.opts.ingredient)
		if err != nil {
			return fmt.Errorf("%w: ingredient: %v", receipt.ErrInvalidInput, err)
		}
		update.IsIngredient = &isIngredient
	}
	if c.opts.expiry != "" {
		date, err := time.Parse("2006-01-02", c.opts.expiry)
		if err != nil {
			return fmt.Errorf("%w: expiry date: %v", receipt.ErrInvalidInput, err)
		}
		update.ExpiryDate = &date
	}

	item, err := c.service.UpdateItem(ctx, c.owner, id, itemID, update)
	if err != nil {
		return err
	}
	return c.print(item)
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
