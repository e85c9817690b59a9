package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/receiptrecipe/receipts/internal/ocr"
	"github.com/receiptrecipe/receipts/internal/receipt"
	"github.com/receiptrecipe/receipts/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

const usage = `receipts [flags] <command> [args]

Commands:
  ingest <file>                 store, read and save a receipt
  reprocess <id>                re-run extraction on a saved receipt
  list                          list receipts (--store, --search, --page, --size)
  show <id>                     print a receipt
  file <id> <dest>              write a receipt's original upload to dest
  update <id>                   edit a receipt (--set-store, --set-date, --set-total)
  update-item <id> <item-id>    edit an item (--item-name, --item-quantity, --ingredient, --expiry)
  stores                        list distinct store names
  expiring                      list ingredients expiring soon (--days)
  delete <id>                   delete a receipt and its upload`

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("receipts")
	var (
		dbPath         = fs.StringLong("db", "receipts.db", "Database file path")
		dbDriver       = fs.StringLong("db-driver", "bolt", "Database driver: 'bolt' or 'sqlite'")
		storagePath    = fs.StringLong("storage", "./receipts", "Storage directory path")
		storageBackend = fs.StringLong("storage-backend", "local", "Storage backend: 'local' or 's3'")
		s3Bucket       = fs.StringLong("s3-bucket", "", "S3 bucket for uploads")
		s3Region       = fs.StringLong("s3-region", "", "S3 region (defaults to the AWS config chain)")
		s3Endpoint     = fs.StringLong("s3-endpoint", "", "S3-compatible endpoint URL (MinIO, R2)")
		s3Prefix       = fs.StringLong("s3-prefix", "receipts", "Key prefix for uploads")
		s3PathStyle    = fs.BoolLong("s3-path-style", "Use path-style S3 addressing")
		storageTimeout = fs.DurationLong("storage-timeout", receipt.DefaultStorageTimeout, "Timeout for a single storage write or delete")
		ocrType        = fs.StringLong("ocr", "tesseract", "OCR engine: 'tesseract', 'gemini', 'ollama' or 'none'")
		ocrLang        = fs.StringLong("ocr-lang", "kor+eng", "Tesseract languages, '+' separated")
		ocrTimeout     = fs.DurationLong("ocr-timeout", ocr.DefaultTimeout, "Timeout for a single OCR call")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Gemini vision model used for OCR")
		geminiEndpoint = fs.StringLong("gemini-endpoint", scanning.DefaultEndpoint, "Gemini generateContent endpoint used for extraction")
		extractTimeout = fs.DurationLong("extract-timeout", scanning.DefaultTimeout, "Timeout for the AI extraction call")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, bakllava, qwen2-vl)")
		owner          = fs.StringLong("owner", "local", "Owner ID the command acts on")
		contentType    = fs.StringLong("content-type", "", "Content type of the ingested file (sniffed when empty)")
		storeFilter    = fs.StringLong("store", "", "list: store name filter")
		searchTerm     = fs.StringLong("search", "", "list: search term")
		page           = fs.IntLong("page", 0, "list: zero-based page number")
		pageSize       = fs.IntLong("size", 0, "list: page size (0 lists everything)")
		days           = fs.IntLong("days", receipt.DefaultExpiryWindow, "expiring: look-ahead in days")
		setStore       = fs.StringLong("set-store", "", "update: new store name")
		setDate        = fs.StringLong("set-date", "", "update: new purchase date (YYYY-MM-DD)")
		setTotal       = fs.StringLong("set-total", "", "update: new total amount")
		itemName       = fs.StringLong("item-name", "", "update-item: new name")
		itemQuantity   = fs.IntLong("item-quantity", 0, "update-item: new quantity")
		ingredient     = fs.StringLong("ingredient", "", "update-item: 'true' or 'false'")
		expiry         = fs.StringLong("expiry", "", "update-item: expiry date (YYYY-MM-DD)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPTS"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n%s\n", usage, ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	args := fs.GetArgs()
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "%s\n\n%s\n", usage, ffhelp.Flags(fs))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...", "driver", *dbDriver, "path", *dbPath)
	var db receipt.DB
	var err error
	switch *dbDriver {
	case "bolt":
		db, err = receipt.NewBoltDB(*dbPath)
	case "sqlite":
		db, err = receipt.NewSQLiteDB(*dbPath)
	default:
		err = fmt.Errorf("invalid database driver %q, valid: bolt or sqlite", *dbDriver)
	}
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize storage
	slog.Info("Initializing storage...", "backend", *storageBackend)
	var store receipt.Storage
	switch *storageBackend {
	case "local":
		store, err = receipt.NewLocalStorage(*storagePath)
	case "s3":
		store, err = receipt.NewS3Storage(ctx, receipt.S3Config{
			Bucket:          *s3Bucket,
			Region:          *s3Region,
			Endpoint:        *s3Endpoint,
			Prefix:          *s3Prefix,
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			UsePathStyle:    *s3PathStyle,
		})
	default:
		err = fmt.Errorf("invalid storage backend %q, valid: local or s3", *storageBackend)
	}
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Get Gemini API key from flag or environment
	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}

	// Initialize OCR engine based on type
	var engine ocr.Engine
	switch *ocrType {
	case "tesseract":
		slog.Info("Initializing Tesseract OCR...", "languages", *ocrLang)
		engine = ocr.NewTesseractEngine(ocr.TesseractConfig{Languages: strings.Split(*ocrLang, "+")})
	case "gemini":
		slog.Info("Initializing Gemini OCR...", "model", *geminiModel)
		engine, err = ocr.NewGeminiEngine(ctx, apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama OCR...", "url", *ollamaURL, "model", *ollamaModel)
		engine = ocr.NewOllamaEngine(*ollamaURL, *ollamaModel)
	case "none":
		slog.Warn("OCR disabled, uploads are read as plain text")
	default:
		slog.Error("Invalid OCR engine", "type", *ocrType, "valid", "tesseract, gemini, ollama or none")
		os.Exit(1)
	}
	if engine != nil {
		defer engine.Close()
	}

	if apiKey == "" {
		slog.Info("No Gemini API key, extraction uses the heuristic parser only")
	}

	acquirer := ocr.NewAcquirer(engine, store, *ocrTimeout)
	extractor := scanning.NewExtractor(scanning.Config{
		APIKey:   apiKey,
		Endpoint: *geminiEndpoint,
		Timeout:  *extractTimeout,
	}, scanning.NewParser())
	service := receipt.NewService(db, store, acquirer, extractor)
	service.SetStorageTimeout(*storageTimeout)

	cli := &cli{
		service: service,
		owner:   *owner,
		out:     os.Stdout,
		opts: options{
			contentType:  *contentType,
			storeFilter:  *storeFilter,
			searchTerm:   *searchTerm,
			page:         *page,
			pageSize:     *pageSize,
			days:         *days,
			setStore:     *setStore,
			setDate:      *setDate,
			setTotal:     *setTotal,
			itemName:     *itemName,
			itemQuantity: *itemQuantity,
			ingredient:   *ingredient,
			expiry:       *expiry,
		},
	}

	start := time.Now()
	if err := cli.run(ctx, args[0], args[1:]); err != nil {
		slog.Error("Command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
	slog.Debug("Command finished", "command", args[0], "elapsed", time.Since(start))
}
