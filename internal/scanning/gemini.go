package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultEndpoint is the Gemini generateContent endpoint used when none is configured
const DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-pro:generateContent"

// DefaultTimeout bounds the single call made per extraction
const DefaultTimeout = 60 * time.Second

// receiptParsePrompt asks the model for the Draft JSON shape. %s is the OCR text.
const receiptParsePrompt = `The following is OCR text read from a store receipt. Analyze it and return the data as JSON.

OCR text:
%s

Extract the following:
1. Store name (storeName)
2. Purchase date (purchaseDate) in YYYY-MM-DD format
3. Total amount (totalAmount) as a number only
4. Line items (items), each with name, quantity, unit price and total price

Respond with JSON in exactly this format:
{
  "storeName": "Store name",
  "purchaseDate": "2024-01-01",
  "totalAmount": 10000.0,
  "items": [
    {
      "name": "Item name",
      "quantity": 1,
      "unitPrice": 1000.0,
      "totalPrice": 1000.0
    }
  ]
}

Use null or an empty array for anything you cannot find.`

// Config configures the AI-backed extractor. An empty APIKey disables the
// remote call entirely.
type Config struct {
	APIKey     string
	Endpoint   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Extractor calls Gemini once per text and falls back to the heuristic
// Parser on any failure
type Extractor struct {
	cfg    Config
	parser *Parser
	client *http.Client
}

// NewExtractor creates a new Extractor
func NewExtractor(cfg Config, parser *Parser) *Extractor {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if parser == nil {
		parser = NewParser()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Extractor{
		cfg:    cfg,
		parser: parser,
		client: client,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

// geminiRequest is the generateContent request body
type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

// geminiResponse holds the parts of the generateContent response we read
type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Extract returns the model's Draft, or the heuristic Draft when the model is
// not configured or anything about the call goes wrong
func (e *Extractor) Extract(ctx context.Context, text string) Draft {
	if e.cfg.APIKey == "" {
		return e.parser.Parse(text)
	}

	draft, err := e.tryRemote(ctx, text)
	if err != nil {
		slog.Warn("Gemini extraction failed, using heuristic parser", "error", err)
		return e.parser.Parse(text)
	}
	return draft
}

func (e *Extractor) tryRemote(ctx context.Context, text string) (Draft, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: fmt.Sprintf(receiptParsePrompt, text)}}},
		},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Draft{}, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint, err := url.Parse(e.cfg.Endpoint)
	if err != nil {
		return Draft{}, fmt.Errorf("parsing endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("key", e.cfg.APIKey)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(jsonData))
	if err != nil {
		return Draft{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Draft{}, fmt.Errorf("calling gemini API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Draft{}, fmt.Errorf("gemini API error (status %d): %s", resp.StatusCode, string(body))
	}

	var genResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return Draft{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return Draft{}, fmt.Errorf("no response from gemini")
	}

	draft, err := parseDraftJSON(genResp.Candidates[0].Content.Parts[0].Text, e.parser.now())
	if err != nil {
		return Draft{}, fmt.Errorf("parsing receipt data: %w", err)
	}
	return draft, nil
}
