package scanning

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
)

const unknownItem = "Unknown Item"

// maxQuantity caps model-reported quantities so they always fit an int
const maxQuantity = math.MaxInt32

// draftSchema describes the JSON the model is asked to return. Fields may be
// null when the model could not find them, but they must be present.
const draftSchema = `{
	"type": "object",
	"required": ["storeName", "purchaseDate", "totalAmount", "items"],
	"properties": {
		"storeName": {"type": ["string", "null"]},
		"purchaseDate": {"type": ["string", "null"]},
		"totalAmount": {"type": ["number", "string", "null"]},
		"items": {
			"type": ["array", "null"],
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": ["string", "null"]},
					"quantity": {"type": ["number", "null"]},
					"unitPrice": {"type": ["number", "string", "null"]},
					"totalPrice": {"type": ["number", "string", "null"]}
				}
			}
		}
	}
}`

var compiledDraftSchema = jsonschema.MustCompileString("draft.json", draftSchema)

// alternative layouts models tend to produce instead of ISO dates
var dateLayouts = []string{
	"2006/01/02",
	"2006.01.02",
	"01/02/2006",
	"02-01-2006",
}

type wireItem struct {
	Name       *string          `json:"name"`
	Quantity   *float64         `json:"quantity"`
	UnitPrice  *decimal.Decimal `json:"unitPrice"`
	TotalPrice *decimal.Decimal `json:"totalPrice"`
}

type wireDraft struct {
	StoreName    *string          `json:"storeName"`
	PurchaseDate *string          `json:"purchaseDate"`
	TotalAmount  *decimal.Decimal `json:"totalAmount"`
	Items        []wireItem       `json:"items"`
}

// unwrapJSON strips markdown fences and any chatter around the JSON object
func unwrapJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[startIdx : endIdx+1], nil
}

// validateDraftJSON checks the decoded document against draftSchema
func validateDraftJSON(doc []byte) error {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("unmarshaling json: %w", err)
	}
	if err := compiledDraftSchema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// parseDraftJSON turns the model's text answer into a fully defaulted Draft
func parseDraftJSON(text string, today time.Time) (Draft, error) {
	doc, err := unwrapJSON(text)
	if err != nil {
		return Draft{}, err
	}
	if err := validateDraftJSON([]byte(doc)); err != nil {
		return Draft{}, err
	}

	var wire wireDraft
	if err := json.Unmarshal([]byte(doc), &wire); err != nil {
		return Draft{}, fmt.Errorf("unmarshaling json: %w", err)
	}

	draft := newDraft(today.Format(dateLayout))
	if wire.StoreName != nil {
		if name := strings.TrimSpace(*wire.StoreName); name != "" {
			draft.StoreName = name
		}
	}
	if wire.PurchaseDate != nil {
		if d, ok := normalizeDate(*wire.PurchaseDate); ok {
			draft.PurchaseDate = d
		}
	}
	if wire.TotalAmount != nil {
		draft.TotalAmount = *wire.TotalAmount
	}

	for _, wi := range wire.Items {
		item := ItemDraft{
			Name:       unknownItem,
			Quantity:   1,
			UnitPrice:  nonNegative(wi.UnitPrice),
			TotalPrice: nonNegative(wi.TotalPrice),
		}
		if wi.Name != nil {
			if name := strings.TrimSpace(*wi.Name); name != "" {
				item.Name = name
			}
		}
		if q, ok := quantity(wi.Quantity); ok {
			item.Quantity = q
		}
		draft.Items = append(draft.Items, item)
	}

	return draft, nil
}

// quantity accepts whole counts from 1 up to maxQuantity; anything else keeps the default
func quantity(q *float64) (int, bool) {
	if q == nil || math.IsNaN(*q) || math.IsInf(*q, 0) {
		return 0, false
	}
	rounded := math.Round(*q)
	if rounded < 1 || rounded > maxQuantity {
		return 0, false
	}
	return int(rounded), true
}

func normalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if d, err := time.Parse(dateLayout, s); err == nil {
		return d.Format(dateLayout), true
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d.Format(dateLayout), true
		}
	}
	return "", false
}

func nonNegative(d *decimal.Decimal) decimal.Decimal {
	if d == nil || d.IsNegative() {
		return decimal.Zero
	}
	return *d
}
