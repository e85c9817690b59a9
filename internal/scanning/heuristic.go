package scanning

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var (
	// digits followed by the won marker, e.g. "1,500원" or "3000원"
	amountPattern = regexp.MustCompile(`\d+[,.]?\d*원`)
	datePattern   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	nonNumeric    = regexp.MustCompile(`[^\d,.]`)
)

const (
	receiptLabel = "영수증"
	storeLabel   = "매장"
	addressLabel = "주소"
	phoneLabel   = "전화"
)

// totalMarkers flag a line as carrying the receipt total
var totalMarkers = []string{"총", "합계", "total", "총액", "결제"}

// Parser is the rule-based fallback that reads a Draft out of OCR text.
// Parse has no I/O; the only input besides the text is the clock used for
// the default purchase date.
type Parser struct {
	now func() time.Time
}

// NewParser creates a Parser using the wall clock for default dates
func NewParser() *Parser {
	return &Parser{now: time.Now}
}

// NewParserWithClock creates a Parser with a custom clock for testing
func NewParserWithClock(now func() time.Time) *Parser {
	return &Parser{now: now}
}

// Parse scans the text line by line and returns whatever it could detect.
// Classification order is fixed: store name first, then total, then items.
func (p *Parser) Parse(text string) Draft {
	draft := newDraft(p.now().Format(dateLayout))

	var (
		foundStore bool
		foundTotal bool
		foundDate  bool
	)

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		length := utf8.RuneCountInString(line)

		if !foundDate {
			if d, ok := findDate(line); ok {
				draft.PurchaseDate = d
				foundDate = true
			}
		}

		if !foundStore && isStoreName(line, length) {
			draft.StoreName = line
			foundStore = true
			continue
		}

		if isTotalLine(line) {
			if !foundTotal {
				if amount, ok := parseAmount(line); ok {
					draft.TotalAmount = amount
					foundTotal = true
				}
			}
			continue
		}

		// Short amount lines fall through to the bare item check
		if length > 3 && amountPattern.MatchString(line) {
			if item, ok := pricedItem(line); ok {
				draft.Items = append(draft.Items, item)
			}
			continue
		}

		if isBareItemName(line, length) {
			draft.Items = append(draft.Items, ItemDraft{
				Name:       line,
				Quantity:   1,
				UnitPrice:  decimal.Zero,
				TotalPrice: decimal.Zero,
			})
		}
	}

	return draft
}

func isStoreName(line string, length int) bool {
	return length > 3 && length < 50 &&
		!datePattern.MatchString(line) &&
		!amountPattern.MatchString(line) &&
		!strings.Contains(line, receiptLabel) &&
		!strings.Contains(line, storeLabel)
}

func isTotalLine(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range totalMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// isBareItemName matches item names that OCR split away from their price
func isBareItemName(line string, length int) bool {
	return length >= 3 && length < 50 &&
		!datePattern.MatchString(line) &&
		!strings.Contains(line, receiptLabel) &&
		!strings.Contains(line, storeLabel) &&
		!strings.Contains(line, addressLabel) &&
		!strings.Contains(line, phoneLabel)
}

// pricedItem splits "name tokens... 1,500원" into an item.
// The last amount token that parses is the price.
func pricedItem(line string) (ItemDraft, bool) {
	var (
		name  []string
		price = decimal.Zero
	)
	for _, token := range strings.Fields(line) {
		if amountPattern.MatchString(token) {
			if amount, ok := parseAmount(token); ok {
				price = amount
			}
			continue
		}
		name = append(name, token)
	}
	if len(name) == 0 || !price.IsPositive() {
		return ItemDraft{}, false
	}
	return ItemDraft{
		Name:       strings.Join(name, " "),
		Quantity:   1,
		UnitPrice:  price,
		TotalPrice: price,
	}, true
}

// parseAmount keeps digits and separators, drops thousands commas and parses
// the rest. Malformed numbers report false.
func parseAmount(s string) (decimal.Decimal, bool) {
	digits := nonNumeric.ReplaceAllString(s, "")
	digits = strings.ReplaceAll(digits, ",", "")
	if digits == "" {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero, false
	}
	return amount, true
}

func findDate(line string) (string, bool) {
	match := datePattern.FindString(line)
	if match == "" {
		return "", false
	}
	if _, err := time.Parse(dateLayout, match); err != nil {
		return "", false
	}
	return match, true
}
