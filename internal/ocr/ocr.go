package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/receiptrecipe/receipts/internal/scanning"
)

// DefaultTimeout bounds a single OCR call
const DefaultTimeout = 60 * time.Second

// Engine recognizes text in an image
type Engine interface {
	// DetectText returns the text fragments found in the image, in reading order
	DetectText(ctx context.Context, image []byte) ([]string, error)

	// Close releases the engine's resources
	Close() error
}

// ImageSource reads stored uploads by handle
type ImageSource interface {
	Get(ctx context.Context, handle string) ([]byte, error)
}

// Acquirer turns a stored upload into raw text. It never fails; any problem
// yields the placeholder.
type Acquirer struct {
	engine  Engine
	source  ImageSource
	timeout time.Duration
	now     func() time.Time
}

// NewAcquirer creates a new Acquirer. A nil engine always yields the placeholder.
func NewAcquirer(engine Engine, source ImageSource, timeout time.Duration) *Acquirer {
	return NewAcquirerWithClock(engine, source, timeout, time.Now)
}

// NewAcquirerWithClock creates a new Acquirer with a custom clock for testing
func NewAcquirerWithClock(engine Engine, source ImageSource, timeout time.Duration, now func() time.Time) *Acquirer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Acquirer{
		engine:  engine,
		source:  source,
		timeout: timeout,
		now:     now,
	}
}

// Acquire reads the upload behind handle and returns its recognized text
func (a *Acquirer) Acquire(ctx context.Context, handle string) string {
	text, err := a.recognize(ctx, handle)
	if err != nil {
		slog.Warn("OCR failed, using placeholder text", "handle", handle, "error", err)
		return scanning.Placeholder(a.now())
	}
	return text
}

func (a *Acquirer) recognize(ctx context.Context, handle string) (string, error) {
	if a.engine == nil {
		return "", fmt.Errorf("no OCR engine configured")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	data, err := a.source.Get(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("reading upload: %w", err)
	}

	fragments, err := a.engine.DetectText(ctx, data)
	if err != nil {
		return "", fmt.Errorf("detecting text: %w", err)
	}

	text := joinFragments(fragments)
	if text == "" {
		return "", fmt.Errorf("no text recognized")
	}
	return text, nil
}

// joinFragments trims every fragment and joins the non-empty ones by newline
func joinFragments(fragments []string) string {
	lines := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f = strings.TrimSpace(f); f != "" {
			lines = append(lines, f)
		}
	}
	return strings.Join(lines, "\n")
}

// splitLines breaks engine output into non-empty trimmed lines
func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
