package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// TesseractConfig configures the local Tesseract engine
type TesseractConfig struct {
	Languages []string          // e.g. "kor", "eng"
	Variables map[string]string // tesseract variables such as "user_defined_dpi"
}

// TesseractEngine implements Engine using a local Tesseract install
type TesseractEngine struct {
	cfg           TesseractConfig
	clientFactory func() *gosseract.Client
}

// NewTesseractEngine creates a new TesseractEngine
func NewTesseractEngine(cfg TesseractConfig) *TesseractEngine {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"kor", "eng"}
	}
	return &TesseractEngine{cfg: cfg, clientFactory: gosseract.NewClient}
}

type recognition struct {
	lines []string
	err   error
}

// DetectText runs Tesseract on the image. Tesseract itself cannot be
// interrupted, so a cancelled context returns early and the recognition
// finishes in the background.
func (e *TesseractEngine) DetectText(ctx context.Context, image []byte) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pngData, err := prepareImage(image)
	if err != nil {
		return nil, err
	}

	done := make(chan recognition, 1)
	go func() {
		lines, err := e.recognize(pngData)
		done <- recognition{lines: lines, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.lines, r.err
	}
}

func (e *TesseractEngine) recognize(pngData []byte) ([]string, error) {
	c := e.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(e.cfg.Languages...); err != nil {
		return nil, fmt.Errorf("set languages: %w", err)
	}
	for k, v := range e.cfg.Variables {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return nil, fmt.Errorf("set variable %s: %w", k, err)
		}
	}
	if err := c.SetImageFromBytes(pngData); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}
	return splitLines(text), nil
}

// Close is a no-op; clients are created per call
func (e *TesseractEngine) Close() error {
	return nil
}
