package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// transcribePrompt asks a vision model to behave like a plain OCR engine
const transcribePrompt = `Transcribe every line of text printed on this receipt, top to bottom.
Output one receipt line per output line, exactly as printed, including prices and currency markers.
Do not summarize, translate, reorder or add commentary. Do not use markdown.`

// GeminiEngine implements Engine using a Gemini vision model
type GeminiEngine struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiEngine creates a new GeminiEngine
func NewGeminiEngine(ctx context.Context, apiKey string, modelName string) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &GeminiEngine{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// DetectText asks the model to transcribe the receipt image
func (g *GeminiEngine) DetectText(ctx context.Context, image []byte) ([]string, error) {
	pngData, err := prepareImage(image)
	if err != nil {
		return nil, err
	}

	// genai.ImageData expects the format suffix, not the full MIME type
	resp, err := g.model.GenerateContent(ctx,
		genai.ImageData("png", pngData),
		genai.Text(transcribePrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return splitLines(stripFences(text.String())), nil
}

// Close closes the Gemini client
func (g *GeminiEngine) Close() error {
	return g.client.Close()
}

// stripFences removes a markdown code fence some models wrap around plain text
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.Index(text, "\n"); i >= 0 {
		text = text[i+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(text), "```")
}
