package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"sitegraph/internal/logging"
)

// Gemini labels transitions with the Gemini API, falling back to the
// heuristic labeler on any error so a dead API key never stalls a crawl.
type Gemini struct {
	client   *genai.Client
	model    string
	fallback Heuristic
	timeout  time.Duration
}

// NewGemini creates a Gemini-backed labeler.
func NewGemini(apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Gemini{
		client:  client,
		model:   model,
		timeout: 15 * time.Second,
	}, nil
}

const labelPrompt = `You label user interactions on web applications.
Given one interaction, respond with ONLY a JSON object:
{"intent": "<snake_case_verb_phrase>", "confidence": <0.0-1.0>}

Interaction:
- action: %s on %q (role=%s)
- from: %s (%q)
- to: %s (%q)
- transition kind: %s`

func (g *Gemini) GuessIntent(ctx context.Context, req Request) Label {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := fmt.Sprintf(labelPrompt,
		req.Action.Type, req.Action.Name, req.Action.Role,
		req.FromURL, req.FromTitle,
		req.ToURL, req.ToTitle,
		req.DepthDiff)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		logging.Get(logging.CategoryIntent).Warn("Gemini label failed, using heuristic: %v", err)
		return g.fallback.GuessIntent(ctx, req)
	}

	label, ok := parseLabel(resp.Text())
	if !ok {
		logging.Get(logging.CategoryIntent).Warn("unparseable Gemini label response")
		return g.fallback.GuessIntent(ctx, req)
	}
	return label
}

// parseLabel extracts the JSON object from a model response, tolerating
// code fences and surrounding prose.
func parseLabel(text string) (Label, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Label{}, false
	}

	var label Label
	if err := json.Unmarshal([]byte(text[start:end+1]), &label); err != nil {
		return Label{}, false
	}
	label.Intent = strings.TrimSpace(label.Intent)
	if label.Intent == "" {
		return Label{}, false
	}
	if label.Confidence < 0 {
		label.Confidence = 0
	}
	if label.Confidence > 1 {
		label.Confidence = 1
	}
	return label, true
}

// Close releases the labeler. The genai client holds no connection that
// needs closing, so this is a no-op kept for the io.Closer shutdown path.
func (g *Gemini) Close() error {
	return nil
}
