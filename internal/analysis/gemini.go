package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"sitegraph/internal/logging"
)

// Gemini asks the Gemini API to assess the explored graph. The structural
// summary always ships with the evaluation; only the narrative assessment
// comes from the model. Falls back to the static analyzer on any failure.
type Gemini struct {
	client   *genai.Client
	model    string
	fallback Static
	timeout  time.Duration
}

// NewGemini creates a Gemini-backed analyzer.
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
		timeout: 60 * time.Second,
	}, nil
}

const evaluatePrompt = `You assess automated explorations of web applications.
Given the exploration summary below, respond with ONLY a JSON object:
{"score": <0.0-1.0>, "verdict": "<one sentence>", "findings": ["<finding>", ...]}

Score coverage quality, call out unreachable states and repeated failures.

Summary:
%s`

type geminiAssessment struct {
	Score    float64  `json:"score"`
	Verdict  string   `json:"verdict"`
	Findings []string `json:"findings"`
}

type geminiEvaluation struct {
	Summary  *Summary `json:"summary"`
	Score    float64  `json:"score"`
	Verdict  string   `json:"verdict"`
	Findings []string `json:"findings,omitempty"`
	Analyzer string   `json:"analyzer"`
}

func (g *Gemini) Evaluate(ctx context.Context, reader GraphReader, runID string) (json.RawMessage, error) {
	s, err := Summarize(ctx, reader, runID)
	if err != nil {
		return nil, err
	}
	digest, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(callCtx, g.model,
		genai.Text(fmt.Sprintf(evaluatePrompt, digest)), nil)
	if err != nil {
		logging.Get(logging.CategoryWorker).Warn("Gemini evaluation failed, using static: %v", err)
		return g.fallback.Evaluate(ctx, reader, runID)
	}

	assessment, ok := parseAssessment(resp.Text())
	if !ok {
		logging.Get(logging.CategoryWorker).Warn("unparseable Gemini evaluation response")
		return g.fallback.Evaluate(ctx, reader, runID)
	}

	payload, err := json.Marshal(geminiEvaluation{
		Summary:  s,
		Score:    assessment.Score,
		Verdict:  assessment.Verdict,
		Findings: assessment.Findings,
		Analyzer: "gemini:" + g.model,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal evaluation: %w", err)
	}
	return payload, nil
}

func parseAssessment(text string) (geminiAssessment, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return geminiAssessment{}, false
	}
	var a geminiAssessment
	if err := json.Unmarshal([]byte(text[start:end+1]), &a); err != nil {
		return geminiAssessment{}, false
	}
	if a.Score < 0 {
		a.Score = 0
	}
	if a.Score > 1 {
		a.Score = 1
	}
	return a, true
}

// Close releases the evaluator. The genai client holds no connection that
// needs closing, so this is a no-op kept for the io.Closer shutdown path.
func (g *Gemini) Close() error {
	return nil
}
