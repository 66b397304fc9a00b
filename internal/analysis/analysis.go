// Package analysis produces the run evaluation that finalization attaches to
// a completed run. The evaluation is computed over the whole recorded graph
// and must be attached at most once; the caller guards that with the run
// status transition.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"sitegraph/internal/store"
)

// GraphReader is the store surface the analyzer consumes.
type GraphReader interface {
	GetRun(ctx context.Context, id string) (*store.Run, error)
	ListNodes(ctx context.Context, runID string) ([]store.Node, error)
	ListEdges(ctx context.Context, runID string) ([]store.Edge, error)
}

// Analyzer turns a finished run's graph into an evaluation payload.
type Analyzer interface {
	Evaluate(ctx context.Context, reader GraphReader, runID string) (json.RawMessage, error)
}

// Summary is the structural digest both analyzers start from.
type Summary struct {
	RunID           string         `json:"run_id"`
	TargetURL       string         `json:"target_url"`
	Nodes           int            `json:"nodes"`
	Edges           int            `json:"edges"`
	SuccessEdges    int            `json:"success_edges"`
	FailedEdges     int            `json:"failed_edges"`
	UnreachedNodes  int            `json:"unreached_nodes"`
	MaxRouteDepth   int            `json:"max_route_depth"`
	MaxModalDepth   int            `json:"max_modal_depth"`
	OutcomeCounts   map[string]int `json:"outcome_counts"`
	DepthDiffCounts map[string]int `json:"depth_diff_counts"`
	TopIntents      []IntentCount  `json:"top_intents"`
	TopFailures     []FailureCount `json:"top_failures"`
	DurationSeconds float64        `json:"duration_seconds"`
}

// IntentCount is an intent label with its edge count.
type IntentCount struct {
	Intent string `json:"intent"`
	Count  int    `json:"count"`
}

// FailureCount groups failed attempts by action target.
type FailureCount struct {
	Target string `json:"target"`
	Count  int    `json:"count"`
}

// Summarize computes the structural digest of a run's graph.
func Summarize(ctx context.Context, reader GraphReader, runID string) (*Summary, error) {
	run, err := reader.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("summarize run %s: %w", runID, err)
	}
	nodes, err := reader.ListNodes(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("summarize run %s: %w", runID, err)
	}
	edges, err := reader.ListEdges(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("summarize run %s: %w", runID, err)
	}

	s := &Summary{
		RunID:           runID,
		TargetURL:       run.TargetURL,
		Nodes:           len(nodes),
		Edges:           len(edges),
		OutcomeCounts:   make(map[string]int),
		DepthDiffCounts: make(map[string]int),
	}

	reached := make(map[string]bool)
	intents := make(map[string]int)
	failures := make(map[string]int)
	for _, e := range edges {
		s.OutcomeCounts[string(e.Outcome)]++
		if e.DepthDiff != "" {
			s.DepthDiffCounts[string(e.DepthDiff)]++
		}
		if e.Outcome == store.OutcomeSuccess {
			s.SuccessEdges++
			if e.ToNodeID != "" {
				reached[e.ToNodeID] = true
			}
		} else {
			s.FailedEdges++
			failures[e.ActionTarget]++
		}
		if e.IntentLabel != "" {
			intents[e.IntentLabel]++
		}
	}

	for _, n := range nodes {
		if n.RouteDepth > s.MaxRouteDepth {
			s.MaxRouteDepth = n.RouteDepth
		}
		if n.ModalDepth > s.MaxModalDepth {
			s.MaxModalDepth = n.ModalDepth
		}
		if !reached[n.ID] {
			s.UnreachedNodes++
		}
	}

	s.TopIntents = topIntents(intents, 10)
	s.TopFailures = topFailures(failures, 10)

	if run.CompletedAt != nil {
		s.DurationSeconds = run.CompletedAt.Sub(run.CreatedAt).Seconds()
	} else {
		s.DurationSeconds = time.Since(run.CreatedAt).Seconds()
	}
	return s, nil
}

func topIntents(counts map[string]int, limit int) []IntentCount {
	out := make([]IntentCount, 0, len(counts))
	for intent, n := range counts {
		out = append(out, IntentCount{Intent: intent, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Intent < out[j].Intent
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func topFailures(counts map[string]int, limit int) []FailureCount {
	out := make([]FailureCount, 0, len(counts))
	for target, n := range counts {
		out = append(out, FailureCount{Target: target, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Target < out[j].Target
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Static emits the structural summary as the evaluation, with a coverage
// score derived from graph shape alone. It is the default analyzer and the
// fallback behind the Gemini one.
type Static struct{}

type staticEvaluation struct {
	Summary  *Summary `json:"summary"`
	Score    float64  `json:"score"`
	Verdict  string   `json:"verdict"`
	Analyzer string   `json:"analyzer"`
}

func (Static) Evaluate(ctx context.Context, reader GraphReader, runID string) (json.RawMessage, error) {
	s, err := Summarize(ctx, reader, runID)
	if err != nil {
		return nil, err
	}

	score := coverageScore(s)
	verdict := "shallow exploration"
	switch {
	case score >= 0.7:
		verdict = "broad exploration with healthy success rate"
	case score >= 0.4:
		verdict = "moderate exploration"
	}

	payload, err := json.Marshal(staticEvaluation{
		Summary: s, Score: score, Verdict: verdict, Analyzer: "static",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal evaluation: %w", err)
	}
	return payload, nil
}

// coverageScore blends graph breadth with action reliability into [0,1].
func coverageScore(s *Summary) float64 {
	if s.Edges == 0 {
		return 0
	}
	successRate := float64(s.SuccessEdges) / float64(s.Edges)

	breadth := float64(s.Nodes) / 50.0
	if breadth > 1 {
		breadth = 1
	}
	return 0.6*successRate + 0.4*breadth
}
