// Package completion decides when a run has stopped making progress.
// Policies are pure over run statistics so the decision can be evaluated
// by any worker; the exactly-once finalize guarantee lives in the run
// status transition, not here.
package completion

import (
	"context"
	"fmt"
	"time"
)

// Stats is the read surface a policy needs. *store.Store satisfies it.
type Stats interface {
	CountEdges(ctx context.Context, runID string) (int, error)
	CountSuccessEdgesSince(ctx context.Context, runID string, window time.Duration) (int, error)
	CountPendingActions(ctx context.Context, runID string) (int, error)
}

// Decision is a policy verdict with a human-readable reason.
type Decision struct {
	Done   bool
	Reason string
}

// Policy evaluates whether a run should be finalized.
type Policy interface {
	Evaluate(ctx context.Context, stats Stats, runID string) (Decision, error)
}

// EdgeThreshold finalizes a run once it has recorded Max edges. This is the
// hard budget that bounds exploration of unbounded applications.
type EdgeThreshold struct {
	Max int
}

func (p EdgeThreshold) Evaluate(ctx context.Context, stats Stats, runID string) (Decision, error) {
	total, err := stats.CountEdges(ctx, runID)
	if err != nil {
		return Decision{}, err
	}
	if total >= p.Max {
		return Decision{Done: true, Reason: fmt.Sprintf("edge budget reached (%d >= %d)", total, p.Max)}, nil
	}
	return Decision{}, nil
}

// IdleWindow finalizes a run when recent progress has dried up: at least
// MinEdges recorded overall, and no more than MaxRecent successful edges
// inside the trailing Window. MaxRecent zero is a pure idle check.
type IdleWindow struct {
	Window    time.Duration
	MinEdges  int
	MaxRecent int
}

func (p IdleWindow) Evaluate(ctx context.Context, stats Stats, runID string) (Decision, error) {
	total, err := stats.CountEdges(ctx, runID)
	if err != nil {
		return Decision{}, err
	}
	if total < p.MinEdges {
		return Decision{}, nil
	}
	recent, err := stats.CountSuccessEdgesSince(ctx, runID, p.Window)
	if err != nil {
		return Decision{}, err
	}
	if recent > p.MaxRecent {
		return Decision{}, nil
	}
	return Decision{
		Done: true,
		Reason: fmt.Sprintf("idle: %d successful edges in last %s (total %d)",
			recent, p.Window, total),
	}, nil
}

// Any finalizes when any member policy does. Evaluation order is the slice
// order and the first positive verdict wins.
type Any []Policy

func (ps Any) Evaluate(ctx context.Context, stats Stats, runID string) (Decision, error) {
	for _, p := range ps {
		d, err := p.Evaluate(ctx, stats, runID)
		if err != nil {
			return Decision{}, err
		}
		if d.Done {
			return d, nil
		}
	}
	return Decision{}, nil
}

// Default mirrors production tuning: a 300 edge budget, a hard five minute
// idle cutoff, and a faster idle cutoff that only applies once the run has
// made some progress. The idle windows fire only on zero recent successes;
// a run that produced an edge moments ago is never finalized early.
func Default() Policy {
	return Any{
		EdgeThreshold{Max: 300},
		IdleWindow{Window: 5 * time.Minute, MinEdges: 1, MaxRecent: 0},
		IdleWindow{Window: time.Minute, MinEdges: 10, MaxRecent: 0},
	}
}
