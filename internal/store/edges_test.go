package store

import (
	"context"
	"testing"
	"time"
)

func TestRecordEdgeDedup(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	src, _, _ := s.CreateOrGetNode(ctx, nodeParams(run.ID, "https://example.com/"))
	dstParams := nodeParams(run.ID, "https://example.com/next")
	dstParams.A11yHash = "a11y-next"
	dst, _, _ := s.CreateOrGetNode(ctx, dstParams)

	p := EdgeParams{
		RunID: run.ID, FromNodeID: src.ID, ToNodeID: dst.ID,
		ActionType: "click", ActionTarget: "role=link name=Next",
		Outcome: OutcomeSuccess, DepthDiff: DiffNewPage,
	}

	first, created, err := s.RecordEdge(ctx, p)
	if err != nil {
		t.Fatalf("RecordEdge failed: %v", err)
	}
	if !created {
		t.Fatalf("first record should create the edge")
	}

	second, created, err := s.RecordEdge(ctx, p)
	if err != nil {
		t.Fatalf("repeat RecordEdge failed: %v", err)
	}
	if created {
		t.Errorf("identical action must not create a second edge")
	}
	if second.ID != first.ID {
		t.Errorf("expected same edge id, got %s and %s", first.ID, second.ID)
	}

	count, _ := s.CountEdges(ctx, run.ID)
	if count != 1 {
		t.Errorf("expected 1 edge, got %d", count)
	}
}

func TestFailedEdgeRetained(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	src, _, _ := s.CreateOrGetNode(ctx, nodeParams(run.ID, "https://example.com/"))
	nodesBefore, _ := s.CountNodes(ctx, run.ID)

	edge, created, err := s.RecordEdge(ctx, EdgeParams{
		RunID: run.ID, FromNodeID: src.ID,
		ActionType: "fill", ActionTarget: "role=textbox name=Email",
		Outcome: OutcomeTimeout, ErrorMsg: "fill timed out after 10s",
	})
	if err != nil {
		t.Fatalf("RecordEdge failed: %v", err)
	}
	if !created {
		t.Fatalf("failed attempt should still create an edge")
	}
	if edge.ToNodeID != "" {
		t.Errorf("failed edge should have no destination, got %q", edge.ToNodeID)
	}
	if edge.Outcome != OutcomeTimeout {
		t.Errorf("outcome lost: %s", edge.Outcome)
	}

	nodesAfter, _ := s.CountNodes(ctx, run.ID)
	if nodesAfter != nodesBefore {
		t.Errorf("failed action must not change node count: %d -> %d", nodesBefore, nodesAfter)
	}

	// A repeated failure of the same action dedups too (NULL destination is
	// part of the key via COALESCE), but the attempt counter advances.
	again, created, err := s.RecordEdge(ctx, EdgeParams{
		RunID: run.ID, FromNodeID: src.ID,
		ActionType: "fill", ActionTarget: "role=textbox name=Email",
		Outcome: OutcomeTimeout, ErrorMsg: "fill timed out after 10s",
	})
	if err != nil {
		t.Fatalf("repeat RecordEdge failed: %v", err)
	}
	if created {
		t.Errorf("repeated failure should dedup against the recorded attempt")
	}
	if again.Attempts != 2 {
		t.Errorf("expected 2 attempts after repeat, got %d", again.Attempts)
	}

	key := EdgeKey{RunID: run.ID, FromNodeID: src.ID,
		ActionType: "fill", ActionTarget: "role=textbox name=Email"}
	n, err := s.CountFailedEdges(ctx, key)
	if err != nil {
		t.Fatalf("CountFailedEdges failed: %v", err)
	}
	if n != 2 {
		t.Errorf("failed attempt count should include repeats, got %d", n)
	}
}

func TestCountFailedEdges(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	src, _, _ := s.CreateOrGetNode(ctx, nodeParams(run.ID, "https://example.com/"))
	key := EdgeKey{
		RunID: run.ID, FromNodeID: src.ID,
		ActionType: "click", ActionTarget: "role=button name=Flaky",
	}

	// Distinct failure modes are distinct edges; all count toward the cap.
	s.RecordEdge(ctx, EdgeParams{RunID: run.ID, FromNodeID: src.ID,
		ActionType: key.ActionType, ActionTarget: key.ActionTarget,
		Outcome: OutcomeTimeout})
	dst, _, _ := s.CreateOrGetNode(ctx, NodeParams{
		RunID: run.ID, URL: "https://example.com/f", URLNormalized: "https://example.com/f",
		A11yHash: "f", StateHash: "f", InputStateHash: "f",
	})
	s.RecordEdge(ctx, EdgeParams{RunID: run.ID, FromNodeID: src.ID, ToNodeID: dst.ID,
		ActionType: key.ActionType, ActionTarget: key.ActionTarget,
		Outcome: OutcomeFail, ErrorMsg: "landed on error page"})

	n, err := s.CountFailedEdges(ctx, key)
	if err != nil {
		t.Fatalf("CountFailedEdges failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 failed attempts, got %d", n)
	}
}

func TestFindSuccessfulEdge(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	src, _, _ := s.CreateOrGetNode(ctx, nodeParams(run.ID, "https://example.com/"))
	key := EdgeKey{RunID: run.ID, FromNodeID: src.ID,
		ActionType: "click", ActionTarget: "role=button name=Login"}

	if _, err := s.FindSuccessfulEdge(ctx, key); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound before recording, got %v", err)
	}

	s.RecordEdge(ctx, EdgeParams{RunID: run.ID, FromNodeID: src.ID,
		ActionType: key.ActionType, ActionTarget: key.ActionTarget,
		Outcome: OutcomeTimeout})
	if _, err := s.FindSuccessfulEdge(ctx, key); err != ErrNotFound {
		t.Errorf("failed attempt should not count as successful, got %v", err)
	}

	dst, _, _ := s.CreateOrGetNode(ctx, NodeParams{
		RunID: run.ID, URL: "https://example.com/in", URLNormalized: "https://example.com/in",
		A11yHash: "in", StateHash: "in", InputStateHash: "in",
	})
	s.RecordEdge(ctx, EdgeParams{RunID: run.ID, FromNodeID: src.ID, ToNodeID: dst.ID,
		ActionType: key.ActionType, ActionTarget: key.ActionTarget,
		Outcome: OutcomeSuccess})

	edge, err := s.FindSuccessfulEdge(ctx, key)
	if err != nil {
		t.Fatalf("FindSuccessfulEdge failed: %v", err)
	}
	if edge.ToNodeID != dst.ID {
		t.Errorf("expected destination %s, got %s", dst.ID, edge.ToNodeID)
	}
}

func TestCountSuccessEdgesSince(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	src, _, _ := s.CreateOrGetNode(ctx, nodeParams(run.ID, "https://example.com/"))
	dst, _, _ := s.CreateOrGetNode(ctx, NodeParams{
		RunID: run.ID, URL: "https://example.com/x", URLNormalized: "https://example.com/x",
		A11yHash: "x", StateHash: "x", InputStateHash: "x",
	})
	s.RecordEdge(ctx, EdgeParams{RunID: run.ID, FromNodeID: src.ID, ToNodeID: dst.ID,
		ActionType: "click", ActionTarget: "t", Outcome: OutcomeSuccess})

	recent, err := s.CountSuccessEdgesSince(ctx, run.ID, time.Minute)
	if err != nil {
		t.Fatalf("CountSuccessEdgesSince failed: %v", err)
	}
	if recent != 1 {
		t.Errorf("expected 1 recent edge, got %d", recent)
	}

	// A zero-width window excludes everything already recorded.
	none, err := s.CountSuccessEdgesSince(ctx, run.ID, -time.Minute)
	if err != nil {
		t.Fatalf("CountSuccessEdgesSince failed: %v", err)
	}
	if none != 0 {
		t.Errorf("expected 0 edges in future window, got %d", none)
	}
}
