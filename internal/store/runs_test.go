package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
)

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "https://app.example.com", "https://app.example.com/login", "owner-1",
		json.RawMessage(`{"label":"nightly"}`))
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.Status != StatusRunning {
		t.Errorf("new run should be running, got %s", run.Status)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.TargetURL != run.TargetURL || got.OwnerID != "owner-1" {
		t.Errorf("run fields lost: %+v", got)
	}
	if string(got.Metadata) != `{"label":"nightly"}` {
		t.Errorf("metadata lost: %s", got.Metadata)
	}
	if got.CompletedAt != nil {
		t.Errorf("running run should have no completion time")
	}
}

func TestTransitionRunSingleWinner(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	const racers = 10
	wins := make([]bool, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			won, err := s.TransitionRun(ctx, run.ID, StatusRunning, StatusCompleted)
			if err != nil {
				t.Errorf("TransitionRun failed: %v", err)
				return
			}
			wins[i] = won
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, w := range wins {
		if w {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("exactly one transition must win, got %d", winners)
	}

	got, _ := s.GetRun(ctx, run.ID)
	if got.Status != StatusCompleted {
		t.Errorf("run should be completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Errorf("terminal run should carry a completion time")
	}
}

func TestTerminalStatesAreSticky(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	if won, _ := s.TransitionRun(ctx, run.ID, StatusRunning, StatusStopped); !won {
		t.Fatalf("stop transition should win")
	}

	// No transition leaves a terminal state.
	for _, to := range []RunStatus{StatusRunning, StatusCompleted, StatusFailed} {
		won, err := s.TransitionRun(ctx, run.ID, StatusRunning, to)
		if err != nil {
			t.Fatalf("TransitionRun failed: %v", err)
		}
		if won {
			t.Errorf("transition out of stopped must not win (to=%s)", to)
		}
	}

	got, _ := s.GetRun(ctx, run.ID)
	if got.Status != StatusStopped {
		t.Errorf("status should stay stopped, got %s", got.Status)
	}
}

func TestAttachEvaluation(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	has, err := s.HasEvaluation(ctx, run.ID)
	if err != nil {
		t.Fatalf("HasEvaluation failed: %v", err)
	}
	if has {
		t.Errorf("fresh run should have no evaluation")
	}

	payload := json.RawMessage(`{"score":0.82,"findings":[]}`)
	if err := s.AttachEvaluation(ctx, run.ID, payload); err != nil {
		t.Fatalf("AttachEvaluation failed: %v", err)
	}

	has, _ = s.HasEvaluation(ctx, run.ID)
	if !has {
		t.Errorf("evaluation should be present after attach")
	}
	got, _ := s.GetRun(ctx, run.ID)
	if string(got.Evaluation) != string(payload) {
		t.Errorf("evaluation payload mismatch: %s", got.Evaluation)
	}
}

func TestRunMemoryUpsert(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	if err := s.UpsertRunMemory(ctx, run.ID, json.RawMessage(`{"step":1}`)); err != nil {
		t.Fatalf("UpsertRunMemory failed: %v", err)
	}
	first, err := s.GetRunMemory(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRunMemory failed: %v", err)
	}

	if err := s.UpsertRunMemory(ctx, run.ID, json.RawMessage(`{"step":2}`)); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	second, _ := s.GetRunMemory(ctx, run.ID)

	if string(second.Content) != `{"step":2}` {
		t.Errorf("content not replaced: %s", second.Content)
	}
	if second.UpdatedAt.Before(first.UpdatedAt) {
		t.Errorf("updated_at must not go backwards")
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at must not change on upsert")
	}
}

func TestPendingActionDedupAndStatus(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	n, _, _ := s.CreateOrGetNode(ctx, nodeParams(run.ID, "https://example.com/"))

	pa, created, err := s.CreatePendingAction(ctx, run.ID, n.ID, "fill", "role=textbox name=Email", "")
	if err != nil {
		t.Fatalf("CreatePendingAction failed: %v", err)
	}
	if !created {
		t.Fatalf("first deferral should create the row")
	}

	again, created, err := s.CreatePendingAction(ctx, run.ID, n.ID, "fill", "role=textbox name=Email", "")
	if err != nil {
		t.Fatalf("repeat CreatePendingAction failed: %v", err)
	}
	if created || again.ID != pa.ID {
		t.Errorf("duplicate deferral should collapse to the existing row")
	}

	if err := s.UpdatePendingActionStatus(ctx, pa.ID, PendingProcessed); err != nil {
		t.Fatalf("UpdatePendingActionStatus failed: %v", err)
	}
	open, _ := s.CountPendingActions(ctx, run.ID)
	if open != 0 {
		t.Errorf("processed action should not count as open, got %d", open)
	}
}
