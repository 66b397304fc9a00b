package queue

import (
	"context"
	"testing"
	"time"

	"sitegraph/internal/action"
)

func TestMemoryFIFO(t *testing.T) {
	q := NewMemory()
	defer q.Close()
	ctx := context.Background()

	for _, kind := range []Kind{KindProcessNode, KindProcessAction, KindCheckCompletion} {
		if err := q.Enqueue(ctx, NewMessage(kind, "run-1")); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	depth, _ := q.Depth(ctx)
	if depth != 3 {
		t.Errorf("expected depth 3, got %d", depth)
	}

	want := []Kind{KindProcessNode, KindProcessAction, KindCheckCompletion}
	for i, kind := range want {
		m, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue %d failed: %v", i, err)
		}
		if m.Kind != kind {
			t.Errorf("message %d: got %s, want %s", i, m.Kind, kind)
		}
	}
}

func TestMemoryDequeueRespectsContext(t *testing.T) {
	q := NewMemory()
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected deadline error on empty queue, got %v", err)
	}
}

func TestMemoryEnqueueAfter(t *testing.T) {
	q := NewMemory()
	defer q.Close()
	ctx := context.Background()

	if err := q.EnqueueAfter(ctx, NewMessage(KindCheckCompletion, "run-1"), 30*time.Millisecond); err != nil {
		t.Fatalf("EnqueueAfter failed: %v", err)
	}

	// Not deliverable before the delay elapses.
	early, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	if _, err := q.Dequeue(early); err == nil {
		t.Errorf("message delivered before its delay")
	}
	cancel()

	depth, _ := q.Depth(ctx)
	if depth != 1 {
		t.Errorf("delayed message should count toward depth, got %d", depth)
	}

	late, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	m, err := q.Dequeue(late)
	if err != nil {
		t.Fatalf("Dequeue after delay failed: %v", err)
	}
	if m.Kind != KindCheckCompletion {
		t.Errorf("unexpected message kind %s", m.Kind)
	}
}

func TestMemoryClose(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	if err := q.EnqueueAfter(ctx, NewMessage(KindProcessNode, "run-1"), time.Hour); err != nil {
		t.Fatalf("EnqueueAfter failed: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := q.Enqueue(ctx, NewMessage(KindProcessNode, "run-1")); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	m := NewMessage(KindProcessAction, "run-9")
	m.NodeID = "node-3"
	m.Attempt = 2
	m.Action = &action.Action{
		Type: action.TypeClick, Target: "role=button name=Save", Role: "button", Name: "Save",
	}

	data, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.ID != m.ID || got.Kind != m.Kind || got.RunID != m.RunID || got.NodeID != m.NodeID {
		t.Errorf("envelope fields lost: %+v", got)
	}
	if got.Action == nil || got.Action.Target != m.Action.Target || got.Action.Type != m.Action.Type {
		t.Errorf("action payload lost: %+v", got.Action)
	}
	if got.Attempt != 2 {
		t.Errorf("attempt lost: %d", got.Attempt)
	}
}
