// Package queue carries exploration jobs between workers. Two
// implementations share one message format: Memory for single-process runs
// and tests, Redis for distributed workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sitegraph/internal/action"
)

// Kind names a job type.
type Kind string

const (
	KindProcessNode     Kind = "process_node"
	KindProcessAction   Kind = "process_action"
	KindProcessPending  Kind = "process_pending"
	KindCheckCompletion Kind = "check_completion"
	KindRunAnalysis     Kind = "run_analysis"
)

// Message is one unit of exploration work.
type Message struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	RunID      string         `json:"run_id"`
	NodeID     string         `json:"node_id,omitempty"`
	Action     *action.Action `json:"action,omitempty"`
	Attempt    int            `json:"attempt,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// NewMessage builds a message with a fresh ID and timestamp.
func NewMessage(kind Kind, runID string) *Message {
	return &Message{
		ID:         uuid.NewString(),
		Kind:       kind,
		RunID:      runID,
		EnqueuedAt: time.Now(),
	}
}

// Encode serializes a message for the wire.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", m.Kind, err)
	}
	return data, nil
}

// Decode deserializes a wire payload.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &m, nil
}

// Queue is the job transport. Dequeue blocks until a message is available
// or the context is cancelled.
type Queue interface {
	Enqueue(ctx context.Context, m *Message) error
	EnqueueAfter(ctx context.Context, m *Message, delay time.Duration) error
	Dequeue(ctx context.Context) (*Message, error)
	Depth(ctx context.Context) (int64, error)
	Close() error
}
