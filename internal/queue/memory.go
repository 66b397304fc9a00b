package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Memory is an in-process queue for single-binary runs and tests.
type Memory struct {
	ch      chan *Message
	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	delayed int64
	closed  bool
}

// ErrClosed is returned for operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// NewMemory creates an in-process queue with a fixed buffer.
func NewMemory() *Memory {
	return &Memory{
		ch:     make(chan *Message, 4096),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Enqueue adds a message, blocking if the buffer is full.
func (q *Memory) Enqueue(ctx context.Context, m *Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.mu.Unlock()

	select {
	case q.ch <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueAfter schedules a message for delivery after the delay.
func (q *Memory) EnqueueAfter(ctx context.Context, m *Message, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, m)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.delayed++
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.delayed--
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		select {
		case q.ch <- m:
		default:
			// Buffer full at fire time; the message is dropped rather than
			// blocking the timer goroutine. Completion checks are periodic
			// so a lost one is re-issued by the next edge.
		}
	})
	q.timers[t] = struct{}{}
	q.mu.Unlock()
	return nil
}

// Dequeue blocks until a message arrives or the context is cancelled.
func (q *Memory) Dequeue(ctx context.Context) (*Message, error) {
	select {
	case m, ok := <-q.ch:
		if !ok {
			return nil, ErrClosed
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Depth reports queued plus scheduled-but-not-yet-due messages.
func (q *Memory) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ch)) + q.delayed, nil
}

// Close stops delayed timers and rejects further operations.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
		delete(q.timers, t)
	}
	return nil
}
