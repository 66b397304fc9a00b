// Package crawl drives a real browser through the states of a target
// application. It captures everything fingerprinting and action extraction
// need in one page evaluation, and executes structured actions with a
// bounded timeout per step.
package crawl

import (
	"context"
	"time"

	"sitegraph/internal/action"
	"sitegraph/internal/store"
)

// Snapshot is one observation of a rendered page state. It carries the raw
// material for fingerprinting (storage, inputs, content, element tuples) plus
// the artifact payloads persisted alongside the node.
type Snapshot struct {
	URL            string              `json:"url"`
	Title          string              `json:"title"`
	Elements       []action.Element    `json:"elements"`
	ContentSamples map[string][]string `json:"content_samples"`
	LocalStorage   map[string]string   `json:"local_storage"`
	SessionStorage map[string]string   `json:"session_storage"`
	InputValues    map[string]string   `json:"input_values"`
	HasModal       bool                `json:"has_modal"`
	HasDrawer      bool                `json:"has_drawer"`
	DOM            []byte              `json:"-"`
	CSS            []byte              `json:"-"`
	Screenshot     []byte              `json:"-"`
}

// Result is the outcome of executing one action.
type Result struct {
	Outcome store.Outcome
	Error   string
	Latency time.Duration
}

// Session is one browser context bound to a run.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Capture(ctx context.Context) (*Snapshot, error)
	Execute(ctx context.Context, act action.Action) Result
	Close() error
}

// Driver hands out sessions. The production implementation is Browser;
// worker tests substitute a scripted fake.
type Driver interface {
	Session(ctx context.Context, runID string) (Session, error)
	Shutdown(ctx context.Context) error
}
